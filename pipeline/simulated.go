package pipeline

import (
	"crypto/rand"
	"encoding/hex"

	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/turbomint/database"
)

// RandTxID returns a random 64-char hex txid.
func RandTxID() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		logger.Fatal(err)
	}
	return hex.EncodeToString(b)
}

// NewMemoryStateDB is a StateDB over a private in-memory sqlite database.
func NewMemoryStateDB() *StateDB {
	db, err := database.OpenSQLite(database.MemoryDSN)
	if err != nil {
		logger.Fatal(err)
	}
	st, err := NewStateDB(db)
	if err != nil {
		logger.Fatal(err)
	}
	return st
}
