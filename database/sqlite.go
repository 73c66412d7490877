package database

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const MemoryDSN = ":memory:"

// OpenSQLite opens a sqlite3 database file. Every pooled connection to
// ":memory:" would get its own empty database, so the pool is pinned to a
// single connection.
func OpenSQLite(path string) (*sql.DB, error) {
	if path == "" {
		path = MemoryDSN
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
