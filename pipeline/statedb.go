package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/TEENet-io/turbomint/database"
)

// Store is the persisted record the pipeline needs.
type Store interface {
	LoadState(ctx context.Context) (PipelineState, bool, error)
	SaveState(ctx context.Context, s PipelineState) error
}

type StateDB struct {
	stmtCache *database.StmtCache
}

func NewStateDB(db *sql.DB) (*StateDB, error) {
	// 1. Create the tables.
	if _, err := db.Exec(kvTable); err != nil {
		return nil, err
	}

	// 2. A stmt cache + db.
	return &StateDB{
		stmtCache: database.NewStmtCache(db),
	}, nil
}

func (st *StateDB) Close() {
	st.stmtCache.Clear()
}

func (st *StateDB) LoadState(ctx context.Context) (PipelineState, bool, error) {
	var s PipelineState
	ok, err := st.getValue(ctx, KeyPipelineState, &s)
	return s, ok, err
}

// SaveState replaces the whole record in one transaction.
func (st *StateDB) SaveState(ctx context.Context, s PipelineState) error {
	return st.setValue(ctx, KeyPipelineState, s)
}

func (st *StateDB) LoadWallet(ctx context.Context) (Wallet, bool, error) {
	var w Wallet
	ok, err := st.getValue(ctx, KeyWallet, &w)
	return w, ok, err
}

func (st *StateDB) SaveWallet(ctx context.Context, w Wallet) error {
	return st.setValue(ctx, KeyWallet, w)
}

func (st *StateDB) getValue(ctx context.Context, key string, v any) (bool, error) {
	query := `SELECT value FROM kv WHERE key = ?`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return false, err
	}

	var value string
	if err := stmt.QueryRowContext(ctx, key).Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}

	if err := json.Unmarshal([]byte(value), v); err != nil {
		return false, err
	}
	return true, nil
}

func (st *StateDB) setValue(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	query := `INSERT OR REPLACE INTO kv (key, value, updatedAt) VALUES (?, ?, ?)`
	return st.stmtCache.ExecTx(ctx, query, key, string(b), time.Now().Unix())
}
