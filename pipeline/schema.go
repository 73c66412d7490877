package pipeline

const (
	KeyPipelineState = "pipeline_state"
	KeyWallet        = "wallet"
)

// table stores json documents under fixed keys
var kvTable = `CREATE TABLE IF NOT EXISTS kv (
	key VARCHAR(64) PRIMARY KEY NOT NULL,
	value TEXT NOT NULL,
	updatedAt INTEGER NOT NULL,
	CONSTRAINT chk_key CHECK (key != '')
);`
