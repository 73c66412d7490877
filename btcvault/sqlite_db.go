package btcvault

import (
	"database/sql"
	"fmt"

	"github.com/TEENet-io/turbomint/btcman/utxo"
	"github.com/TEENet-io/turbomint/database"
)

const coinColumns = `tx_id, vout, amount, address, source, lockup, spent, timeout`

// CoinSQLiteStorage implements CoinStorage for SQLite
type CoinSQLiteStorage struct {
	tableName string
	db        *sql.DB
}

// NewCoinSQLiteStorage creates the storage on an already opened database.
// uniqueID separates the coins of different wallets in one file.
func NewCoinSQLiteStorage(db *sql.DB, uniqueID string) (*CoinSQLiteStorage, error) {
	storage := &CoinSQLiteStorage{db: db, tableName: "vault_coin_" + uniqueID}
	if err := storage.init(); err != nil {
		return nil, err
	}
	return storage, nil
}

// NewCoinSQLiteStorageFromFile opens dbFilePath and creates the storage on it.
func NewCoinSQLiteStorageFromFile(dbFilePath string, uniqueID string) (*CoinSQLiteStorage, error) {
	db, err := database.OpenSQLite(dbFilePath)
	if err != nil {
		return nil, err
	}
	return NewCoinSQLiteStorage(db, uniqueID)
}

// init creates the coin table and its tx_id index if not existed before.
func (s *CoinSQLiteStorage) init() error {
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		tx_id TEXT NOT NULL,
		vout INTEGER NOT NULL,
		amount INTEGER NOT NULL,
		address TEXT,
		source TEXT,
		lockup BOOLEAN NOT NULL DEFAULT 0,
		spent BOOLEAN NOT NULL DEFAULT 0,
		timeout INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (tx_id, vout)
	);
	CREATE INDEX IF NOT EXISTS idx_%s_tx_id ON %s (tx_id);
	`, s.tableName, s.tableName, s.tableName)
	_, err := s.db.Exec(query)
	return err
}

func (s *CoinSQLiteStorage) InsertCoin(coin VaultCoin) error {
	query := fmt.Sprintf(`
	INSERT INTO %s (`+coinColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?);
	`, s.tableName)
	_, err := s.db.Exec(query, coin.TxID, coin.Vout, coin.Amount, coin.Address, string(coin.Source), coin.Lockup, coin.Spent, coin.Timeout)
	return err
}

func (s *CoinSQLiteStorage) QueryAllUsableCoins() ([]VaultCoin, error) {
	return s.queryCoins(`WHERE lockup = 0 AND spent = 0`)
}

func (s *CoinSQLiteStorage) QueryByTxID(txID string) ([]VaultCoin, error) {
	return s.queryCoins(`WHERE tx_id = ?`, txID)
}

func (s *CoinSQLiteStorage) QueryByTxIDAndVout(txID string, vout uint32) (*VaultCoin, error) {
	coins, err := s.queryCoins(`WHERE tx_id = ? AND vout = ?`, txID, vout)
	if err != nil {
		return nil, err
	}
	if len(coins) == 0 {
		return nil, nil // No matching coin found
	}
	return &coins[0], nil
}

// QueryExpiredAndLockedCoins: all locked coins with 0 < timeout < t.
func (s *CoinSQLiteStorage) QueryExpiredAndLockedCoins(t int64) ([]VaultCoin, error) {
	return s.queryCoins(`WHERE lockup = 1 AND timeout > 0 AND timeout < ?`, t)
}

func (s *CoinSQLiteStorage) SetLockup(txID string, vout uint32, lockup bool, timeout int64) error {
	query := fmt.Sprintf(`
	UPDATE %s
	SET lockup = ?, timeout = ?
	WHERE tx_id = ? AND vout = ?;
	`, s.tableName)
	_, err := s.db.Exec(query, lockup, timeout, txID, vout)
	return err
}

func (s *CoinSQLiteStorage) SetSpent(txID string, vout uint32, spent bool) error {
	query := fmt.Sprintf(`
	UPDATE %s
	SET spent = ?
	WHERE tx_id = ? AND vout = ?;
	`, s.tableName)
	_, err := s.db.Exec(query, spent, txID, vout)
	return err
}

// SumMoney only counts the unspent & not locked up coins.
func (s *CoinSQLiteStorage) SumMoney() (int64, error) {
	// If SUM(amount) == NULL then will return 0
	query := fmt.Sprintf(`
	SELECT COALESCE(SUM(amount), 0)
	FROM %s
	WHERE lockup = 0 AND spent = 0;
	`, s.tableName)
	var total int64
	if err := s.db.QueryRow(query).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *CoinSQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *CoinSQLiteStorage) queryCoins(where string, args ...any) ([]VaultCoin, error) {
	query := fmt.Sprintf(`SELECT `+coinColumns+` FROM %s %s ORDER BY rowid;`, s.tableName, where)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var coins []VaultCoin
	for rows.Next() {
		var (
			c      VaultCoin
			source string
			addr   sql.NullString
		)
		if err := rows.Scan(&c.TxID, &c.Vout, &c.Amount, &addr, &source, &c.Lockup, &c.Spent, &c.Timeout); err != nil {
			return nil, err
		}
		c.Address = addr.String
		c.Source = utxo.Source(source)
		coins = append(coins, c)
	}
	return coins, rows.Err()
}
