package btcvault

import "github.com/TEENet-io/turbomint/btcman/utxo"

// VaultCoin is a wallet coin as the vault tracks it.
type VaultCoin struct {
	TxID    string      // 64-character hexadecimal string (no 0x prefix)
	Vout    uint32      // Output index
	Amount  int64       // Amount in satoshis
	Address string      // Owning wallet address
	Source  utxo.Source // Where the coin was observed
	Lockup  bool        // Reserved for a plan or a minting output, default is false
	Spent   bool        // Consumed by a broadcast tx, default is false
	Timeout int64       // Unix timestamp in seconds when the lock expires, 0 means never
}

func (vc VaultCoin) Coin() utxo.Coin {
	return utxo.Coin{
		TxID:    vc.TxID,
		Vout:    vc.Vout,
		Value:   vc.Amount,
		Address: vc.Address,
		Source:  vc.Source,
	}
}

func fromCoin(c utxo.Coin) VaultCoin {
	return VaultCoin{
		TxID:    c.TxID,
		Vout:    c.Vout,
		Amount:  c.Value,
		Address: c.Address,
		Source:  c.Source,
	}
}

// CoinStorage defines the database operations on VaultCoin.
// Queries returning lists keep insertion order.
type CoinStorage interface {
	// InsertCoin inserts a new coin, failing on a duplicate (txID, vout)
	InsertCoin(coin VaultCoin) error

	// QueryAllUsableCoins selects coins that are neither locked nor spent
	QueryAllUsableCoins() ([]VaultCoin, error)

	// QueryByTxID retrieves all coins created by txID
	QueryByTxID(txID string) ([]VaultCoin, error)

	// QueryByTxIDAndVout retrieves one coin, nil if unknown
	QueryByTxIDAndVout(txID string, vout uint32) (*VaultCoin, error)

	// QueryExpiredAndLockedCoins returns locked coins whose timeout is set and before t
	QueryExpiredAndLockedCoins(t int64) ([]VaultCoin, error)

	// SetLockup sets lockup and timeout together
	SetLockup(txID string, vout uint32, lockup bool, timeout int64) error

	// SetSpent sets the spent status
	SetSpent(txID string, vout uint32, spent bool) error

	// SumMoney adds up the coins that are neither locked nor spent
	SumMoney() (int64, error)
}
