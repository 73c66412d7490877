package btcvault

import (
	"errors"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/turbomint/btcman/utxo"
)

const (
	DefaultLockTTL = 30 * time.Minute
)

var ErrCoinNotFound = errors.New("coin not found in vault")

// CoinVault records the coins of one wallet and which of them are
// reserved (locked) or consumed (spent).
type CoinVault struct {
	Owner    string      // the wallet the coins belong to
	backend  CoinStorage // the backend engine
	updateMu sync.Mutex  // prevent concurrent updates
	now      func() time.Time
}

// NewCoinVault uses any backend that implements CoinStorage.
func NewCoinVault(owner string, backend CoinStorage) *CoinVault {
	return &CoinVault{Owner: owner, backend: backend, now: time.Now}
}

// AddCoin records a coin once. A coin already in the vault keeps its
// lockup and spent flags, and added is false.
func (cv *CoinVault) AddCoin(c utxo.Coin) (added bool, err error) {
	cv.updateMu.Lock()
	defer cv.updateMu.Unlock()
	return cv.addCoin(fromCoin(c))
}

func (cv *CoinVault) addCoin(vc VaultCoin) (bool, error) {
	old, err := cv.backend.QueryByTxIDAndVout(vc.TxID, vc.Vout)
	if err != nil {
		return false, err
	}
	// Don't duplicate insert!
	if old != nil {
		return false, nil
	}
	return true, cv.backend.InsertCoin(vc)
}

// AddCoins records every coin and returns how many were new.
func (cv *CoinVault) AddCoins(coins []utxo.Coin) (int, error) {
	cv.updateMu.Lock()
	defer cv.updateMu.Unlock()

	n := 0
	for _, c := range coins {
		added, err := cv.addCoin(fromCoin(c))
		if err != nil {
			return n, err
		}
		if added {
			n++
		}
	}
	return n, nil
}

// UsableCoins returns the coins neither locked nor spent, in the order
// they were first recorded.
func (cv *CoinVault) UsableCoins() ([]utxo.Coin, error) {
	vcs, err := cv.backend.QueryAllUsableCoins()
	if err != nil {
		return nil, err
	}
	coins := make([]utxo.Coin, 0, len(vcs))
	for _, vc := range vcs {
		coins = append(coins, vc.Coin())
	}
	return coins, nil
}

// Get returns the vault's view of one coin.
func (cv *CoinVault) Get(txID string, vout uint32) (*VaultCoin, error) {
	vc, err := cv.backend.QueryByTxIDAndVout(txID, vout)
	if err != nil {
		return nil, err
	}
	if vc == nil {
		return nil, ErrCoinNotFound
	}
	return vc, nil
}

// LockCoins reserves coins, recording unknown ones first. A ttl of 0
// locks until released by command.
func (cv *CoinVault) LockCoins(coins []utxo.Coin, ttl time.Duration) error {
	cv.updateMu.Lock()
	defer cv.updateMu.Unlock()

	var timeout int64
	if ttl > 0 {
		timeout = cv.now().Add(ttl).Unix()
	}
	for _, c := range coins {
		if _, err := cv.addCoin(fromCoin(c)); err != nil {
			return err
		}
		if err := cv.backend.SetLockup(c.TxID, c.Vout, true, timeout); err != nil {
			return err
		}
	}
	logger.WithFields(logger.Fields{"owner": cv.Owner, "coins": len(coins), "timeout": timeout}).Debug("coins locked")
	return nil
}

// MarkSpent flags coins consumed by a broadcast tx.
func (cv *CoinVault) MarkSpent(coins []utxo.Coin) error {
	cv.updateMu.Lock()
	defer cv.updateMu.Unlock()

	for _, c := range coins {
		if _, err := cv.addCoin(fromCoin(c)); err != nil {
			return err
		}
		if err := cv.backend.SetSpent(c.TxID, c.Vout, true); err != nil {
			return err
		}
	}
	return nil
}

// ReleaseByExpire unlocks coins whose lock timeout has passed and
// returns how many were released.
func (cv *CoinVault) ReleaseByExpire() (int, error) {
	cv.updateMu.Lock()
	defer cv.updateMu.Unlock()

	vcs, err := cv.backend.QueryExpiredAndLockedCoins(cv.now().Unix())
	if err != nil {
		return 0, err
	}
	for _, vc := range vcs {
		if err := cv.backend.SetLockup(vc.TxID, vc.Vout, false, 0); err != nil {
			return 0, err
		}
	}
	return len(vcs), nil
}

// ReleaseByCommand unlocks one coin.
func (cv *CoinVault) ReleaseByCommand(txID string, vout uint32) error {
	cv.updateMu.Lock()
	defer cv.updateMu.Unlock()

	vc, err := cv.backend.QueryByTxIDAndVout(txID, vout)
	if err != nil {
		return err
	}
	if vc == nil {
		return ErrCoinNotFound
	}
	return cv.backend.SetLockup(txID, vout, false, 0)
}

// SumMoney is the value of the usable coins.
func (cv *CoinVault) SumMoney() (int64, error) {
	return cv.backend.SumMoney()
}
