package btcvault

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TEENet-io/turbomint/btcman/utxo"
	"github.com/TEENet-io/turbomint/database"
)

func txid(i int) string {
	return fmt.Sprintf("%064x", i)
}

func newTestVault(t *testing.T) *CoinVault {
	db, err := database.OpenSQLite(database.MemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	storage, err := NewCoinSQLiteStorage(db, "test")
	require.NoError(t, err)
	return NewCoinVault("bcrt1ptest", storage)
}

func coin(i int, value int64) utxo.Coin {
	return utxo.Coin{TxID: txid(i), Vout: uint32(i % 3), Value: value, Address: "bcrt1ptest", Source: utxo.SourceExisting}
}

func TestAddCoinIgnoresDuplicates(t *testing.T) {
	v := newTestVault(t)

	added, err := v.AddCoin(coin(1, 6000))
	require.NoError(t, err)
	assert.True(t, added)

	added, err = v.AddCoin(coin(1, 6000))
	require.NoError(t, err)
	assert.False(t, added)

	n, err := v.AddCoins([]utxo.Coin{coin(1, 6000), coin(2, 7000), coin(3, 8000)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sum, err := v.SumMoney()
	require.NoError(t, err)
	assert.Equal(t, int64(21000), sum)
}

func TestUsableCoinsKeepOrder(t *testing.T) {
	v := newTestVault(t)
	want := []utxo.Coin{coin(9, 100000), coin(2, 5000), coin(5, 6000)}
	_, err := v.AddCoins(want)
	require.NoError(t, err)

	got, err := v.UsableCoins()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLockAndSpend(t *testing.T) {
	v := newTestVault(t)
	_, err := v.AddCoins([]utxo.Coin{coin(1, 6000), coin(2, 7000), coin(3, 8000)})
	require.NoError(t, err)

	require.NoError(t, v.MarkSpent([]utxo.Coin{coin(1, 6000)}))
	require.NoError(t, v.LockCoins([]utxo.Coin{coin(2, 7000)}, 0))

	// unknown coins are recorded then locked
	minted := utxo.Coin{TxID: txid(77), Vout: 0, Value: 5000, Source: utxo.SourceFundingTx}
	require.NoError(t, v.LockCoins([]utxo.Coin{minted}, DefaultLockTTL))

	usable, err := v.UsableCoins()
	require.NoError(t, err)
	require.Len(t, usable, 1)
	assert.Equal(t, txid(3), usable[0].TxID)

	sum, err := v.SumMoney()
	require.NoError(t, err)
	assert.Equal(t, int64(8000), sum)

	got, err := v.Get(txid(77), 0)
	require.NoError(t, err)
	assert.True(t, got.Lockup)
	assert.Equal(t, utxo.SourceFundingTx, got.Source)

	spent, err := v.Get(txid(1), 1)
	require.NoError(t, err)
	assert.True(t, spent.Spent)
}

func TestReleaseByExpire(t *testing.T) {
	v := newTestVault(t)
	base := time.Unix(1_700_000_000, 0)
	v.now = func() time.Time { return base }

	require.NoError(t, v.LockCoins([]utxo.Coin{coin(1, 6000)}, time.Minute))
	require.NoError(t, v.LockCoins([]utxo.Coin{coin(2, 7000)}, 0))

	n, err := v.ReleaseByExpire()
	require.NoError(t, err)
	assert.Zero(t, n)

	v.now = func() time.Time { return base.Add(2 * time.Minute) }
	n, err = v.ReleaseByExpire()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	usable, err := v.UsableCoins()
	require.NoError(t, err)
	require.Len(t, usable, 1)
	assert.Equal(t, txid(1), usable[0].TxID)
}

func TestReleaseByCommand(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.LockCoins([]utxo.Coin{coin(4, 9000)}, 0))

	assert.ErrorIs(t, v.ReleaseByCommand(txid(5), 0), ErrCoinNotFound)
	require.NoError(t, v.ReleaseByCommand(txid(4), 1))

	sum, err := v.SumMoney()
	require.NoError(t, err)
	assert.Equal(t, int64(9000), sum)

	_, err = v.Get(txid(99), 0)
	assert.ErrorIs(t, err, ErrCoinNotFound)
}
