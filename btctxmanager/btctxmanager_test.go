package btctxmanager

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TEENet-io/turbomint/btcman/assembler"
	"github.com/TEENet-io/turbomint/btcman/utxo"
	"github.com/TEENet-io/turbomint/btcvault"
	"github.com/TEENet-io/turbomint/database"
	"github.com/TEENet-io/turbomint/funding"
	"github.com/TEENet-io/turbomint/pipeline"
)

const REGTEST_P2TR_PRIV = "cUcHsdBfXphhqLayGuxULxJeABDX74kMtL2gdfyUMVeke3ZJsKQ6"

type fakeBroadcaster struct {
	err   error
	calls int
	hex   string
}

func (b *fakeBroadcaster) Broadcast(signedHex string) (string, string, error) {
	b.calls++
	b.hex = signedHex
	if b.err != nil {
		return "", "", b.err
	}
	_, tx, err := assembler.DecodeHex(signedHex, nil)
	if err != nil {
		return "", "", err
	}
	return tx.TxID, "https://mempool.space/testnet4/tx/" + tx.TxID, nil
}

type fixedQuote int64

func (q fixedQuote) CalculateFee(context.Context, uint, uint) (int64, error) {
	return int64(q), nil
}

type testEnv struct {
	ctx         context.Context
	pipe        *pipeline.Pipeline
	vault       *btcvault.CoinVault
	broadcaster *fakeBroadcaster
	mgr         *FundingTxManager
	coins       []utxo.Coin
}

func newTestEnv(t *testing.T, values ...int64) *testEnv {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	db := pipeline.NewMemoryStateDB()
	t.Cleanup(db.Close)
	p, err := pipeline.New(ctx, db, nil)
	require.NoError(t, err)
	go p.Start(ctx)

	signer, err := assembler.NewTaprootSigner(REGTEST_P2TR_PRIV, assembler.GetRegtestParams())
	require.NoError(t, err)

	sqlDB, err := database.OpenSQLite(database.MemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	storage, err := btcvault.NewCoinSQLiteStorage(sqlDB, "mgr")
	require.NoError(t, err)
	vault := btcvault.NewCoinVault(signer.Address(), storage)

	coins := make([]utxo.Coin, 0, len(values))
	for i, v := range values {
		coins = append(coins, utxo.Coin{TxID: fmt.Sprintf("%064x", i+1), Vout: 0, Value: v, Address: signer.Address(), Source: utxo.SourceExisting})
	}
	_, err = vault.AddCoins(coins)
	require.NoError(t, err)

	b := &fakeBroadcaster{}
	planner := funding.NewPlanner(signer, assembler.GetRegtestParams(), nil)
	mgr := NewFundingTxManager(p, planner, b).WithVault(vault).WithFeeQuoter(fixedQuote(2000))

	require.NoError(t, p.SetMiningTx(ctx, pipeline.RandTxID()))
	require.NoError(t, p.MarkMiningConfirmed(ctx))
	return &testEnv{ctx: ctx, pipe: p, vault: vault, broadcaster: b, mgr: mgr, coins: coins}
}

func TestPrepareAndBroadcast(t *testing.T) {
	env := newTestEnv(t, 60000, 40000)
	require.NoError(t, env.pipe.SetAnalysis(env.ctx, funding.NewAnalyzer(nil).Analyze(env.coins, 3)))

	plan, err := env.mgr.Prepare(env.ctx)
	require.NoError(t, err)
	require.NotNil(t, env.mgr.Pending())
	assert.Zero(t, env.broadcaster.calls)
	// preparing does not touch the record
	assert.False(t, env.pipe.Snapshot().FundingBroadcasted)

	rec, err := env.mgr.Broadcast(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, plan.TxID, rec.TxID)
	assert.Equal(t, plan.SignedHex, env.broadcaster.hex)
	assert.Nil(t, env.mgr.Pending())

	snap := env.pipe.Snapshot()
	assert.True(t, snap.FundingBroadcasted)
	assert.Equal(t, rec.TxID, snap.FundingTxid)
	assert.Equal(t, rec.ExplorerURL, snap.FundingTransaction.ExplorerURL)
	require.Len(t, snap.MintingProgress.Outputs, 3)
	for i, o := range snap.MintingProgress.Outputs {
		assert.Equal(t, rec.TxID, o.FundingUtxo.TxID)
		assert.Equal(t, uint32(i), o.FundingUtxo.Vout)
		assert.Equal(t, utxo.SourceFundingTx, o.FundingUtxo.Source)
	}
	flags := env.pipe.Stages()
	assert.True(t, flags.Step3Complete)
	assert.False(t, flags.NeedsRepair)

	// inputs spent, minting outputs locked, change never recorded
	sum, err := env.vault.SumMoney()
	require.NoError(t, err)
	assert.Zero(t, sum)
	minted, err := env.vault.Get(rec.TxID, 0)
	require.NoError(t, err)
	assert.True(t, minted.Lockup)

	_, err = env.mgr.Broadcast(env.ctx)
	assert.ErrorIs(t, err, ErrNoPendingPlan)
	_, err = env.mgr.Prepare(env.ctx)
	assert.ErrorIs(t, err, pipeline.ErrAlreadyBroadcasted)
}

func TestBroadcastErrorDropsPlan(t *testing.T) {
	env := newTestEnv(t, 100000)
	require.NoError(t, env.pipe.SetAnalysis(env.ctx, funding.NewAnalyzer(nil).Analyze(env.coins, 3)))

	_, err := env.mgr.Prepare(env.ctx)
	require.NoError(t, err)

	rejected := errors.New("bad-txns-inputs-missingorspent")
	env.broadcaster.err = rejected
	_, err = env.mgr.Broadcast(env.ctx)
	assert.Equal(t, rejected, err)
	assert.Nil(t, env.mgr.Pending())
	assert.False(t, env.pipe.Snapshot().FundingBroadcasted)

	env.broadcaster.err = nil
	_, err = env.mgr.Broadcast(env.ctx)
	assert.ErrorIs(t, err, ErrNoPendingPlan)
	assert.Equal(t, 1, env.broadcaster.calls)
}

func TestPrepareRefusals(t *testing.T) {
	env := newTestEnv(t, 5000, 5000, 5000)

	_, err := env.mgr.Prepare(env.ctx)
	assert.ErrorIs(t, err, pipeline.ErrNoAnalysis)

	require.NoError(t, env.pipe.SetAnalysis(env.ctx, funding.NewAnalyzer(nil).Analyze(env.coins, 3)))
	_, err = env.mgr.Prepare(env.ctx)
	assert.ErrorIs(t, err, pipeline.ErrNoFundingNeeded)

	cancelled, cancel := context.WithCancel(env.ctx)
	cancel()
	_, err = env.mgr.Prepare(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBroadcastStalePlan(t *testing.T) {
	env := newTestEnv(t, 60000, 40000)
	require.NoError(t, env.pipe.SetAnalysis(env.ctx, funding.NewAnalyzer(nil).Analyze(env.coins, 3)))
	_, err := env.mgr.Prepare(env.ctx)
	require.NoError(t, err)

	// new analysis over fewer coins before the user broadcasts
	require.NoError(t, env.pipe.SetAnalysis(env.ctx, funding.NewAnalyzer(nil).Analyze(env.coins[:1], 3)))
	_, err = env.mgr.Broadcast(env.ctx)
	assert.ErrorIs(t, err, ErrStalePlan)
	assert.Zero(t, env.broadcaster.calls)
}

func TestSameInputs(t *testing.T) {
	a := []utxo.Coin{{TxID: "aa", Vout: 1, Value: 5}}
	assert.True(t, sameInputs(a, utxo.Clone(a)))
	assert.False(t, sameInputs(a, nil))
	assert.False(t, sameInputs(a, []utxo.Coin{{TxID: "aa", Vout: 2, Value: 5}}))
}
