package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newTestPipelineEnv(t *testing.T, db *StateDB) (
	p *Pipeline,
	ctx context.Context,
	cancel context.CancelFunc,
	done chan error,
) {
	ctx, cancel = context.WithCancel(context.Background())
	p, err := New(ctx, db, &Config{ChannelSize: 1})
	require.NoError(t, err)
	p.now = func() time.Time { return testNow }

	done = make(chan error, 1)
	go func() { done <- p.Start(ctx) }()
	t.Cleanup(cancel)
	return
}

func TestPipelineFlow(t *testing.T) {
	db := NewMemoryStateDB()
	defer db.Close()
	p, ctx, _, _ := newTestPipelineEnv(t, db)

	require.NoError(t, p.SetMiningTx(ctx, "aa"))
	assert.Equal(t, StageMiningConfirmationPending, p.Stages().Current)
	require.NoError(t, p.MarkMiningConfirmed(ctx))
	require.NoError(t, p.SetAnalysis(ctx, reorganize()))
	assert.Equal(t, StageFundingBroadcastPending, p.Stages().Current)

	require.NoError(t, p.RecordBroadcast(ctx, BroadcastRecord{TxID: "ff"}, fundingCoins("ff", 3)))
	assert.Equal(t, StageMintingInProgress, p.Stages().Current)
	require.NoError(t, p.MarkFundingConfirmed(ctx))

	for i := 0; i < 3; i++ {
		require.NoError(t, p.UpdateOutput(ctx, i, MintingCommitted, OutputPatch{CommitTxid: "c"}))
		require.NoError(t, p.UpdateOutput(ctx, i, MintingCompleted, OutputPatch{SpellTxid: "s"}))
	}
	assert.True(t, p.IsMintingLoopComplete())
	assert.Equal(t, StageComplete, p.Stages().Current)

	err := p.UpdateOutput(ctx, 0, MintingReady, OutputPatch{})
	assert.ErrorIs(t, err, ErrStatusRegression)

	stored, ok, err := db.LoadState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, p.Snapshot(), stored)
	assert.Equal(t, testNow, stored.UpdatedAt)

	require.NoError(t, p.ResetForMintMore(ctx))
	assert.Equal(t, StageIdle, p.Stages().Current)
}

func TestPipelineSnapshotIsCopy(t *testing.T) {
	db := NewMemoryStateDB()
	defer db.Close()
	p, ctx, _, _ := newTestPipelineEnv(t, db)

	require.NoError(t, p.SetMiningTx(ctx, "aa"))
	require.NoError(t, p.MarkMiningConfirmed(ctx))
	require.NoError(t, p.SetAnalysis(ctx, reorganize()))

	snap := p.Snapshot()
	snap.FundingAnalysis.InputUtxos[0].Value = 1
	snap.MiningTxid = "zz"
	assert.Equal(t, int64(100000), p.Snapshot().FundingAnalysis.InputUtxos[0].Value)
	assert.Equal(t, "aa", p.Snapshot().MiningTxid)
}

// A reloaded record with a broadcast reorganize tx is past step 3 without
// anything being signed again.
func TestPipelineRecovery(t *testing.T) {
	db := NewMemoryStateDB()
	defer db.Close()
	ctx := context.Background()

	s := broadcastState("ab")
	require.NoError(t, db.SaveState(ctx, s))

	p, err := New(ctx, db, nil)
	require.NoError(t, err)
	f := p.Stages()
	assert.True(t, f.Step1Complete)
	assert.True(t, f.Step2Complete)
	assert.True(t, f.NeedsFunding)
	assert.True(t, f.Step3Complete)
	assert.True(t, f.Step4Ready)
	assert.Equal(t, s.FundingTxid, p.Snapshot().FundingTxid)
}

func TestPipelineConcurrentOutputUpdates(t *testing.T) {
	db := NewMemoryStateDB()
	defer db.Close()
	p, ctx, _, _ := newTestPipelineEnv(t, db)

	require.NoError(t, p.InitializeMinting(ctx, 20, nil, false))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 20; i++ {
		i := i
		g.Go(func() error {
			if err := p.UpdateOutput(gctx, i, MintingCommitted, OutputPatch{}); err != nil {
				return err
			}
			return p.UpdateOutput(gctx, i, MintingCompleted, OutputPatch{})
		})
	}
	require.NoError(t, g.Wait())

	snap := p.Snapshot()
	assert.Equal(t, uint(20), snap.MintingProgress.Completed)
	assert.True(t, p.IsMintingLoopComplete())
}

func TestPipelineRefusedTransitionKeepsRecord(t *testing.T) {
	db := NewMemoryStateDB()
	defer db.Close()
	p, ctx, _, _ := newTestPipelineEnv(t, db)

	require.NoError(t, p.SetMiningTx(ctx, "aa"))
	before := p.Snapshot()
	assert.ErrorIs(t, p.MarkFundingConfirmed(ctx), ErrNotBroadcasted)
	assert.Equal(t, before, p.Snapshot())
}

func TestPipelineStopped(t *testing.T) {
	db := NewMemoryStateDB()
	defer db.Close()
	p, _, cancel, done := newTestPipelineEnv(t, db)

	cancel()
	assert.True(t, errors.Is(<-done, context.Canceled))

	err := p.SetMiningTx(context.Background(), "aa")
	assert.ErrorIs(t, err, ErrPipelineStopped)
	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyStarted)
}

func TestPipelineResetFromStep2(t *testing.T) {
	db := NewMemoryStateDB()
	defer db.Close()
	ctx := context.Background()
	require.NoError(t, db.SaveState(ctx, broadcastState("ab")))

	p, ctx, _, _ := newTestPipelineEnv(t, db)
	require.NoError(t, p.ResetFromStep2(ctx))
	assert.Equal(t, StageFundingAnalysisPending, p.Stages().Current)
	require.NoError(t, p.SetAnalysis(ctx, sufficient()))
	assert.False(t, p.Stages().NeedsFunding)
}
