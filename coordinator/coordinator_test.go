package coordinator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TEENet-io/turbomint/btcman/rpc"
	"github.com/TEENet-io/turbomint/btcman/utxo"
	"github.com/TEENet-io/turbomint/btcsync"
	"github.com/TEENet-io/turbomint/funding"
	"github.com/TEENet-io/turbomint/pipeline"
)

// chain answers confirmations from a map; unknown txids are not found.
type chain struct {
	mu    sync.Mutex
	confs map[string]uint
}

func (c *chain) GetConfirmations(txid string) (uint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.confs[txid]
	if !ok {
		return 0, rpc.ErrTxNotFound
	}
	return n, nil
}

func (c *chain) set(txid string, n uint) {
	c.mu.Lock()
	c.confs[txid] = n
	c.mu.Unlock()
}

type staticScanner struct {
	coins []utxo.Coin
}

func (s *staticScanner) Scan(context.Context) ([]utxo.Coin, error) {
	return utxo.Clone(s.coins), nil
}

func coinsOf(values ...int64) []utxo.Coin {
	out := make([]utxo.Coin, 0, len(values))
	for i, v := range values {
		out = append(out, utxo.Coin{TxID: fmt.Sprintf("%064x", i+1), Value: v, Source: utxo.SourceExisting})
	}
	return out
}

type env struct {
	ctx     context.Context
	db      *pipeline.StateDB
	pipe    *pipeline.Pipeline
	chain   *chain
	scanner *staticScanner
	coord   *Coordinator
}

func newEnv(t *testing.T, db *pipeline.StateDB, cfg Config, coins ...int64) *env {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	p, err := pipeline.New(ctx, db, nil)
	require.NoError(t, err)
	go p.Start(ctx)

	ch := &chain{confs: map[string]uint{}}
	w := btcsync.NewWatcher(ch, btcsync.MonitorConfig{PollInterval: 5 * time.Millisecond})
	t.Cleanup(w.StopAll)
	sc := &staticScanner{coins: coinsOf(coins...)}

	return &env{
		ctx:     ctx,
		db:      db,
		pipe:    p,
		chain:   ch,
		scanner: sc,
		coord:   New(ctx, cfg, p, w, sc, nil, nil),
	}
}

func waitStage(t *testing.T, p *pipeline.Pipeline, want pipeline.Stage) {
	require.Eventually(t, func() bool { return p.Stages().Current == want }, 5*time.Second, 2*time.Millisecond,
		"stage %s never reached", want)
}

func TestTrackMiningThenAutoAnalyze(t *testing.T) {
	db := pipeline.NewMemoryStateDB()
	defer db.Close()
	e := newEnv(t, db, Config{RequiredOutputs: 2, AutoAnalyze: true}, repeat(5000, 10)...)

	mining := pipeline.RandTxID()
	require.NoError(t, e.coord.TrackMining(e.ctx, mining))
	assert.Equal(t, pipeline.StageMiningConfirmationPending, e.pipe.Stages().Current)

	e.chain.set(mining, 1)
	waitStage(t, e.pipe, pipeline.StageMintingInProgress)

	snap := e.pipe.Snapshot()
	assert.Equal(t, funding.StrategySufficient, snap.FundingAnalysis.Strategy)
	require.Len(t, snap.MintingProgress.Outputs, 2)
	assert.Equal(t, e.scanner.coins[0], *snap.MintingProgress.Outputs[0].FundingUtxo)
	assert.Equal(t, e.scanner.coins[1], *snap.MintingProgress.Outputs[1].FundingUtxo)

	for i := 0; i < 2; i++ {
		require.NoError(t, e.coord.RecordMintingStep(e.ctx, i, pipeline.MintingCompleted, pipeline.OutputPatch{SpellTxid: "s"}))
	}
	assert.True(t, e.pipe.IsMintingLoopComplete())
	assert.Equal(t, pipeline.StageComplete, e.pipe.Stages().Current)

	require.NoError(t, e.coord.MintMore(e.ctx))
	assert.Equal(t, pipeline.StageIdle, e.pipe.Stages().Current)
	assert.Empty(t, e.coord.Monitors())
}

func TestAnalyzeUseAvailable(t *testing.T) {
	db := pipeline.NewMemoryStateDB()
	defer db.Close()
	e := newEnv(t, db, Config{RequiredOutputs: 5}, 6000, 6000, 6000)

	a, err := e.coord.Analyze(e.ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, funding.StrategyUseAvailable, a.Strategy)
	assert.Equal(t, uint(3), a.CanAfford)

	snap := e.pipe.Snapshot()
	assert.Equal(t, uint(3), snap.MintingProgress.Total)
	assert.False(t, pipeline.DeriveStages(snap).NeedsFunding)
}

func TestAnalyzeReorganizeWaitsForFunding(t *testing.T) {
	db := pipeline.NewMemoryStateDB()
	defer db.Close()
	e := newEnv(t, db, Config{}, 100000)

	_, err := e.coord.Analyze(e.ctx, 0)
	assert.ErrorIs(t, err, ErrNoRequiredOutputs)

	change := utxo.Coin{TxID: pipeline.RandTxID(), Vout: 1, Value: 2000, Source: utxo.SourceMiningTxPending}
	a, err := e.coord.Analyze(e.ctx, 3, change)
	require.NoError(t, err)
	assert.Equal(t, funding.StrategyReorganize, a.Strategy)
	assert.Equal(t, int64(102000), a.Mathematics.TotalInput)
	assert.Zero(t, e.pipe.Snapshot().MintingProgress.Total)

	_, err = e.coord.PrepareFunding(e.ctx)
	assert.ErrorIs(t, err, ErrNoFundingManager)
}

// A record saved right after the funding broadcast resumes past step 3,
// re-watches the funding tx and needs no signer.
func TestResumeAfterBroadcast(t *testing.T) {
	db := pipeline.NewMemoryStateDB()
	defer db.Close()
	ctx := context.Background()

	s, fundingTxid := broadcastRecord(t)
	require.NoError(t, db.SaveState(ctx, s))

	e := newEnv(t, db, Config{})
	f, err := e.coord.Resume(e.ctx)
	require.NoError(t, err)
	assert.True(t, f.Step3Complete)
	assert.Equal(t, pipeline.StageMintingInProgress, f.Current)

	st, ok := e.coord.watcher.Status(fundingTxid)
	require.True(t, ok)
	assert.Equal(t, fundingTxid, st.TxID)

	e.chain.set(fundingTxid, 1)
	require.Eventually(t, func() bool { return e.pipe.Snapshot().FundingConfirmed }, 5*time.Second, 2*time.Millisecond)
}

func TestResumeRepairsOnlyWhenForced(t *testing.T) {
	db := pipeline.NewMemoryStateDB()
	defer db.Close()
	ctx := context.Background()

	s, fundingTxid := broadcastRecord(t)
	s.MintingProgress = pipeline.MintingProgress{}
	s.FundingConfirmed = true
	require.NoError(t, db.SaveState(ctx, s))

	plain := newEnv(t, db, Config{})
	f, err := plain.coord.Resume(plain.ctx)
	require.NoError(t, err)
	assert.True(t, f.NeedsRepair)

	forced := newEnv(t, db, Config{ForceRescan: true})
	f, err = forced.coord.Resume(forced.ctx)
	require.NoError(t, err)
	assert.False(t, f.NeedsRepair)

	outs := forced.pipe.Snapshot().MintingProgress.Outputs
	require.Len(t, outs, 3)
	for i, o := range outs {
		assert.Equal(t, fundingTxid, o.FundingUtxo.TxID)
		assert.Equal(t, uint32(i), o.FundingUtxo.Vout)
		assert.Equal(t, "bcrt1pdest", o.FundingUtxo.Address)
	}
}

func TestAddMoreFunds(t *testing.T) {
	db := pipeline.NewMemoryStateDB()
	defer db.Close()
	s, fundingTxid := broadcastRecord(t)
	require.NoError(t, db.SaveState(context.Background(), s))

	e := newEnv(t, db, Config{RequiredOutputs: 3}, 100000, 50000)
	_, err := e.coord.Resume(e.ctx)
	require.NoError(t, err)

	require.NoError(t, e.coord.AddMoreFunds(e.ctx))
	_, watching := e.coord.watcher.Status(fundingTxid)
	assert.False(t, watching)

	snap := e.pipe.Snapshot()
	assert.Equal(t, s.MiningTxid, snap.MiningTxid)
	assert.Nil(t, snap.FundingAnalysis)
	assert.Equal(t, pipeline.StageFundingAnalysisPending, pipeline.DeriveStages(snap).Current)

	a, err := e.coord.Analyze(e.ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(150000), a.TotalValue)
}

func broadcastRecord(t *testing.T) (pipeline.PipelineState, string) {
	a := funding.NewAnalyzer(nil).Analyze(coinsOf(100000), 3)
	outs, err := funding.BuildOutputs(a, 0)
	require.NoError(t, err)

	fundingTxid := pipeline.RandTxID()
	s := pipeline.PipelineState{MiningTxid: pipeline.RandTxID()}
	for _, tr := range []pipeline.Transition{
		pipeline.WithMiningConfirmed(),
		pipeline.WithAnalysis(a),
		pipeline.WithBroadcast(pipeline.BroadcastRecord{TxID: fundingTxid, Destination: "bcrt1pdest", Outputs: outs},
			funding.ResultingCoins(a, &funding.Plan{Outputs: outs, Destination: "bcrt1pdest"}, fundingTxid), time.Now().UTC()),
	} {
		s, err = tr(s)
		require.NoError(t, err)
	}
	return s, fundingTxid
}

func repeat(v int64, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
