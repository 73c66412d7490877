package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/turbomint/btcman/utxo"
	"github.com/TEENet-io/turbomint/funding"
)

var (
	ErrPipelineStopped = errors.New("pipeline writer stopped")
	ErrAlreadyStarted  = errors.New("pipeline writer already started")
)

type request struct {
	name   string
	apply  Transition
	result chan error
}

// Pipeline is the single writer of the record.
type Pipeline struct {
	store Store
	cfg   *Config
	now   func() time.Time

	requestCh chan *request
	stopped   chan struct{}
	started   atomic.Bool

	cache struct {
		current atomic.Pointer[PipelineState]
	}
}

// New loads the stored record before any request can run.
func New(ctx context.Context, store Store, cfg *Config) (*Pipeline, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	p := &Pipeline{
		store:     store,
		cfg:       cfg,
		now:       time.Now,
		requestCh: make(chan *request, cfg.ChannelSize),
		stopped:   make(chan struct{}),
	}

	s, ok, err := store.LoadState(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		f := DeriveStages(s)
		logger.WithFields(logger.Fields{
			"stage":       f.Current,
			"miningTxid":  s.MiningTxid,
			"fundingTxid": s.FundingTxid,
		}).Info("pipeline record loaded")
	}
	p.cache.current.Store(&s)
	return p, nil
}

// Start applies requests one at a time until ctx is done.
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	logger.Info("starting pipeline writer")
	defer logger.Info("stopping pipeline writer")
	defer close(p.stopped)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-p.requestCh:
			req.result <- p.handle(ctx, req)
		}
	}
}

func (p *Pipeline) handle(ctx context.Context, req *request) error {
	cur := p.cache.current.Load().Clone()
	next, err := req.apply(cur)
	if err != nil {
		logger.WithField("request", req.name).Debugf("transition refused: %v", err)
		return err
	}
	next.UpdatedAt = p.now().UTC()

	if err := p.store.SaveState(ctx, next); err != nil {
		logger.WithField("request", req.name).Errorf("failed to save pipeline record: err=%v", err)
		return err
	}
	p.cache.current.Store(&next)
	logger.WithFields(logger.Fields{"request": req.name, "stage": DeriveStages(next).Current}).Debug("pipeline updated")
	return nil
}

// Apply hands a transition to the writer and waits for its outcome.
func (p *Pipeline) Apply(ctx context.Context, name string, t Transition) error {
	req := &request{name: name, apply: t, result: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopped:
		return ErrPipelineStopped
	case p.requestCh <- req:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopped:
		// the writer may have answered right before stopping
		select {
		case err := <-req.result:
			return err
		default:
			return ErrPipelineStopped
		}
	case err := <-req.result:
		return err
	}
}

// Snapshot returns a deep copy of the current record.
func (p *Pipeline) Snapshot() PipelineState {
	return p.cache.current.Load().Clone()
}

func (p *Pipeline) Stages() StageFlags {
	return DeriveStages(*p.cache.current.Load())
}

func (p *Pipeline) IsMintingLoopComplete() bool {
	mp := p.cache.current.Load().MintingProgress
	return mp.Total > 0 && mp.Completed == mp.Total
}

func (p *Pipeline) SetMiningTx(ctx context.Context, txid string) error {
	return p.Apply(ctx, "mining_tx", WithMiningTx(txid))
}

func (p *Pipeline) MarkMiningConfirmed(ctx context.Context) error {
	return p.Apply(ctx, "mining_confirmed", WithMiningConfirmed())
}

func (p *Pipeline) SetAnalysis(ctx context.Context, a funding.Analysis) error {
	return p.Apply(ctx, "analysis", WithAnalysis(a))
}

func (p *Pipeline) RecordBroadcast(ctx context.Context, rec BroadcastRecord, coins []utxo.Coin) error {
	return p.Apply(ctx, "broadcast", WithBroadcast(rec, coins, p.now().UTC()))
}

func (p *Pipeline) MarkFundingConfirmed(ctx context.Context) error {
	return p.Apply(ctx, "funding_confirmed", WithFundingConfirmed())
}

func (p *Pipeline) InitializeMinting(ctx context.Context, total uint, coins []utxo.Coin, force bool) error {
	return p.Apply(ctx, "minting_init", WithMintingInitialized(total, coins, force, p.now().UTC()))
}

func (p *Pipeline) UpdateOutput(ctx context.Context, index int, status MintingStatus, patch OutputPatch) error {
	return p.Apply(ctx, "output_update", WithOutputUpdate(index, status, patch, p.now().UTC()))
}

func (p *Pipeline) RepairFundingReferences(ctx context.Context, coins []utxo.Coin) error {
	return p.Apply(ctx, "repair", WithFundingReferences(coins, p.now().UTC()))
}

func (p *Pipeline) ResetFromStep2(ctx context.Context) error {
	return p.Apply(ctx, "reset_step2", ResetFromStep2())
}

func (p *Pipeline) ResetForMintMore(ctx context.Context) error {
	return p.Apply(ctx, "reset_mint_more", ResetForMintMore())
}
