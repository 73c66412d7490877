/*
Package coordinator drives the pipeline through its stages: it turns
monitor results, scans and analyses into pipeline requests, and rebuilds
the running monitors after a restart.
*/
package coordinator

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/turbomint/btcman/utxo"
	"github.com/TEENet-io/turbomint/btcsync"
	"github.com/TEENet-io/turbomint/btctxmanager"
	"github.com/TEENet-io/turbomint/funding"
	"github.com/TEENet-io/turbomint/pipeline"
)

var (
	ErrNoRequiredOutputs = errors.New("required output count not set")
	ErrNoFundingManager  = errors.New("no funding tx manager configured")
)

// Scanner returns the wallet's usable coins.
type Scanner interface {
	Scan(ctx context.Context) ([]utxo.Coin, error)
}

type Config struct {
	RequiredOutputs uint // default N for Analyze
	AutoAnalyze     bool // analyse as soon as the mining tx confirms
	ForceRescan     bool // repair outputs missing funding references on Resume
}

type Coordinator struct {
	ctx      context.Context // lifetime of the monitors
	cfg      Config
	pipe     *pipeline.Pipeline
	watcher  *btcsync.Watcher
	scanner  Scanner
	analyzer *funding.Analyzer
	txmgr    *btctxmanager.FundingTxManager
}

// New binds monitors started later to ctx. txmgr may be nil when funding
// txs are handled elsewhere.
func New(ctx context.Context, cfg Config, p *pipeline.Pipeline, w *btcsync.Watcher, s Scanner, az *funding.Analyzer, txmgr *btctxmanager.FundingTxManager) *Coordinator {
	if az == nil {
		az = funding.NewAnalyzer(nil)
	}
	return &Coordinator{ctx: ctx, cfg: cfg, pipe: p, watcher: w, scanner: s, analyzer: az, txmgr: txmgr}
}

func (c *Coordinator) Pipeline() *pipeline.Pipeline { return c.pipe }

// TrackMining records the mining tx and watches it until it confirms.
func (c *Coordinator) TrackMining(ctx context.Context, txid string) error {
	prev := c.pipe.Snapshot().MiningTxid
	if err := c.pipe.SetMiningTx(ctx, txid); err != nil {
		return err
	}
	if prev != "" && prev != txid {
		c.watcher.Stop(prev)
	}
	return c.watchMining(txid)
}

func (c *Coordinator) watchMining(txid string) error {
	_, err := c.watcher.Watch(c.ctx, txid, btcsync.Hooks{
		OnConfirmed: func(txid string, _ uint) {
			if c.pipe.Snapshot().MiningTxid != txid {
				return
			}
			if err := c.pipe.MarkMiningConfirmed(c.ctx); err != nil {
				logger.WithField("txid", txid).Errorf("failed to record mining confirmation: err=%v", err)
				return
			}
			if c.cfg.AutoAnalyze && c.cfg.RequiredOutputs > 0 {
				if _, err := c.Analyze(c.ctx, 0); err != nil {
					logger.Warnf("analysis after mining confirmation failed: %v", err)
				}
			}
		},
		OnTimeout: func(txid string) {
			logger.WithField("txid", txid).Warn("mining tx not found, track it again once it is broadcast")
		},
	})
	return err
}

func (c *Coordinator) watchFunding(txid string) error {
	_, err := c.watcher.Watch(c.ctx, txid, btcsync.Hooks{
		OnConfirmed: func(txid string, _ uint) {
			if c.pipe.Snapshot().FundingTxid != txid {
				return
			}
			if err := c.pipe.MarkFundingConfirmed(c.ctx); err != nil {
				logger.WithField("txid", txid).Errorf("failed to record funding confirmation: err=%v", err)
			}
		},
		OnTimeout: func(txid string) {
			logger.WithField("txid", txid).Warn("funding tx not found after grace period")
		},
	})
	return err
}

// Analyze scans the wallet, adds extra coins (such as the confirmed mining
// change) and stores a fresh analysis. requiredOutputs 0 means the
// configured count. Without a funding tx the minting outputs are laid out
// right away from the selected coins.
func (c *Coordinator) Analyze(ctx context.Context, requiredOutputs uint, extra ...utxo.Coin) (funding.Analysis, error) {
	if requiredOutputs == 0 {
		requiredOutputs = c.cfg.RequiredOutputs
	}
	if requiredOutputs == 0 {
		return funding.Analysis{}, ErrNoRequiredOutputs
	}

	coins, err := c.scanner.Scan(ctx)
	if err != nil {
		return funding.Analysis{}, err
	}
	coins = utxo.Dedup(append(coins, extra...))

	a := c.analyzer.Analyze(coins, requiredOutputs)
	logger.WithFields(logger.Fields{
		"strategy":  a.Strategy,
		"canAfford": a.CanAfford,
		"coins":     len(coins),
		"total":     utxo.SatsToBTC(a.TotalValue).String(),
	}).Info("funding analysed")

	if err := c.pipe.SetAnalysis(ctx, a); err != nil {
		return a, err
	}
	if a.Failed() || a.NeedsSplitting {
		return a, nil
	}

	resulting := funding.ResultingCoins(a, nil, "")
	if err := c.pipe.InitializeMinting(ctx, uint(len(resulting)), resulting, false); err != nil {
		return a, err
	}
	return a, nil
}

// PrepareFunding signs the funding tx for the stored analysis.
func (c *Coordinator) PrepareFunding(ctx context.Context) (*funding.Plan, error) {
	if c.txmgr == nil {
		return nil, ErrNoFundingManager
	}
	return c.txmgr.Prepare(ctx)
}

// BroadcastFunding submits the prepared funding tx and watches it.
func (c *Coordinator) BroadcastFunding(ctx context.Context) (*pipeline.BroadcastRecord, error) {
	if c.txmgr == nil {
		return nil, ErrNoFundingManager
	}
	rec, err := c.txmgr.Broadcast(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.watchFunding(rec.TxID); err != nil {
		return rec, err
	}
	return rec, nil
}

// Resume restarts the monitors a loaded record still needs. Completed
// stages are never redone and nothing is signed again.
func (c *Coordinator) Resume(ctx context.Context) (pipeline.StageFlags, error) {
	s := c.pipe.Snapshot()
	f := pipeline.DeriveStages(s)
	newLogger := logger.WithField("stage", f.Current)

	if s.MiningTxid != "" && !s.MiningConfirmed {
		if err := c.watchMining(s.MiningTxid); err != nil {
			return f, err
		}
		newLogger.WithField("txid", s.MiningTxid).Info("resumed mining tx monitor")
	}
	if s.FundingBroadcasted && !s.FundingConfirmed {
		if err := c.watchFunding(s.FundingTxid); err != nil {
			return f, err
		}
		newLogger.WithField("txid", s.FundingTxid).Info("resumed funding tx monitor")
	}

	if f.NeedsRepair {
		if !c.cfg.ForceRescan {
			newLogger.Warn("minting outputs lack funding references, restart with a forced rescan to repair")
			return f, nil
		}
		coins := fundingCoins(s)
		if err := c.pipe.RepairFundingReferences(ctx, coins); err != nil {
			return f, err
		}
		newLogger.WithField("outputs", len(coins)).Info("minting outputs repaired")
	}
	return c.pipe.Stages(), nil
}

// fundingCoins rebuilds the minting coins of the broadcast funding tx.
func fundingCoins(s pipeline.PipelineState) []utxo.Coin {
	var plan *funding.Plan
	if rec := s.FundingTransaction; rec != nil && len(rec.Outputs) > 0 {
		plan = &funding.Plan{Outputs: rec.Outputs, Destination: rec.Destination}
	}
	return funding.ResultingCoins(*s.FundingAnalysis, plan, s.FundingTxid)
}

// AddMoreFunds goes back to the analysis stage, keeping the mining tx.
func (c *Coordinator) AddMoreFunds(ctx context.Context) error {
	if txid := c.pipe.Snapshot().FundingTxid; txid != "" {
		c.watcher.Stop(txid)
	}
	return c.pipe.ResetFromStep2(ctx)
}

// MintMore stops every monitor and starts over. Wallet data is kept.
func (c *Coordinator) MintMore(ctx context.Context) error {
	c.watcher.StopAll()
	return c.pipe.ResetForMintMore(ctx)
}

// RecordMintingStep is how the minting loop reports progress on one output.
func (c *Coordinator) RecordMintingStep(ctx context.Context, index int, status pipeline.MintingStatus, patch pipeline.OutputPatch) error {
	return c.pipe.UpdateOutput(ctx, index, status, patch)
}

func (c *Coordinator) Monitors() []btcsync.MonitorStatus {
	return c.watcher.Statuses()
}
