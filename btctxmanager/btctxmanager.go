/*
Package btctxmanager takes a reorganize analysis to the chain: it prepares
the signed funding tx and, when the user asks for it, broadcasts it and
records the outcome in the pipeline.
*/
package btctxmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/turbomint/btcman/utxo"
	"github.com/TEENet-io/turbomint/btcvault"
	"github.com/TEENet-io/turbomint/funding"
	"github.com/TEENet-io/turbomint/pipeline"
)

var (
	ErrNoPendingPlan = errors.New("no prepared funding tx, prepare one first")
	ErrStalePlan     = errors.New("funding analysis changed since the tx was prepared")
)

// Broadcaster submits a signed tx.
type Broadcaster interface {
	Broadcast(signedHex string) (txid string, explorerURL string, err error)
}

// FeeQuoter prices a tx shape at the live fee rate.
type FeeQuoter interface {
	CalculateFee(ctx context.Context, numInputs, numOutputs uint) (int64, error)
}

type FundingTxManager struct {
	pipeline    *pipeline.Pipeline
	planner     *funding.Planner
	broadcaster Broadcaster
	vault       *btcvault.CoinVault // optional
	quoter      FeeQuoter           // optional
	destination string              // empty: the signer's own address

	mu      sync.Mutex
	pending *pendingPlan
}

type pendingPlan struct {
	plan     *funding.Plan
	analysis funding.Analysis
}

func NewFundingTxManager(p *pipeline.Pipeline, planner *funding.Planner, broadcaster Broadcaster) *FundingTxManager {
	return &FundingTxManager{pipeline: p, planner: planner, broadcaster: broadcaster}
}

func (m *FundingTxManager) WithVault(v *btcvault.CoinVault) *FundingTxManager {
	m.vault = v
	return m
}

func (m *FundingTxManager) WithFeeQuoter(q FeeQuoter) *FundingTxManager {
	m.quoter = q
	return m
}

func (m *FundingTxManager) WithDestination(addr string) *FundingTxManager {
	m.destination = addr
	return m
}

// Prepare signs a funding tx for the stored reorganize analysis and keeps
// it in memory until Broadcast. Preparing again replaces it.
func (m *FundingTxManager) Prepare(ctx context.Context) (*funding.Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := m.pipeline.Snapshot()
	a, err := fundableAnalysis(snap)
	if err != nil {
		return nil, err
	}

	plan, err := m.planner.CreateFundingTransaction(*a, m.destination)
	if err != nil {
		return nil, err
	}
	m.checkFee(ctx, plan)

	m.mu.Lock()
	m.pending = &pendingPlan{plan: plan, analysis: *a}
	m.mu.Unlock()
	return plan, nil
}

// Pending returns the prepared plan, nil if none.
func (m *FundingTxManager) Pending() *funding.Plan {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return nil
	}
	p := *m.pending.plan
	return &p
}

// Broadcast submits the prepared plan. Any failure drops the plan: a new
// one has to be prepared, since the inputs may have changed.
func (m *FundingTxManager) Broadcast(ctx context.Context) (*pipeline.BroadcastRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending == nil {
		return nil, ErrNoPendingPlan
	}
	pending := m.pending
	m.pending = nil

	snap := m.pipeline.Snapshot()
	a, err := fundableAnalysis(snap)
	if err != nil {
		return nil, err
	}
	if !sameInputs(a.InputUtxos, pending.analysis.InputUtxos) {
		return nil, ErrStalePlan
	}

	plan := pending.plan
	txid, explorerURL, err := m.broadcaster.Broadcast(plan.SignedHex)
	if err != nil {
		return nil, err
	}
	newLogger := logger.WithFields(logger.Fields{"txid": txid, "explorer": explorerURL})
	if plan.TxID != "" && txid != plan.TxID {
		newLogger.Warnf("node returned a txid different from the signed one: signed=%s", plan.TxID)
	}

	rec := pipeline.BroadcastRecord{
		TxID:        txid,
		ExplorerURL: explorerURL,
		Destination: plan.Destination,
		SignedHex:   plan.SignedHex,
		Fee:         plan.Fee,
		Vsize:       plan.Vsize,
		Inputs:      utxo.Clone(plan.Inputs),
		Outputs:     append([]funding.Output(nil), plan.Outputs...),
		BroadcastAt: time.Now().UTC(),
	}
	coins := funding.ResultingCoins(pending.analysis, plan, txid)
	if err := m.pipeline.RecordBroadcast(ctx, rec, coins); err != nil {
		// the tx is out; a restart can repair the record from the chain
		newLogger.Errorf("funding tx broadcast but not recorded: err=%v", err)
		return nil, fmt.Errorf("funding tx %s broadcast but not recorded: %w", txid, err)
	}

	if m.vault != nil {
		if err := m.vault.MarkSpent(plan.Inputs); err != nil {
			newLogger.Warnf("failed to mark funding inputs spent: %v", err)
		}
		if err := m.vault.LockCoins(coins, 0); err != nil {
			newLogger.Warnf("failed to lock minting outputs: %v", err)
		}
	}

	newLogger.WithField("outputs", len(coins)).Info("funding tx broadcast")
	return &rec, nil
}

// checkFee warns when the flat plan fee is below the live estimate.
func (m *FundingTxManager) checkFee(ctx context.Context, plan *funding.Plan) {
	if m.quoter == nil {
		return
	}
	live, err := m.quoter.CalculateFee(ctx, uint(len(plan.Inputs)), uint(len(plan.Outputs)))
	if err != nil {
		return
	}
	if plan.Fee < live {
		logger.WithFields(logger.Fields{
			"planFee": plan.Fee,
			"liveFee": live,
			"vsize":   plan.Vsize,
		}).Warn("funding tx fee is below the live estimate, confirmation may be slow")
	}
}

func fundableAnalysis(s pipeline.PipelineState) (*funding.Analysis, error) {
	if s.FundingBroadcasted {
		return nil, fmt.Errorf("%w: %s", pipeline.ErrAlreadyBroadcasted, s.FundingTxid)
	}
	a := s.FundingAnalysis
	if a == nil {
		return nil, pipeline.ErrNoAnalysis
	}
	if a.Strategy != funding.StrategyReorganize {
		return nil, pipeline.ErrNoFundingNeeded
	}
	return a, nil
}

func sameInputs(a, b []utxo.Coin) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Key() != b[i].Key() || a[i].Value != b[i].Value {
			return false
		}
	}
	return true
}
