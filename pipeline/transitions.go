package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/TEENet-io/turbomint/btcman/utxo"
	"github.com/TEENet-io/turbomint/funding"
)

var (
	ErrNoMiningTx         = errors.New("no mining tx recorded")
	ErrEmptyTxID          = errors.New("empty txid")
	ErrNoAnalysis         = errors.New("no funding analysis recorded")
	ErrNoFundingNeeded    = errors.New("analysis does not need a funding tx")
	ErrAlreadyBroadcasted = errors.New("a different funding tx was already broadcast")
	ErrFundingLocked      = errors.New("funding tx already broadcast, reset first")
	ErrMintingStarted     = errors.New("minting loop already acted on an output, reset first")
	ErrNotBroadcasted     = errors.New("funding tx not broadcast")
	ErrUnknownOutput      = errors.New("unknown minting output")
	ErrStatusRegression   = errors.New("minting output status cannot move backwards")
	ErrInvalidStatus      = errors.New("invalid minting output status")
)

// A Transition turns one record into the next. Transitions never touch the
// record they are given.
type Transition func(PipelineState) (PipelineState, error)

// WithMiningTx records the mining tx. A different txid starts a new run.
func WithMiningTx(txid string) Transition {
	return func(s PipelineState) (PipelineState, error) {
		if txid == "" {
			return s, ErrEmptyTxID
		}
		if s.MiningTxid == txid {
			return s, nil
		}
		return PipelineState{MiningTxid: txid}, nil
	}
}

func WithMiningConfirmed() Transition {
	return func(s PipelineState) (PipelineState, error) {
		if s.MiningTxid == "" {
			return s, ErrNoMiningTx
		}
		s.MiningConfirmed = true
		return s, nil
	}
}

// WithAnalysis stores a fresh analysis. It is refused once funding went
// out, since the broadcast tx already spent the analysed coins, and once
// the minting loop acted on an output, whose progress would be lost.
func WithAnalysis(a funding.Analysis) Transition {
	return func(s PipelineState) (PipelineState, error) {
		if s.FundingBroadcasted {
			return s, ErrFundingLocked
		}
		for _, o := range s.MintingProgress.Outputs {
			if o.started() {
				return s, fmt.Errorf("%w: output %d is %s", ErrMintingStarted, o.Index, o.Status)
			}
		}
		s.FundingAnalysis = a.Clone()
		s.FundingTxid = ""
		s.FundingConfirmed = false
		s.FundingTransaction = nil
		s.MintingProgress = MintingProgress{}
		return s, nil
	}
}

// WithBroadcast records a broadcast funding tx and the minting outputs it
// created. Recording the same txid twice is a no-op.
func WithBroadcast(rec BroadcastRecord, coins []utxo.Coin, at time.Time) Transition {
	return func(s PipelineState) (PipelineState, error) {
		if rec.TxID == "" {
			return s, ErrEmptyTxID
		}
		if s.FundingAnalysis == nil {
			return s, ErrNoAnalysis
		}
		if s.FundingAnalysis.Strategy != funding.StrategyReorganize {
			return s, ErrNoFundingNeeded
		}
		if s.FundingBroadcasted {
			if s.FundingTxid == rec.TxID {
				return s, nil
			}
			return s, fmt.Errorf("%w: have %s", ErrAlreadyBroadcasted, s.FundingTxid)
		}

		r := rec
		r.Inputs = utxo.Clone(rec.Inputs)
		r.Outputs = append([]funding.Output(nil), rec.Outputs...)
		s.FundingTxid = rec.TxID
		s.FundingBroadcasted = true
		s.FundingTransaction = &r
		return WithMintingInitialized(uint(len(coins)), coins, true, at)(s)
	}
}

func WithFundingConfirmed() Transition {
	return func(s PipelineState) (PipelineState, error) {
		if !s.FundingBroadcasted {
			return s, ErrNotBroadcasted
		}
		s.FundingConfirmed = true
		return s, nil
	}
}

// WithMintingInitialized lays out total minting outputs, output i funded
// by coins[i] when present. Progress the minting loop already made is
// kept unless force is set.
func WithMintingInitialized(total uint, coins []utxo.Coin, force bool, at time.Time) Transition {
	return func(s PipelineState) (PipelineState, error) {
		if !force {
			for _, o := range s.MintingProgress.Outputs {
				if o.started() {
					return s, nil
				}
			}
		}

		outputs := make([]MintingOutput, 0, total)
		for i := 0; i < int(total); i++ {
			o := MintingOutput{Index: i, Status: MintingReady, CreatedAt: at, UpdatedAt: at}
			if i < len(coins) {
				coin := coins[i]
				o.FundingUtxo = &coin
				o.Status = MintingFundingAssigned
			}
			outputs = append(outputs, o)
		}
		s.MintingProgress = MintingProgress{Total: total, Outputs: outputs}
		return s, nil
	}
}

// WithOutputUpdate moves one output forward and recounts completions.
func WithOutputUpdate(index int, status MintingStatus, patch OutputPatch, at time.Time) Transition {
	return func(s PipelineState) (PipelineState, error) {
		if !status.Valid() {
			return s, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
		}
		outputs := s.MintingProgress.Outputs
		if index < 0 || index >= len(outputs) {
			return s, fmt.Errorf("%w: %d", ErrUnknownOutput, index)
		}
		o := outputs[index]
		if !CanTransition(o.Status, status) {
			return s, fmt.Errorf("%w: output %d %s -> %s", ErrStatusRegression, index, o.Status, status)
		}

		o.Status = status
		if patch.FundingUtxo != nil {
			coin := *patch.FundingUtxo
			o.FundingUtxo = &coin
		}
		if patch.CommitTxid != "" {
			o.CommitTxid = patch.CommitTxid
		}
		if patch.SpellTxid != "" {
			o.SpellTxid = patch.SpellTxid
		}
		switch {
		case patch.Error != "":
			o.Error = patch.Error
		case status != MintingError:
			o.Error = ""
		}
		o.UpdatedAt = at

		next := make([]MintingOutput, len(outputs))
		copy(next, outputs)
		next[index] = o
		s.MintingProgress.Outputs = next
		s.MintingProgress.Completed = countCompleted(next)
		return s, nil
	}
}

// WithFundingReferences points every minting output at the broadcast
// funding tx again. Outputs the loop already acted on are left alone.
func WithFundingReferences(coins []utxo.Coin, at time.Time) Transition {
	return func(s PipelineState) (PipelineState, error) {
		if !s.FundingBroadcasted {
			return s, ErrNotBroadcasted
		}
		if len(s.MintingProgress.Outputs) == 0 {
			return WithMintingInitialized(uint(len(coins)), coins, true, at)(s)
		}

		next := make([]MintingOutput, len(s.MintingProgress.Outputs))
		copy(next, s.MintingProgress.Outputs)
		for i := range next {
			if i >= len(coins) || next[i].started() {
				continue
			}
			coin := coins[i]
			next[i].FundingUtxo = &coin
			next[i].Status = MintingFundingAssigned
			next[i].UpdatedAt = at
		}
		s.MintingProgress.Outputs = next
		return s, nil
	}
}

// ResetFromStep2 drops analysis, funding and minting, keeping the mining
// tx, so more funds can be added and analysed again.
func ResetFromStep2() Transition {
	return func(s PipelineState) (PipelineState, error) {
		return PipelineState{MiningTxid: s.MiningTxid, MiningConfirmed: s.MiningConfirmed}, nil
	}
}

// ResetForMintMore clears the whole record. Wallet data lives elsewhere.
func ResetForMintMore() Transition {
	return func(PipelineState) (PipelineState, error) {
		return PipelineState{}, nil
	}
}

func countCompleted(outputs []MintingOutput) uint {
	var n uint
	for _, o := range outputs {
		if o.Status == MintingCompleted {
			n++
		}
	}
	return n
}
