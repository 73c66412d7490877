/*
Package pipeline owns the persisted record of one mining -> funding ->
minting run. All changes go through pure transitions applied by a single
writer goroutine; everybody else reads deep-copied snapshots.
*/
package pipeline

import (
	"time"

	"github.com/TEENet-io/turbomint/btcman/utxo"
	"github.com/TEENet-io/turbomint/funding"
)

type MintingStatus string

const (
	MintingReady           MintingStatus = "ready"
	MintingFundingAssigned MintingStatus = "funding_assigned"
	MintingCommitted       MintingStatus = "committed"
	MintingCompleted       MintingStatus = "completed"
	MintingError           MintingStatus = "error"
)

var statusRank = map[MintingStatus]int{
	MintingReady:           0,
	MintingFundingAssigned: 1,
	MintingCommitted:       2,
	MintingCompleted:       3,
}

func (s MintingStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok || s == MintingError
}

// CanTransition reports whether an output may move from one status to
// another. Statuses only move forward; error is reachable from anything
// but completed, and an errored output may retry from ready or
// funding_assigned.
func CanTransition(from, to MintingStatus) bool {
	if !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	switch {
	case from == MintingCompleted:
		return false
	case to == MintingError:
		return true
	case from == MintingError:
		return to == MintingReady || to == MintingFundingAssigned
	}
	return statusRank[to] > statusRank[from]
}

// MintingOutput is the progress of one minting output.
type MintingOutput struct {
	Index       int           `json:"index"`
	Status      MintingStatus `json:"status"`
	FundingUtxo *utxo.Coin    `json:"fundingUtxo"`
	CommitTxid  string        `json:"commitTxid,omitempty"`
	SpellTxid   string        `json:"spellTxid,omitempty"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// started: the minting loop already acted on this output.
func (o MintingOutput) started() bool {
	return o.Status != MintingReady && o.Status != MintingFundingAssigned
}

// OutputPatch carries the non-status fields of an output update. Empty
// fields leave the stored value alone.
type OutputPatch struct {
	FundingUtxo *utxo.Coin `json:"fundingUtxo,omitempty"`
	CommitTxid  string     `json:"commitTxid,omitempty"`
	SpellTxid   string     `json:"spellTxid,omitempty"`
	Error       string     `json:"error,omitempty"`
}

type MintingProgress struct {
	Completed uint            `json:"completed"`
	Total     uint            `json:"total"`
	Outputs   []MintingOutput `json:"outputs"`
}

// BroadcastRecord is what the pipeline keeps about a broadcast funding tx.
type BroadcastRecord struct {
	TxID        string           `json:"txid"`
	ExplorerURL string           `json:"explorerUrl"`
	Destination string           `json:"destination"`
	SignedHex   string           `json:"signedHex"`
	Fee         int64            `json:"fee"`
	Vsize       int64            `json:"vsize"`
	Inputs      []utxo.Coin      `json:"inputs"`
	Outputs     []funding.Output `json:"outputs"`
	BroadcastAt time.Time        `json:"broadcastAt"`
}

// PipelineState is the persisted record.
type PipelineState struct {
	MiningTxid         string            `json:"miningTxid"`
	MiningConfirmed    bool              `json:"miningConfirmed"`
	FundingAnalysis    *funding.Analysis `json:"fundingAnalysis"`
	FundingTxid        string            `json:"fundingTxid"`
	FundingBroadcasted bool              `json:"fundingBroadcasted"`
	FundingConfirmed   bool              `json:"fundingConfirmed"`
	FundingTransaction *BroadcastRecord  `json:"fundingTransaction,omitempty"`
	MintingProgress    MintingProgress   `json:"mintingProgress"`
	UpdatedAt          time.Time         `json:"updatedAt"`
}

// Wallet is stored under its own key and survives a "mint more" reset.
// It never holds key material.
type Wallet struct {
	Network       string `json:"network"`
	Address       string `json:"address"`
	SegwitAddress string `json:"segwitAddress,omitempty"`
	ChangeAddress string `json:"changeAddress,omitempty"`
}

// Addresses lists the distinct wallet addresses, recipient first.
func (w Wallet) Addresses() []string {
	var out []string
	seen := map[string]bool{}
	for _, a := range []string{w.Address, w.SegwitAddress, w.ChangeAddress} {
		if a != "" && !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

// Clone deep-copies the record.
func (s PipelineState) Clone() PipelineState {
	c := s
	c.FundingAnalysis = s.FundingAnalysis.Clone()
	if s.FundingTransaction != nil {
		rec := *s.FundingTransaction
		rec.Inputs = utxo.Clone(s.FundingTransaction.Inputs)
		if s.FundingTransaction.Outputs != nil {
			rec.Outputs = append([]funding.Output(nil), s.FundingTransaction.Outputs...)
		}
		c.FundingTransaction = &rec
	}
	if s.MintingProgress.Outputs != nil {
		c.MintingProgress.Outputs = make([]MintingOutput, len(s.MintingProgress.Outputs))
		for i, o := range s.MintingProgress.Outputs {
			if o.FundingUtxo != nil {
				coin := *o.FundingUtxo
				o.FundingUtxo = &coin
			}
			c.MintingProgress.Outputs[i] = o
		}
	}
	return c
}
