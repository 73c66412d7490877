package pipeline

import "github.com/TEENet-io/turbomint/funding"

type Stage int

const (
	StageIdle Stage = iota
	StageMiningConfirmationPending
	StageFundingAnalysisPending
	StageFundingBroadcastPending
	StageMintingInProgress
	StageComplete
)

var stageNames = [...]string{
	"idle",
	"mining-confirmation-pending",
	"funding-analysis-pending",
	"funding-broadcast-pending",
	"minting-in-progress",
	"complete",
}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "unknown"
}

func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StageFlags is the stage vector of a record.
type StageFlags struct {
	Step1Complete bool  `json:"step1Complete"` // mining tx confirmed
	Step2Complete bool  `json:"step2Complete"` // usable analysis stored
	NeedsFunding  bool  `json:"needsFunding"`  // a funding tx has to be broadcast
	Step3Complete bool  `json:"step3Complete"` // funding satisfied
	Step4Ready    bool  `json:"step4Ready"`    // minting may run
	Step5Complete bool  `json:"step5Complete"` // every minting output completed
	NeedsRepair   bool  `json:"needsRepair"`   // outputs lack funding references
	Current       Stage `json:"current"`
}

// DeriveStages rebuilds the stage vector purely from the record.
func DeriveStages(s PipelineState) StageFlags {
	var f StageFlags
	a := s.FundingAnalysis

	f.Step1Complete = s.MiningConfirmed
	f.Step2Complete = !a.Failed() && a.Strategy != funding.StrategyInsufficient
	f.NeedsFunding = f.Step2Complete && a.Strategy == funding.StrategyReorganize
	f.Step3Complete = f.Step2Complete && (!f.NeedsFunding || s.FundingBroadcasted)
	f.Step4Ready = f.Step1Complete && f.Step2Complete && f.Step3Complete
	p := s.MintingProgress
	f.Step5Complete = f.Step4Ready && p.Total > 0 && p.Completed == p.Total
	f.NeedsRepair = needsRepair(s, f)

	switch {
	case f.Step5Complete:
		f.Current = StageComplete
	case f.Step4Ready:
		f.Current = StageMintingInProgress
	case f.Step1Complete && f.Step2Complete:
		f.Current = StageFundingBroadcastPending
	case f.Step1Complete:
		f.Current = StageFundingAnalysisPending
	case s.MiningTxid != "":
		f.Current = StageMiningConfirmationPending
	default:
		f.Current = StageIdle
	}
	return f
}

// needsRepair: funding went out but the minting outputs don't point at it.
func needsRepair(s PipelineState, f StageFlags) bool {
	if !f.NeedsFunding || !s.FundingBroadcasted {
		return false
	}
	if s.MintingProgress.Total == 0 || len(s.MintingProgress.Outputs) == 0 {
		return true
	}
	for _, o := range s.MintingProgress.Outputs {
		if o.FundingUtxo == nil || o.FundingUtxo.TxID != s.FundingTxid {
			return true
		}
	}
	return false
}
