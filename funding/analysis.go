/*
Package funding decides how the wallet's coins become N equal-value minting
outputs, and turns a reorganize decision into a signed funding transaction.
*/
package funding

import "github.com/TEENet-io/turbomint/btcman/utxo"

type Strategy string

const (
	StrategySufficient   Strategy = "sufficient_utxos"
	StrategyReorganize   Strategy = "reorganize"
	StrategyUseAvailable Strategy = "use_available_utxos"
	StrategyInsufficient Strategy = "insufficient"
)

const (
	DefaultMinUtxoValue   int64 = 5000
	DefaultBaseFee        int64 = 1000
	DefaultFeePerOutput   int64 = 150
	DefaultMinChangeValue int64 = 5000
)

const (
	errMsgNoCoins           = "no coins available"
	errMsgNoOutputs         = "required output count must be positive"
	errMsgInsufficientFunds = "insufficient funds to create any outputs, add more funds"
	errMsgTooManyOutputs    = "required output count is too large"
)

// Mathematics is the value breakdown of a reorganize plan (satoshi).
type Mathematics struct {
	TotalInput  int64 `json:"totalInput"`
	TotalOutput int64 `json:"totalOutput"`
	TotalFee    int64 `json:"totalFee"`
	TotalChange int64 `json:"totalChange"`
}

// Analysis is the result of one funding analysis. It is never mutated;
// a new request produces a new value.
type Analysis struct {
	Strategy       Strategy     `json:"strategy"`
	CanAfford      uint         `json:"canAfford"`
	IsPartial      bool         `json:"isPartial"`
	UtxosToUse     []utxo.Coin  `json:"utxosToUse"`
	NeedsSplitting bool         `json:"needsSplitting"`
	InputUtxos     []utxo.Coin  `json:"inputUtxos,omitempty"`
	OutputCount    uint         `json:"outputCount"`
	OutputValue    int64        `json:"outputValue"`
	Mathematics    *Mathematics `json:"mathematics,omitempty"`
	RequiredOutput uint         `json:"requiredOutputs"`
	TotalValue     int64        `json:"totalValue"`
	RequiredValue  int64        `json:"requiredValue"`
	EstimatedFee   int64        `json:"estimatedFee"`
	UsableCount    int          `json:"usableCount"`
	ValidCount     int          `json:"validCount"`
	Error          string       `json:"error,omitempty"`
}

// Failed reports whether the analysis carries an error.
func (a *Analysis) Failed() bool {
	return a == nil || a.Error != ""
}

// Inputs are the coins a funding tx would spend.
func (a *Analysis) Inputs() []utxo.Coin {
	if a.NeedsSplitting {
		return a.InputUtxos
	}
	return a.UtxosToUse
}

// Clone deep-copies the analysis.
func (a *Analysis) Clone() *Analysis {
	if a == nil {
		return nil
	}
	c := *a
	c.UtxosToUse = utxo.Clone(a.UtxosToUse)
	c.InputUtxos = utxo.Clone(a.InputUtxos)
	if a.Mathematics != nil {
		m := *a.Mathematics
		c.Mathematics = &m
	}
	return &c
}

// Params are the fixed-denomination funding constants.
type Params struct {
	MinUtxoValue   int64 // value of every minting output, and the smallest coin counted as valid
	BaseFee        int64 // flat part of the reorganize fee
	FeePerOutput   int64 // per minting output part of the reorganize fee
	MinChangeValue int64 // change below this is folded into the last minting output
}

func DefaultParams() Params {
	return Params{
		MinUtxoValue:   DefaultMinUtxoValue,
		BaseFee:        DefaultBaseFee,
		FeePerOutput:   DefaultFeePerOutput,
		MinChangeValue: DefaultMinChangeValue,
	}
}

// withDefaults fills zero fields.
func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.MinUtxoValue <= 0 {
		p.MinUtxoValue = d.MinUtxoValue
	}
	if p.BaseFee < 0 {
		p.BaseFee = d.BaseFee
	}
	if p.FeePerOutput < 0 {
		p.FeePerOutput = d.FeePerOutput
	}
	if p.MinChangeValue <= 0 {
		p.MinChangeValue = d.MinChangeValue
	}
	return p
}
