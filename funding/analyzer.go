package funding

import (
	"math"

	"github.com/TEENet-io/turbomint/btcman/utxo"
)

// MaxRequiredOutputs bounds the request so value arithmetic stays in int64.
const MaxRequiredOutputs = math.MaxInt32

// Analyzer classifies a coin set against a required number of minting
// outputs. All minting outputs have the same value, so the problem is
// counting, not general coin selection: one pass over the coins.
type Analyzer struct {
	params Params
}

// NewAnalyzer with nil params uses DefaultParams.
func NewAnalyzer(params *Params) *Analyzer {
	p := DefaultParams()
	if params != nil {
		p = params.withDefaults()
	}
	return &Analyzer{params: p}
}

func (az *Analyzer) Params() Params {
	return az.params
}

// Analyze is pure: the same input always gives the same Analysis.
// Bad input and shortage are reported inside the Analysis, never as a Go
// error.
func (az *Analyzer) Analyze(coins []utxo.Coin, requiredOutputs uint) Analysis {
	if requiredOutputs > MaxRequiredOutputs {
		return Analysis{Strategy: StrategyInsufficient, RequiredOutput: requiredOutputs, Error: errMsgTooManyOutputs}
	}
	p := az.params
	n := int64(requiredOutputs)

	if len(coins) == 0 {
		return Analysis{Strategy: StrategyInsufficient, RequiredOutput: requiredOutputs, Error: errMsgNoCoins}
	}
	if requiredOutputs == 0 {
		return Analysis{Strategy: StrategyInsufficient, Error: errMsgNoOutputs}
	}

	usable := utxo.OnlySpendable(utxo.FilterSpendable(coins))
	valid := utxo.AtLeast(usable, p.MinUtxoValue)
	totalValue := utxo.TotalValue(usable)
	estimatedFee := p.BaseFee + p.FeePerOutput*n
	requiredValue := p.MinUtxoValue*n + estimatedFee

	a := Analysis{
		RequiredOutput: requiredOutputs,
		TotalValue:     totalValue,
		RequiredValue:  requiredValue,
		EstimatedFee:   estimatedFee,
		UsableCount:    len(usable),
		ValidCount:     len(valid),
	}

	if int64(len(valid)) >= n {
		a.Strategy = StrategySufficient
		a.CanAfford = requiredOutputs
		a.UtxosToUse = utxo.Clone(valid[:requiredOutputs])
		a.OutputCount = requiredOutputs
		a.OutputValue = p.MinUtxoValue
		return a
	}

	maxAffordable := az.MaxAffordableOutputs(totalValue)
	if totalValue < requiredValue || maxAffordable < n {
		if len(valid) > 0 {
			a.Strategy = StrategyUseAvailable
			a.CanAfford = uint(len(valid))
			a.IsPartial = true
			a.UtxosToUse = utxo.Clone(valid)
			a.OutputCount = uint(len(valid))
			a.OutputValue = p.MinUtxoValue
			return a
		}
		a.Strategy = StrategyInsufficient
		a.Error = errMsgInsufficientFunds
		return a
	}

	totalOutput := p.MinUtxoValue * n
	change := totalValue - totalOutput - estimatedFee
	if change < 0 {
		change = 0
	}
	a.Strategy = StrategyReorganize
	a.CanAfford = requiredOutputs
	a.NeedsSplitting = true
	a.InputUtxos = utxo.Clone(usable)
	a.OutputCount = requiredOutputs
	a.OutputValue = p.MinUtxoValue
	a.Mathematics = &Mathematics{
		TotalInput:  totalValue,
		TotalOutput: totalOutput,
		TotalFee:    estimatedFee,
		TotalChange: change,
	}
	return a
}

// MaxAffordableOutputs is how many minting outputs totalValue could fund
// through one reorganize tx.
func (az *Analyzer) MaxAffordableOutputs(totalValue int64) int64 {
	p := az.params
	if totalValue <= p.BaseFee {
		return 0
	}
	return (totalValue - p.BaseFee) / (p.MinUtxoValue + p.FeePerOutput)
}
