package funding

import (
	"errors"
	"fmt"
)

type OutputType string

const (
	OutputMinting OutputType = "minting"
	OutputChange  OutputType = "change"
)

var (
	ErrNoSplitNeeded  = errors.New("analysis does not need a funding transaction")
	ErrAnalysisFailed = errors.New("analysis carries an error")
	ErrNoMathematics  = errors.New("analysis has no value breakdown")
	ErrUnbalancedPlan = errors.New("outputs plus fee do not equal inputs")
)

// Output is one planned funding tx output (satoshi).
type Output struct {
	Value int64      `json:"value"`
	Type  OutputType `json:"type"`
}

// BuildOutputs emits OutputCount minting outputs of OutputValue. Change at
// or above minChange gets its own output; smaller change is added to the
// last minting output so no satoshi is lost or left as dust.
func BuildOutputs(a Analysis, minChange int64) ([]Output, error) {
	if !a.NeedsSplitting {
		return nil, ErrNoSplitNeeded
	}
	if a.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrAnalysisFailed, a.Error)
	}
	if a.Mathematics == nil {
		return nil, ErrNoMathematics
	}
	if a.OutputCount == 0 || a.OutputValue <= 0 {
		return nil, fmt.Errorf("%w: %d outputs of %d", ErrUnbalancedPlan, a.OutputCount, a.OutputValue)
	}
	if minChange <= 0 {
		minChange = DefaultMinChangeValue
	}

	outputs := make([]Output, 0, a.OutputCount+1)
	for i := uint(0); i < a.OutputCount; i++ {
		outputs = append(outputs, Output{Value: a.OutputValue, Type: OutputMinting})
	}

	change := a.Mathematics.TotalChange
	switch {
	case change >= minChange:
		outputs = append(outputs, Output{Value: change, Type: OutputChange})
	case change > 0:
		outputs[len(outputs)-1].Value += change
	}
	return outputs, nil
}

// SumOutputs adds up output values.
func SumOutputs(outputs []Output) int64 {
	var sum int64
	for _, o := range outputs {
		sum += o.Value
	}
	return sum
}

// MintingOutputs returns only the minting outputs, keeping their index.
func MintingOutputs(outputs []Output) []Output {
	out := make([]Output, 0, len(outputs))
	for _, o := range outputs {
		if o.Type == OutputMinting {
			out = append(out, o)
		}
	}
	return out
}
