package funding

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/turbomint/btcman/assembler"
	"github.com/TEENet-io/turbomint/btcman/fee"
	"github.com/TEENet-io/turbomint/btcman/utxo"
)

var (
	ErrNoInputs         = errors.New("funding plan has no inputs")
	ErrUnspendableInput = errors.New("funding plan input is not spendable")
	ErrNoDestination    = errors.New("funding plan has no destination address")
	ErrDustOutput       = errors.New("funding plan output is dust")
)

// Signer is the external signing capability. It owns all cryptography.
type Signer interface {
	Address() string
	SignAndFinalize(inputs []utxo.Coin, outputs []assembler.PayTo) (*assembler.SignedTx, error)
}

// Plan is a signed, broadcast-ready funding transaction.
// sum(Outputs) + Fee == sum(Inputs).
type Plan struct {
	Inputs       []utxo.Coin         `json:"inputs"`
	Outputs      []Output            `json:"outputs"`
	Destination  string              `json:"destination"`
	Fee          int64               `json:"fee"`
	SignedHex    string              `json:"signedHex"`
	TxID         string              `json:"txid"`
	Decoded      assembler.DecodedTx `json:"decoded"`
	Vsize        int64               `json:"vsize"`
	PlannedVsize int64               `json:"plannedVsize"`
}

// EffectiveFeeRate is the plan's fee in sat/vB.
func (p *Plan) EffectiveFeeRate() float64 {
	if p.Vsize <= 0 {
		return 0
	}
	return float64(p.Fee) / float64(p.Vsize)
}

type Planner struct {
	signer      Signer
	chainConfig *chaincfg.Params
	params      Params
}

// NewPlanner with nil params uses DefaultParams.
func NewPlanner(signer Signer, chainConfig *chaincfg.Params, params *Params) *Planner {
	p := DefaultParams()
	if params != nil {
		p = params.withDefaults()
	}
	return &Planner{signer: signer, chainConfig: chainConfig, params: p}
}

// CreateFundingTransaction shapes a reorganize analysis into inputs and
// outputs and hands them to the signer. An empty destination means the
// signer's own address. Signer errors come back unchanged.
func (pl *Planner) CreateFundingTransaction(a Analysis, destination string) (*Plan, error) {
	outputs, err := BuildOutputs(a, pl.params.MinChangeValue)
	if err != nil {
		return nil, err
	}

	inputs := utxo.Clone(a.InputUtxos)
	if len(inputs) == 0 {
		return nil, ErrNoInputs
	}
	for _, in := range inputs {
		if !in.Spendable() {
			return nil, fmt.Errorf("%w: %s (%s)", ErrUnspendableInput, in.Key(), in.Source)
		}
	}

	totalIn := utxo.TotalValue(inputs)
	planFee := a.Mathematics.TotalFee
	if SumOutputs(outputs)+planFee != totalIn {
		return nil, fmt.Errorf("%w: outputs=%d fee=%d inputs=%d",
			ErrUnbalancedPlan, SumOutputs(outputs), planFee, totalIn)
	}

	if destination == "" {
		destination = pl.signer.Address()
	}
	if destination == "" {
		return nil, ErrNoDestination
	}
	if err := pl.checkOutputs(destination, outputs); err != nil {
		return nil, err
	}

	payTo := make([]assembler.PayTo, 0, len(outputs))
	for _, o := range outputs {
		payTo = append(payTo, assembler.PayTo{Address: destination, Amount: o.Value})
	}

	signed, err := pl.signer.SignAndFinalize(inputs, payTo)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Inputs:      inputs,
		Outputs:     outputs,
		Destination: destination,
		Fee:         planFee,
		SignedHex:   signed.Hex,
		TxID:        signed.TxID,
		Decoded:     signed.Decoded,
	}
	if signed.Tx != nil {
		plan.Vsize = fee.MeasuredVsize(signed.Tx)
		plan.PlannedVsize = fee.PlannedVsize(len(inputs), signed.Tx.TxOut)
	}

	logger.WithFields(logger.Fields{
		"txid":    plan.TxID,
		"inputs":  len(inputs),
		"outputs": len(outputs),
		"fee":     plan.Fee,
		"vsize":   plan.Vsize,
	}).Info("funding transaction signed")
	return plan, nil
}

// checkOutputs refuses dust before anything reaches the signer.
func (pl *Planner) checkOutputs(destination string, outputs []Output) error {
	addr, err := btcutil.DecodeAddress(destination, pl.chainConfig)
	if err != nil {
		return err
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return err
	}
	for i, o := range outputs {
		if err := txrules.CheckOutput(wire.NewTxOut(o.Value, script), txrules.DefaultRelayFeePerKb); err != nil {
			return fmt.Errorf("%w: output %d (%d sat): %v", ErrDustOutput, i, o.Value, err)
		}
	}
	return nil
}

// ResultingCoins lists the coins the minting loop will consume.
// Without a funding tx they are the selected existing coins. With one they
// are the minting outputs of that tx, vout = output index; a missing txid
// keeps them theoretical.
func ResultingCoins(a Analysis, plan *Plan, txid string) []utxo.Coin {
	if !a.NeedsSplitting {
		out := make([]utxo.Coin, 0, len(a.UtxosToUse))
		for _, c := range a.UtxosToUse {
			if c.Source == "" {
				c.Source = utxo.SourceExisting
			}
			out = append(out, c)
		}
		return out
	}

	src := utxo.SourceFundingTx
	if txid == "" {
		src = utxo.SourceTheoretical
	}

	var outputs []Output
	var dest string
	if plan != nil {
		outputs, dest = plan.Outputs, plan.Destination
	} else {
		for i := uint(0); i < a.OutputCount; i++ {
			outputs = append(outputs, Output{Value: a.OutputValue, Type: OutputMinting})
		}
	}

	coins := make([]utxo.Coin, 0, len(outputs))
	for idx, o := range outputs {
		if o.Type != OutputMinting {
			continue
		}
		coins = append(coins, utxo.Coin{
			TxID:    txid,
			Vout:    uint32(idx),
			Value:   o.Value,
			Address: dest,
			Source:  src,
		})
	}
	return coins
}
