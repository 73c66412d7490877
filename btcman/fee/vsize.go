package fee

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
)

// Rough per-part vbyte costs.
const (
	txOverheadVbytes = 10

	taprootInputVbytes  = 58
	taprootOutputVbytes = 43

	legacyInputVbytes  = 68
	legacyOutputVbytes = 34
)

// EstimateVsize is the fixed size model used for fee quotes. No network.
func EstimateVsize(numInputs, numOutputs uint, taproot bool) int64 {
	in, out := int64(numInputs), int64(numOutputs)
	if taproot {
		return txOverheadVbytes + taprootInputVbytes*in + taprootOutputVbytes*out
	}
	return txOverheadVbytes + legacyInputVbytes*in + legacyOutputVbytes*out
}

// PlannedVsize sizes an unsigned tx spending numTaprootInputs key-path
// inputs into outs, using the wallet's exact per-script sizes.
func PlannedVsize(numTaprootInputs int, outs []*wire.TxOut) int64 {
	return int64(txsizes.EstimateVirtualSize(0, numTaprootInputs, 0, 0, outs, 0))
}

// MeasuredVsize is the virtual size of a signed tx.
func MeasuredVsize(tx *wire.MsgTx) int64 {
	return mempool.GetTxVirtualSize(btcutil.NewTx(tx))
}
