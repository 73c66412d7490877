package pipeline

import (
	"fmt"
	"time"

	"github.com/TEENet-io/turbomint/btcman/utxo"
	"github.com/TEENet-io/turbomint/funding"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func existingCoins(values ...int64) []utxo.Coin {
	out := make([]utxo.Coin, 0, len(values))
	for i, v := range values {
		out = append(out, utxo.Coin{TxID: fmt.Sprintf("%064x", i+1), Vout: uint32(i), Value: v, Source: utxo.SourceExisting})
	}
	return out
}

func reorganize() funding.Analysis {
	return funding.NewAnalyzer(nil).Analyze(existingCoins(100000), 3)
}

func sufficient() funding.Analysis {
	return funding.NewAnalyzer(nil).Analyze(existingCoins(5000, 5000, 5000), 3)
}

func fundingCoins(txid string, n int) []utxo.Coin {
	out := make([]utxo.Coin, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, utxo.Coin{TxID: txid, Vout: uint32(i), Value: 5000, Source: utxo.SourceFundingTx})
	}
	return out
}

// broadcastState: mining confirmed, reorganize analysed, funding broadcast.
func broadcastState(fundingTxid string) PipelineState {
	s := PipelineState{MiningTxid: RandTxID()}
	s, _ = WithMiningConfirmed()(s)
	s, _ = WithAnalysis(reorganize())(s)
	s, _ = WithBroadcast(BroadcastRecord{TxID: fundingTxid, Fee: 1450}, fundingCoins(fundingTxid, 3), testNow)(s)
	return s
}
