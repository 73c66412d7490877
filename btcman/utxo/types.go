/*
This file contains the coin data structure used across the program.
  - Source: where a coin came from (scan, funding tx, plan artifact, mining tx)
  - Coin, the unspent transaction output the pipeline reasons about.
*/
package utxo

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/shopspring/decimal"
)

// Source tells where a coin was observed.
type Source string

const (
	SourceExisting        Source = "existing"          // found by a wallet scan
	SourceFundingTx       Source = "funding_tx"        // output of a broadcast funding tx
	SourceTheoretical     Source = "theoretical"       // planned, not broadcast yet
	SourceMiningTxPending Source = "mining_tx_pending" // change of an unconfirmed mining tx
)

const satoshiPerBitcoin = 1e8

// Coin is an unspent transaction output identified by (TxID, Vout).
// Value is in satoshi.
type Coin struct {
	TxID    string `json:"txid"`
	Vout    uint32 `json:"vout"`
	Value   int64  `json:"value"`
	Address string `json:"address,omitempty"`
	Source  Source `json:"source"`
}

// Key returns "txid:vout".
func (c Coin) Key() string {
	return fmt.Sprintf("%s:%d", c.TxID, c.Vout)
}

// Spendable reports whether the coin references a real prior output.
// Theoretical coins never qualify, whatever their txid says.
func (c Coin) Spendable() bool {
	if c.Source == SourceTheoretical {
		return false
	}
	if c.TxID == "" || c.Value < 0 {
		return false
	}
	return true
}

// OutPoint converts the coin into a wire outpoint.
func (c Coin) OutPoint() (*wire.OutPoint, error) {
	hash, err := chainhash.NewHashFromStr(c.TxID)
	if err != nil {
		return nil, err
	}
	return wire.NewOutPoint(hash, c.Vout), nil
}

// Return a human-readable amount in BTC
// eg. 1e8 (satoshi) = 1.0 (BTC)
func (c Coin) AmountHuman() decimal.Decimal {
	return SatsToBTC(c.Value)
}

// SatsToBTC converts satoshi to BTC without float rounding.
func SatsToBTC(sats int64) decimal.Decimal {
	return decimal.NewFromInt(sats).Div(decimal.NewFromInt(satoshiPerBitcoin))
}
