package assembler

import (
	"bytes"
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

type DecodedInput struct {
	TxID     string `json:"txid"`
	Vout     uint32 `json:"vout"`
	Sequence uint32 `json:"sequence"`
}

type DecodedOutput struct {
	Value        int64  `json:"value"`
	ScriptPubKey string `json:"scriptPubKey"`
	Address      string `json:"address,omitempty"`
}

// DecodedTx is the display form of a transaction.
type DecodedTx struct {
	TxID     string          `json:"txid"`
	Version  int32           `json:"version"`
	Locktime uint32          `json:"locktime"`
	Inputs   []DecodedInput  `json:"inputs"`
	Outputs  []DecodedOutput `json:"outputs"`
}

// Decode renders tx for display. params may be nil, then no addresses are
// extracted.
func Decode(tx *wire.MsgTx, params *chaincfg.Params) DecodedTx {
	d := DecodedTx{
		TxID:     tx.TxHash().String(),
		Version:  tx.Version,
		Locktime: tx.LockTime,
		Inputs:   make([]DecodedInput, 0, len(tx.TxIn)),
		Outputs:  make([]DecodedOutput, 0, len(tx.TxOut)),
	}
	for _, in := range tx.TxIn {
		d.Inputs = append(d.Inputs, DecodedInput{
			TxID:     in.PreviousOutPoint.Hash.String(),
			Vout:     in.PreviousOutPoint.Index,
			Sequence: in.Sequence,
		})
	}
	for _, out := range tx.TxOut {
		o := DecodedOutput{
			Value:        out.Value,
			ScriptPubKey: hex.EncodeToString(out.PkScript),
		}
		if params != nil {
			_, addrs, _, err := txscript.ExtractPkScriptAddrs(out.PkScript, params)
			if err == nil && len(addrs) == 1 {
				o.Address = addrs[0].EncodeAddress()
			}
		}
		d.Outputs = append(d.Outputs, o)
	}
	return d
}

// DecodeHex parses a raw hex transaction.
func DecodeHex(rawHex string, params *chaincfg.Params) (*wire.MsgTx, DecodedTx, error) {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, DecodedTx{}, err
	}
	tx := wire.NewMsgTx(TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, DecodedTx{}, err
	}
	return tx, Decode(tx, params), nil
}
