package assembler

/*
This file implements the "locking" side of a tx.

Locking scripts need no private key, so they are shared by every signer.
Only standard payment scripts are allowed; data carriers and nonstandard
scripts are refused before anything gets signed.
*/

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var ErrUnsupportedOutput = errors.New("unsupported output script type")

// PayTo is one output of a tx to be signed. Amount is in satoshi.
type PayTo struct {
	Address string
	Amount  int64
}

func allowedOutputClass(class txscript.ScriptClass) bool {
	switch class {
	case txscript.PubKeyHashTy,
		txscript.ScriptHashTy,
		txscript.WitnessV0PubKeyHashTy,
		txscript.WitnessV0ScriptHashTy,
		txscript.WitnessV1TaprootTy:
		return true
	}
	return false
}

// AppendPayToAddress adds an output paying amount to dst_addr.
func AppendPayToAddress(tx *wire.MsgTx, dst_chain_cfg *chaincfg.Params, dst_addr string, amount int64) (*wire.MsgTx, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("non-positive output amount %d", amount)
	}
	btcDstAddress, err := btcutil.DecodeAddress(dst_addr, dst_chain_cfg)
	if err != nil {
		return nil, err
	}
	if !btcDstAddress.IsForNet(dst_chain_cfg) {
		return nil, fmt.Errorf("%s is not an address of %s", dst_addr, dst_chain_cfg.Name)
	}

	txOutScript, err := txscript.PayToAddrScript(btcDstAddress)
	if err != nil {
		return nil, err
	}
	if class := txscript.GetScriptClass(txOutScript); !allowedOutputClass(class) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOutput, class)
	}
	tx.AddTxOut(wire.NewTxOut(amount, txOutScript))
	return tx, nil
}
