// TaprootSigner signs funding transactions with a single local key.
// 1) The wallet receives on the BIP86 key-path taproot address of that key.
// 2) Coins sitting on the P2WPKH address of the same key are also accepted.
// Every other input is refused.

package assembler

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/TEENet-io/turbomint/btcman/utxo"
)

const (
	TxVersion   int32  = 2
	RbfSequence uint32 = wire.MaxTxInSequenceNum - 2 // opt-in replace-by-fee
)

var (
	ErrNoInputs         = errors.New("tx has no inputs")
	ErrNoOutputs        = errors.New("tx has no outputs")
	ErrForeignInput     = errors.New("input is not owned by this signer")
	ErrUnspendableInput = errors.New("input does not reference a real output")
	ErrWrongNetwork     = errors.New("private key is for another network")
	ErrVerifyFailed     = errors.New("signed input failed script verification")
)

type TaprootSigner struct {
	ChainConfig *chaincfg.Params // which BTC chain it is on. (mainnet, testnet, regtest)
	privKey     *btcec.PrivateKey
	P2TR        *btcutil.AddressTaproot
	P2WPKH      *btcutil.AddressWitnessPubKeyHash
}

// SignedTx is a finalized, broadcast-ready transaction.
type SignedTx struct {
	Hex     string
	TxID    string
	Decoded DecodedTx
	Tx      *wire.MsgTx
}

// Recover a signer from a WIF string (what bitcoin-core exports).
func NewTaprootSigner(privKeyWIF string, chainConfig *chaincfg.Params) (*TaprootSigner, error) {
	wif, err := DecodeWIF(privKeyWIF)
	if err != nil {
		return nil, err
	}
	if !wif.IsForNet(chainConfig) {
		return nil, ErrWrongNetwork
	}
	return NewTaprootSignerFromKey(wif.PrivKey, chainConfig)
}

func NewTaprootSignerFromKey(privKey *btcec.PrivateKey, chainConfig *chaincfg.Params) (*TaprootSigner, error) {
	pub := privKey.PubKey()

	tapKey := txscript.ComputeTaprootKeyNoScript(pub)
	p2tr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(tapKey), chainConfig)
	if err != nil {
		return nil, err
	}
	p2wpkh, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), chainConfig)
	if err != nil {
		return nil, err
	}
	return &TaprootSigner{
		ChainConfig: chainConfig,
		privKey:     privKey,
		P2TR:        p2tr,
		P2WPKH:      p2wpkh,
	}, nil
}

// Address is the wallet's receiving (taproot) address.
func (s *TaprootSigner) Address() string {
	return s.P2TR.EncodeAddress()
}

// SegwitAddress is the P2WPKH address of the same key.
func (s *TaprootSigner) SegwitAddress() string {
	return s.P2WPKH.EncodeAddress()
}

// Addresses lists every address whose coins this signer can spend.
func (s *TaprootSigner) Addresses() []string {
	return []string{s.Address(), s.SegwitAddress()}
}

// XOnlyPubKey is the hex of the tweaked output key.
func (s *TaprootSigner) XOnlyPubKey() string {
	return hex.EncodeToString(s.P2TR.ScriptAddress())
}

// ownScript resolves the prevout script of a coin held by this key.
// An empty address is taken as the taproot address.
func (s *TaprootSigner) ownScript(address string) (pkScript []byte, taproot bool, err error) {
	switch address {
	case "", s.Address():
		pkScript, err = txscript.PayToAddrScript(s.P2TR)
		return pkScript, true, err
	case s.SegwitAddress():
		pkScript, err = txscript.PayToAddrScript(s.P2WPKH)
		return pkScript, false, err
	}
	return nil, false, fmt.Errorf("%w: %s", ErrForeignInput, address)
}

// SignAndFinalize builds a version-2 tx spending inputs into outputs,
// signs every input and verifies it with the script engine.
// Outputs go on first, then inputs, then signatures.
func (s *TaprootSigner) SignAndFinalize(inputs []utxo.Coin, outputs []PayTo) (*SignedTx, error) {
	if len(inputs) == 0 {
		return nil, ErrNoInputs
	}
	if len(outputs) == 0 {
		return nil, ErrNoOutputs
	}

	tx := wire.NewMsgTx(TxVersion)
	for _, o := range outputs {
		if _, err := AppendPayToAddress(tx, s.ChainConfig, o.Address, o.Amount); err != nil {
			return nil, err
		}
	}

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	scripts := make([][]byte, len(inputs))
	isTaproot := make([]bool, len(inputs))
	for i, in := range inputs {
		if !in.Spendable() {
			return nil, fmt.Errorf("%w: %s", ErrUnspendableInput, in.Key())
		}
		op, err := in.OutPoint()
		if err != nil {
			return nil, err
		}
		pkScript, taproot, err := s.ownScript(in.Address)
		if err != nil {
			return nil, err
		}
		scripts[i], isTaproot[i] = pkScript, taproot

		txIn := wire.NewTxIn(op, nil, nil)
		txIn.Sequence = RbfSequence
		tx.AddTxIn(txIn)
		fetcher.AddPrevOut(*op, wire.NewTxOut(in.Value, pkScript))
	}

	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, in := range inputs {
		var (
			witness wire.TxWitness
			err     error
		)
		if isTaproot[i] {
			witness, err = txscript.TaprootWitnessSignature(
				tx, sigHashes, i, in.Value, scripts[i], txscript.SigHashDefault, s.privKey,
			)
		} else {
			witness, err = txscript.WitnessSignature(
				tx, sigHashes, i, in.Value, scripts[i], txscript.SigHashAll, s.privKey, true,
			)
		}
		if err != nil {
			return nil, err
		}
		tx.TxIn[i].Witness = witness
	}

	for i, in := range inputs {
		vm, err := txscript.NewEngine(
			scripts[i], tx, i, txscript.StandardVerifyFlags, nil, sigHashes, in.Value, fetcher,
		)
		if err != nil {
			return nil, err
		}
		if err := vm.Execute(); err != nil {
			return nil, fmt.Errorf("%w: input %d: %v", ErrVerifyFailed, i, err)
		}
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return &SignedTx{
		Hex:     hex.EncodeToString(buf.Bytes()),
		TxID:    tx.TxHash().String(),
		Decoded: Decode(tx, s.ChainConfig),
		Tx:      tx,
	}, nil
}
