package assembler

import (
	"errors"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/TEENet-io/turbomint/btcman/utxo"
)

const (
	REGTEST_P2TR_PRIV  = "cUcHsdBfXphhqLayGuxULxJeABDX74kMtL2gdfyUMVeke3ZJsKQ6"
	REGTEST_P2PKH_ADDR = "mkVXZnqaaKt4puQNr4ovPHYg48mjguFCnT"

	prevTxA = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"
	prevTxB = "0e3e2357e806b6cdb1f70b54c3a3a17b6714ee1f0e68bebb44a74b1efd512098"
)

func newTestSigner(t *testing.T) *TaprootSigner {
	s, err := NewTaprootSigner(REGTEST_P2TR_PRIV, GetRegtestParams())
	if err != nil {
		t.Fatalf("Cannot create TaprootSigner: err=%v", err)
	}
	return s
}

func TestTaprootSignerAddresses(t *testing.T) {
	s := newTestSigner(t)
	if !strings.HasPrefix(s.Address(), "bcrt1p") {
		t.Fatalf("expected a regtest taproot address, got %s", s.Address())
	}
	if !strings.HasPrefix(s.SegwitAddress(), "bcrt1q") {
		t.Fatalf("expected a regtest segwit address, got %s", s.SegwitAddress())
	}
	if _, err := DecodeAddress(s.Address(), GetRegtestParams()); err != nil {
		t.Fatalf("Cannot properly decode generated address: err=%v", err)
	}
	if len(s.XOnlyPubKey()) != 64 {
		t.Fatalf("x-only key must be 32 bytes hex, got %s", s.XOnlyPubKey())
	}
}

func TestTaprootSignerWrongNetwork(t *testing.T) {
	_, err := NewTaprootSigner(REGTEST_P2TR_PRIV, GetMainnetParams())
	if !errors.Is(err, ErrWrongNetwork) {
		t.Fatalf("expected ErrWrongNetwork, got %v", err)
	}
}

func TestSignAndFinalizeTaproot(t *testing.T) {
	s := newTestSigner(t)
	inputs := []utxo.Coin{
		{TxID: prevTxA, Vout: 0, Value: 9000, Address: s.Address(), Source: utxo.SourceExisting},
		{TxID: prevTxB, Vout: 2, Value: 8000, Address: s.Address(), Source: utxo.SourceExisting},
	}
	outputs := []PayTo{
		{Address: s.Address(), Amount: 5000},
		{Address: s.Address(), Amount: 5000},
		{Address: s.Address(), Amount: 5700},
	}

	signed, err := s.SignAndFinalize(inputs, outputs)
	if err != nil {
		t.Fatalf("SignAndFinalize failed: err=%v", err)
	}
	if signed.TxID != signed.Tx.TxHash().String() {
		t.Fatalf("txid mismatch: %s", signed.TxID)
	}
	if len(signed.Decoded.Inputs) != 2 || len(signed.Decoded.Outputs) != 3 {
		t.Fatalf("unexpected decoded shape: %+v", signed.Decoded)
	}
	if signed.Decoded.Version != TxVersion {
		t.Fatalf("expected version %d, got %d", TxVersion, signed.Decoded.Version)
	}
	if signed.Decoded.Inputs[1].TxID != prevTxB || signed.Decoded.Inputs[1].Vout != 2 {
		t.Fatalf("input order not kept: %+v", signed.Decoded.Inputs)
	}
	if signed.Decoded.Outputs[0].Address != s.Address() {
		t.Fatalf("output address not decoded: %+v", signed.Decoded.Outputs[0])
	}
	for i, in := range signed.Tx.TxIn {
		// key-path spend: a single 64-byte schnorr signature
		if len(in.Witness) != 1 || len(in.Witness[0]) != 64 {
			t.Fatalf("input %d: unexpected witness %x", i, in.Witness)
		}
	}

	_, decoded, err := DecodeHex(signed.Hex, GetRegtestParams())
	if err != nil {
		t.Fatalf("Cannot decode signed hex: err=%v", err)
	}
	if decoded.TxID != signed.TxID {
		t.Fatalf("hex round trip changed txid: %s != %s", decoded.TxID, signed.TxID)
	}
}

func TestSignAndFinalizeSegwitInput(t *testing.T) {
	s := newTestSigner(t)
	inputs := []utxo.Coin{
		{TxID: prevTxA, Vout: 1, Value: 20000, Address: s.SegwitAddress(), Source: utxo.SourceExisting},
	}
	outputs := []PayTo{
		{Address: s.Address(), Amount: 18000},
		{Address: REGTEST_P2PKH_ADDR, Amount: 1000},
	}
	signed, err := s.SignAndFinalize(inputs, outputs)
	if err != nil {
		t.Fatalf("SignAndFinalize failed: err=%v", err)
	}
	// P2WPKH: signature + compressed pubkey
	if len(signed.Tx.TxIn[0].Witness) != 2 {
		t.Fatalf("unexpected witness: %x", signed.Tx.TxIn[0].Witness)
	}
}

func TestSignAndFinalizeRejects(t *testing.T) {
	s := newTestSigner(t)
	other, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	stranger, err := NewTaprootSignerFromKey(other, GetRegtestParams())
	if err != nil {
		t.Fatal(err)
	}
	out := []PayTo{{Address: s.Address(), Amount: 5000}}

	_, err = s.SignAndFinalize(nil, out)
	if !errors.Is(err, ErrNoInputs) {
		t.Fatalf("expected ErrNoInputs, got %v", err)
	}

	in := []utxo.Coin{{TxID: prevTxA, Value: 9000, Address: s.Address(), Source: utxo.SourceExisting}}
	_, err = s.SignAndFinalize(in, nil)
	if !errors.Is(err, ErrNoOutputs) {
		t.Fatalf("expected ErrNoOutputs, got %v", err)
	}

	foreign := []utxo.Coin{{TxID: prevTxA, Value: 9000, Address: stranger.Address(), Source: utxo.SourceExisting}}
	_, err = s.SignAndFinalize(foreign, out)
	if !errors.Is(err, ErrForeignInput) {
		t.Fatalf("expected ErrForeignInput, got %v", err)
	}

	planned := []utxo.Coin{{TxID: prevTxA, Value: 9000, Address: s.Address(), Source: utxo.SourceTheoretical}}
	_, err = s.SignAndFinalize(planned, out)
	if !errors.Is(err, ErrUnspendableInput) {
		t.Fatalf("expected ErrUnspendableInput, got %v", err)
	}

	mainnetOut := []PayTo{{Address: "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq", Amount: 5000}}
	if _, err = s.SignAndFinalize(in, mainnetOut); err == nil {
		t.Fatalf("expected a mainnet destination to be refused on regtest")
	}
}

func TestParamsByName(t *testing.T) {
	for name, want := range map[string]string{
		"":        GetRegtestParams().Name,
		"regtest": GetRegtestParams().Name,
		"testnet": GetTestnetParams().Name,
		"mainnet": GetMainnetParams().Name,
		"signet":  GetSignetParams().Name,
	} {
		p, err := ParamsByName(name)
		if err != nil || p.Name != want {
			t.Fatalf("ParamsByName(%q) = %v, %v", name, p, err)
		}
	}
	if _, err := ParamsByName("dogecoin"); !errors.Is(err, ErrUnknownNetwork) {
		t.Fatalf("expected ErrUnknownNetwork, got %v", err)
	}
}
