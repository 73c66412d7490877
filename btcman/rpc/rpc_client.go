package rpc

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"

	"github.com/TEENet-io/turbomint/btcman/utxo"
)

const (
	MAX_CONFIRM = 9999999

	DefaultExplorerBase = "https://mempool.space/testnet4"

	// getrawtransaction text for -5, matched when the code was lost in wrapping
	msgNoTxInfo = "no such mempool or blockchain transaction"
)

var (
	ErrTxNotFound   = errors.New("transaction not found")
	ErrNoFeeRate    = errors.New("node returned no fee rate estimate")
	ErrEmptyRawTx   = errors.New("empty raw transaction")
	ErrBadAddresses = errors.New("no valid address to scan")
)

type RpcClientConfig struct {
	ServerAddr   string // ip address of server
	Port         string // port of server
	Username     string
	Pwd          string
	ChainConfig  *chaincfg.Params // decodes addresses handed to listunspent
	ExplorerBase string           // eg. https://mempool.space/testnet4
}

// Wrapper of btc rpc client.
type RpcClient struct {
	ServerAddr   string // ip address of server
	Port         string // port of server
	chainConfig  *chaincfg.Params
	explorerBase string
	client       *rpcclient.Client
}

// Create a new RPC client which
// contains several useful functions
// to interact with bitcoin node.
func NewRpcClient(rcc *RpcClientConfig) (*RpcClient, error) {
	// Connect to a Bitcoin node using HTTP
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         rcc.ServerAddr + ":" + rcc.Port,
		User:         rcc.Username,
		Pass:         rcc.Pwd,
		HTTPPostMode: true, // original bitcoin only supports HTTP POST mode
		DisableTLS:   true, // original bitcoin does not support TLS
	}, nil)

	if err != nil {
		return nil, err
	}

	params := rcc.ChainConfig
	if params == nil {
		params = &chaincfg.RegressionNetParams
	}
	explorer := strings.TrimRight(rcc.ExplorerBase, "/")
	if explorer == "" {
		explorer = DefaultExplorerBase
	}

	return &RpcClient{
		ServerAddr:   rcc.ServerAddr,
		Port:         rcc.Port,
		chainConfig:  params,
		explorerBase: explorer,
		client:       client,
	}, nil
}

// Close the rpc client
func (r *RpcClient) Close() {
	r.client.Shutdown()
}

// IsNotFound reports whether err means the node does not know the tx yet.
// bitcoind answers -5 (RPC_INVALID_ADDRESS_OR_KEY / no tx info) for that.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTxNotFound) {
		return true
	}
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == btcjson.ErrRPCNoTxInfo {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), msgNoTxInfo)
}

func classify(err error) error {
	if err != nil && IsNotFound(err) && !errors.Is(err, ErrTxNotFound) {
		return fmt.Errorf("%w: %v", ErrTxNotFound, err)
	}
	return err
}

// GetConfirmations returns how many blocks deep txid is (0 while in mempool).
// Unknown txs come back as ErrTxNotFound.
func (r *RpcClient) GetConfirmations(txid string) (uint, error) {
	txHash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return 0, err
	}
	res, err := r.client.GetRawTransactionVerbose(txHash)
	if err != nil {
		return 0, classify(err)
	}
	return uint(res.Confirmations), nil
}

// ListCoins returns the unspent outputs of the given addresses, including
// unconfirmed ones. Addresses must be watched by the node's wallet.
func (r *RpcClient) ListCoins(addresses []string) ([]utxo.Coin, error) {
	var addrs []btcutil.Address
	for _, a := range addresses {
		decoded, err := btcutil.DecodeAddress(a, r.chainConfig)
		if err != nil {
			return nil, fmt.Errorf("decode address %s: %w", a, err)
		}
		addrs = append(addrs, decoded)
	}
	if len(addrs) == 0 {
		return nil, ErrBadAddresses
	}

	unspent, err := r.client.ListUnspentMinMaxAddresses(0, MAX_CONFIRM, addrs)
	if err != nil {
		return nil, err
	}

	coins := make([]utxo.Coin, 0, len(unspent))
	for _, item := range unspent {
		amount, err := btcutil.NewAmount(item.Amount)
		if err != nil {
			return nil, err
		}
		coins = append(coins, utxo.Coin{
			TxID:    item.TxID,
			Vout:    item.Vout,
			Value:   int64(amount),
			Address: item.Address,
			Source:  utxo.SourceExisting,
		})
	}
	return coins, nil
}

// EstimateFeeRate asks estimatesmartfee (conservative) and converts
// BTC/kvB into sat/vB.
func (r *RpcClient) EstimateFeeRate(targetBlocks uint) (float64, error) {
	mode := btcjson.EstimateModeConservative
	res, err := r.client.EstimateSmartFee(int64(targetBlocks), &mode)
	if err != nil {
		return 0, err
	}
	if res.FeeRate == nil {
		if len(res.Errors) > 0 {
			return 0, fmt.Errorf("%w: %s", ErrNoFeeRate, strings.Join(res.Errors, "; "))
		}
		return 0, ErrNoFeeRate
	}
	return BtcPerKvbToSatPerVb(*res.FeeRate), nil
}

// BtcPerKvbToSatPerVb converts a node fee rate to sat/vB.
func BtcPerKvbToSatPerVb(btcPerKvb float64) float64 {
	return btcPerKvb * 1e8 / 1000
}

// Send raw transaction to bitcoin network.
func (r *RpcClient) SendRawTx(tx *wire.MsgTx) (*chainhash.Hash, error) {
	// Explanation on allowHighFees=true
	// It is a protection.
	// if bitcoin node thinks your fee is too high (maybe due to program mistakes) it can reject you.
	// false = may reject; true = accept it anyway
	txHash, err := r.client.SendRawTransaction(tx, true)
	return txHash, err
}

// ParseRawTx decodes a hex serialized transaction.
func ParseRawTx(signedHex string) (*wire.MsgTx, error) {
	signedHex = strings.TrimSpace(signedHex)
	if signedHex == "" {
		return nil, ErrEmptyRawTx
	}
	raw, err := hex.DecodeString(signedHex)
	if err != nil {
		return nil, err
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return tx, nil
}

// Broadcast submits a signed hex tx and returns its txid and explorer link.
// Node errors come back unchanged.
func (r *RpcClient) Broadcast(signedHex string) (string, string, error) {
	tx, err := ParseRawTx(signedHex)
	if err != nil {
		return "", "", err
	}
	txHash, err := r.SendRawTx(tx)
	if err != nil {
		return "", "", err
	}
	txid := txHash.String()
	return txid, r.ExplorerURL(txid), nil
}

// ExplorerURL links a txid on the configured block explorer.
func (r *RpcClient) ExplorerURL(txid string) string {
	return ExplorerURL(r.explorerBase, txid)
}

func ExplorerURL(base, txid string) string {
	base = strings.TrimRight(base, "/")
	if base == "" {
		base = DefaultExplorerBase
	}
	return base + "/tx/" + txid
}

// Import an address to the node's wallet so listunspent can see it.
// Note: Only imported keys/addresses are monitored by bitcoin core!
func (r *RpcClient) ImportAddress(address string, rescan bool) error {
	return r.client.ImportAddressRescan(address, "", rescan)
}

