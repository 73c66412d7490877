package assembler

import (
	"errors"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg"
)

var ErrUnknownNetwork = errors.New("unknown btc network name")

// DecodeWIF decodes a string private key to *btcutil.WIF
func DecodeWIF(privKeyStr string) (*btcutil.WIF, error) {
	decoded := base58.Decode(privKeyStr)
	if len(decoded) == 0 {
		return nil, errors.New("invalid private key string (cannot pass base58 decode)")
	}

	wif, err := btcutil.DecodeWIF(privKeyStr)
	if err != nil {
		return nil, err
	}

	return wif, nil
}

// DecodeAddress decodes a string address and checks it belongs to network.
func DecodeAddress(addressStr string, network *chaincfg.Params) (btcutil.Address, error) {
	address, err := btcutil.DecodeAddress(addressStr, network)
	if err != nil {
		return nil, err
	}
	if !address.IsForNet(network) {
		return nil, errors.New("address " + addressStr + " is not for network " + network.Name)
	}
	return address, nil
}

func GetMainnetParams() *chaincfg.Params {
	return &chaincfg.MainNetParams
}

func GetTestnetParams() *chaincfg.Params {
	return &chaincfg.TestNet3Params
}

func GetRegtestParams() *chaincfg.Params {
	return &chaincfg.RegressionNetParams
}

func GetSignetParams() *chaincfg.Params {
	return &chaincfg.SigNetParams
}

// ParamsByName maps a config value (mainnet, testnet, signet, regtest) to
// chain params. An empty name means regtest.
func ParamsByName(name string) (*chaincfg.Params, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mainnet", "main":
		return GetMainnetParams(), nil
	case "testnet", "testnet3", "testnet4":
		return GetTestnetParams(), nil
	case "signet":
		return GetSignetParams(), nil
	case "regtest", "":
		return GetRegtestParams(), nil
	default:
		return nil, ErrUnknownNetwork
	}
}
