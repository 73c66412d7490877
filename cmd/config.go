package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/viper"

	"github.com/TEENet-io/turbomint/btcman/assembler"
	"github.com/TEENet-io/turbomint/btcsync"
	"github.com/TEENet-io/turbomint/funding"
)

// Configuration keys, read from env vars, flags or the config file.
const (
	KEY_BTC_CHAIN_CONFIG   = "BTC_CHAIN_CONFIG"
	KEY_BTC_RPC_SERVER     = "BTC_RPC_SERVER"
	KEY_BTC_RPC_PORT       = "BTC_RPC_PORT"
	KEY_BTC_RPC_USERNAME   = "BTC_RPC_USERNAME"
	KEY_BTC_RPC_PWD        = "BTC_RPC_PWD"
	KEY_EXPLORER_BASE      = "EXPLORER_BASE"
	KEY_WALLET_PRIV        = "WALLET_PRIV"
	KEY_WALLET_CHANGE_ADDR = "WALLET_CHANGE_ADDR"
	KEY_DB_FILE_PATH       = "DB_FILE_PATH"
	KEY_HTTP_IP            = "HTTP_IP"
	KEY_HTTP_PORT          = "HTTP_PORT"
	KEY_REQUIRED_OUTPUTS   = "REQUIRED_OUTPUTS"
	KEY_AUTO_ANALYZE       = "AUTO_ANALYZE"
	KEY_FORCE_RESCAN       = "FORCE_RESCAN"
	KEY_MIN_UTXO_VALUE     = "MIN_UTXO_VALUE"
	KEY_BASE_FEE           = "BASE_FEE"
	KEY_FEE_PER_OUTPUT     = "FEE_PER_OUTPUT"
	KEY_MIN_CHANGE_VALUE   = "MIN_CHANGE_VALUE"
	KEY_POLL_INTERVAL      = "POLL_INTERVAL"
	KEY_MIN_CONFIRMATIONS  = "MIN_CONFIRMATIONS"
	KEY_NOT_FOUND_GRACE    = "NOT_FOUND_GRACE"
	KEY_SCAN_INTERVAL      = "SCAN_INTERVAL"
	KEY_FEE_TARGET_BLOCKS  = "FEE_TARGET_BLOCKS"
	KEY_LOG_FILE           = "LOG_FILE"
)

var (
	ErrNoWalletKey = errors.New("WALLET_PRIV is not set")
	ErrNoDbFile    = errors.New("DB_FILE_PATH is not set")
)

// Keep the configuration's fields as "text" as possible.
// Its easier to load it from env vars or a config file.
type ServerConfig struct {
	// btc side
	BtcChainConfig *chaincfg.Params `json:"-"`
	BtcNetwork     string
	BtcRpcServer   string
	BtcRpcPort     string
	BtcRpcUsername string
	BtcRpcPwd      string `json:"-"`
	ExplorerBase   string

	// wallet
	WalletPriv       string `json:"-"` // WIF, never printed
	WalletChangeAddr string

	// state side
	DbFilePath string

	// Http side
	HttpIp   string // eg. 0.0.0.0
	HttpPort string // eg. 8080

	// pipeline
	RequiredOutputs uint
	AutoAnalyze     bool
	ForceRescan     bool
	FundingParams   funding.Params
	Monitor         btcsync.MonitorConfig
	ScanInterval    time.Duration
	FeeTargetBlocks uint

	LogFile string
}

// SetDefaults registers the defaults of every non-credential key.
func SetDefaults(v *viper.Viper) {
	d := funding.DefaultParams()
	m := btcsync.DefaultMonitorConfig()
	v.SetDefault(KEY_BTC_CHAIN_CONFIG, "regtest")
	v.SetDefault(KEY_BTC_RPC_SERVER, "127.0.0.1")
	v.SetDefault(KEY_BTC_RPC_PORT, "18443")
	v.SetDefault(KEY_HTTP_IP, "0.0.0.0")
	v.SetDefault(KEY_HTTP_PORT, "8080")
	v.SetDefault(KEY_MIN_UTXO_VALUE, d.MinUtxoValue)
	v.SetDefault(KEY_BASE_FEE, d.BaseFee)
	v.SetDefault(KEY_FEE_PER_OUTPUT, d.FeePerOutput)
	v.SetDefault(KEY_MIN_CHANGE_VALUE, d.MinChangeValue)
	v.SetDefault(KEY_POLL_INTERVAL, m.PollInterval)
	v.SetDefault(KEY_MIN_CONFIRMATIONS, m.MinConfirmations)
	v.SetDefault(KEY_NOT_FOUND_GRACE, m.NotFoundGrace)
	v.SetDefault(KEY_SCAN_INTERVAL, btcsync.SCAN_INTERVAL)
}

// PrepareServerConfig reads configuration variables and returns a ServerConfig.
func PrepareServerConfig(v *viper.Viper) (*ServerConfig, error) {
	params, err := assembler.ParamsByName(v.GetString(KEY_BTC_CHAIN_CONFIG))
	if err != nil {
		return nil, fmt.Errorf("%s=%q: %w", KEY_BTC_CHAIN_CONFIG, v.GetString(KEY_BTC_CHAIN_CONFIG), err)
	}

	sc := &ServerConfig{
		BtcChainConfig:   params,
		BtcNetwork:       params.Name,
		BtcRpcServer:     v.GetString(KEY_BTC_RPC_SERVER),
		BtcRpcPort:       v.GetString(KEY_BTC_RPC_PORT),
		BtcRpcUsername:   v.GetString(KEY_BTC_RPC_USERNAME),
		BtcRpcPwd:        v.GetString(KEY_BTC_RPC_PWD),
		ExplorerBase:     v.GetString(KEY_EXPLORER_BASE),
		WalletPriv:       v.GetString(KEY_WALLET_PRIV),
		WalletChangeAddr: v.GetString(KEY_WALLET_CHANGE_ADDR),
		DbFilePath:       v.GetString(KEY_DB_FILE_PATH),
		HttpIp:           v.GetString(KEY_HTTP_IP),
		HttpPort:         v.GetString(KEY_HTTP_PORT),
		RequiredOutputs:  v.GetUint(KEY_REQUIRED_OUTPUTS),
		AutoAnalyze:      v.GetBool(KEY_AUTO_ANALYZE),
		ForceRescan:      v.GetBool(KEY_FORCE_RESCAN),
		FundingParams: funding.Params{
			MinUtxoValue:   v.GetInt64(KEY_MIN_UTXO_VALUE),
			BaseFee:        v.GetInt64(KEY_BASE_FEE),
			FeePerOutput:   v.GetInt64(KEY_FEE_PER_OUTPUT),
			MinChangeValue: v.GetInt64(KEY_MIN_CHANGE_VALUE),
		},
		Monitor: btcsync.MonitorConfig{
			PollInterval:     v.GetDuration(KEY_POLL_INTERVAL),
			MinConfirmations: v.GetUint(KEY_MIN_CONFIRMATIONS),
			NotFoundGrace:    v.GetDuration(KEY_NOT_FOUND_GRACE),
		},
		ScanInterval:    v.GetDuration(KEY_SCAN_INTERVAL),
		FeeTargetBlocks: v.GetUint(KEY_FEE_TARGET_BLOCKS),
		LogFile:         v.GetString(KEY_LOG_FILE),
	}

	if sc.WalletPriv == "" {
		return nil, ErrNoWalletKey
	}
	if sc.DbFilePath == "" {
		return nil, ErrNoDbFile
	}
	if sc.WalletChangeAddr != "" {
		if _, err := assembler.DecodeAddress(sc.WalletChangeAddr, params); err != nil {
			return nil, fmt.Errorf("%s: %w", KEY_WALLET_CHANGE_ADDR, err)
		}
	}
	return sc, nil
}
