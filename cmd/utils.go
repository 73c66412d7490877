package cmd

import (
	"os"

	"github.com/btcsuite/btcd/chaincfg"

	btcrpc "github.com/TEENet-io/turbomint/btcman/rpc"
)

// FileExists checks if a file exists and is readable
func FileExists(filePath string) bool {
	file, err := os.Open(filePath)
	if err != nil {
		return false
	}
	defer file.Close()
	return true
}

// SetupBtcRpc creates a btc rpc client.
func SetupBtcRpc(server, port, username, password string, params *chaincfg.Params, explorerBase string) (*btcrpc.RpcClient, error) {
	return btcrpc.NewRpcClient(&btcrpc.RpcClientConfig{
		ServerAddr:   server,
		Port:         port,
		Username:     username,
		Pwd:          password,
		ChainConfig:  params,
		ExplorerBase: explorerBase,
	})
}
