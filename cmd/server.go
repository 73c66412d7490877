// Server = btc rpc + wallet signer + coin vault + state db + monitors +
// coordinator + http reporter. Configured via viper (env vars, flags, file).

package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"

	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/turbomint/btcman/assembler"
	"github.com/TEENet-io/turbomint/btcman/fee"
	btcrpc "github.com/TEENet-io/turbomint/btcman/rpc"
	"github.com/TEENet-io/turbomint/btcman/utxo"
	"github.com/TEENet-io/turbomint/btcsync"
	"github.com/TEENet-io/turbomint/btctxmanager"
	"github.com/TEENet-io/turbomint/btcvault"
	"github.com/TEENet-io/turbomint/coordinator"
	"github.com/TEENet-io/turbomint/database"
	"github.com/TEENet-io/turbomint/funding"
	"github.com/TEENet-io/turbomint/pipeline"
	"github.com/TEENet-io/turbomint/reporter"
)

const (
	PIPELINE_CHANNEL_SIZE = 16
	VAULT_ID              = "wallet"
)

var (
	ErrWalletMismatch       = errors.New("stored wallet belongs to a different key, use a fresh DB_FILE_PATH")
	ErrForeignChangeAddress = errors.New("WALLET_CHANGE_ADDR is not an address of WALLET_PRIV")
)

// Server holds the objects that make up a running turbomint server.
type Server struct {
	Db           *sql.DB
	BtcRpcClient *btcrpc.RpcClient
	Signer       *assembler.TaprootSigner
	Wallet       pipeline.Wallet

	MyVault       *btcvault.CoinVault
	MyScanner     *btcsync.WalletScanner
	MyWatcher     *btcsync.Watcher
	MyStateDb     *pipeline.StateDB
	MyPipeline    *pipeline.Pipeline
	MyEstimator   *fee.Estimator
	MyTxMgr       *btctxmanager.FundingTxManager
	MyCoordinator *coordinator.Coordinator
	MyReporter    *reporter.HttpReporter
}

// NewServer builds and starts the server. ctx cancels every background
// routine; wg waits for them.
func NewServer(ctx context.Context, sc *ServerConfig, wg *sync.WaitGroup) (*Server, error) {
	// 0) wallet key, the only credential
	signer, err := assembler.NewTaprootSigner(sc.WalletPriv, sc.BtcChainConfig)
	if err != nil {
		return nil, fmt.Errorf("cannot create signer from WALLET_PRIV: %w", err)
	}
	wallet, err := walletOf(signer, sc.BtcChainConfig.Name, sc.WalletChangeAddr)
	if err != nil {
		return nil, err
	}
	logger.WithFields(logger.Fields{
		"network": wallet.Network,
		"address": wallet.Address,
		"segwit":  wallet.SegwitAddress,
	}).Info("wallet loaded")

	// 1) connect to btc network
	rpcClient, err := SetupBtcRpc(sc.BtcRpcServer, sc.BtcRpcPort, sc.BtcRpcUsername, sc.BtcRpcPwd, sc.BtcChainConfig, sc.ExplorerBase)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to btc rpc server %s:%s: %w", sc.BtcRpcServer, sc.BtcRpcPort, err)
	}
	importWallet(rpcClient, wallet.Addresses())

	// 2) one sqlite file for the pipeline record and the coin vault
	db, err := database.OpenSQLite(sc.DbFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open db file: %w", err)
	}
	stateDb, err := pipeline.NewStateDB(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create state db: %w", err)
	}
	if err := ensureWallet(ctx, stateDb, wallet); err != nil {
		return nil, err
	}

	vaultStorage, err := btcvault.NewCoinSQLiteStorage(db, VAULT_ID)
	if err != nil {
		return nil, fmt.Errorf("cannot create vault storage: %w", err)
	}
	vault := btcvault.NewCoinVault(wallet.Address, vaultStorage)

	// 3) pipeline writer
	pipe, err := pipeline.New(ctx, stateDb, &pipeline.Config{ChannelSize: PIPELINE_CHANNEL_SIZE})
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := pipe.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("pipeline writer stopped: %v", err)
		}
	}()

	// 4) chain side: scanner, monitors, fees
	scanner := btcsync.NewWalletScanner(rpcClient, vault, wallet.Addresses()...)
	watcher := btcsync.NewWatcher(rpcClient, sc.Monitor)
	estimator := fee.NewEstimator(rpcClient, &fee.Config{TargetBlocks: sc.FeeTargetBlocks})

	params := sc.FundingParams
	planner := funding.NewPlanner(signer, sc.BtcChainConfig, &params)
	txMgr := btctxmanager.NewFundingTxManager(pipe, planner, rpcClient).
		WithVault(vault).
		WithFeeQuoter(estimator)

	coord := coordinator.New(ctx, coordinator.Config{
		RequiredOutputs: sc.RequiredOutputs,
		AutoAnalyze:     sc.AutoAnalyze,
		ForceRescan:     sc.ForceRescan,
	}, pipe, watcher, scanner, funding.NewAnalyzer(&params), txMgr)

	flags, err := coord.Resume(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resume pipeline: %w", err)
	}
	logger.WithField("stage", flags.Current).Info("pipeline resumed")

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer watcher.StopAll()
		scanner.ScanLoop(ctx, sc.ScanInterval, func(coins []utxo.Coin) {
			logger.WithFields(logger.Fields{
				"coins": len(coins),
				"total": utxo.SatsToBTC(utxo.TotalValue(coins)).String(),
			}).Debug("wallet scanned")
		})
	}()

	// 5) http status and control
	httpReporter := reporter.NewHttpReporter(sc.HttpIp, sc.HttpPort, coord, vault, estimator)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpReporter.Run(ctx); err != nil {
			logger.Errorf("http reporter stopped: %v", err)
		}
	}()

	return &Server{
		Db:            db,
		BtcRpcClient:  rpcClient,
		Signer:        signer,
		Wallet:        wallet,
		MyVault:       vault,
		MyScanner:     scanner,
		MyWatcher:     watcher,
		MyStateDb:     stateDb,
		MyPipeline:    pipe,
		MyEstimator:   estimator,
		MyTxMgr:       txMgr,
		MyCoordinator: coord,
		MyReporter:    httpReporter,
	}, nil
}

// Close releases the db and rpc connections once every routine is done.
func (s *Server) Close() {
	s.BtcRpcClient.Close()
	s.MyStateDb.Close()
	s.Db.Close()
}

// walletOf describes the signer's wallet. Change may only go to an address
// the signer can spend, since scanned change coins are funding inputs.
func walletOf(signer *assembler.TaprootSigner, network, changeAddr string) (pipeline.Wallet, error) {
	if changeAddr != "" && !slices.Contains(signer.Addresses(), changeAddr) {
		return pipeline.Wallet{}, fmt.Errorf("%w: %s", ErrForeignChangeAddress, changeAddr)
	}
	return pipeline.Wallet{
		Network:       network,
		Address:       signer.Address(),
		SegwitAddress: signer.SegwitAddress(),
		ChangeAddress: changeAddr,
	}, nil
}

type addressImporter interface {
	ImportAddress(address string, rescan bool) error
}

// importWallet registers the wallet addresses as watch-only on the node so
// listunspent reports them. Failures are logged; the node may already
// watch them, or run without a wallet.
func importWallet(node addressImporter, addresses []string) int {
	imported := 0
	for _, addr := range addresses {
		if err := node.ImportAddress(addr, false); err != nil {
			logger.WithField("address", addr).Warnf("importaddress failed: %v", err)
			continue
		}
		imported++
	}
	return imported
}

// ensureWallet stores the wallet on first run and refuses a different key
// afterwards. Only public data is stored.
func ensureWallet(ctx context.Context, st *pipeline.StateDB, w pipeline.Wallet) error {
	stored, ok, err := st.LoadWallet(ctx)
	if err != nil {
		return err
	}
	if ok && (stored.Address != w.Address || stored.Network != w.Network) {
		return fmt.Errorf("%w: stored %s on %s, configured %s on %s",
			ErrWalletMismatch, stored.Address, stored.Network, w.Address, w.Network)
	}
	if ok && stored == w {
		return nil
	}
	return st.SaveWallet(ctx, w)
}

// StartServerAndWait creates the server and blocks until Ctrl-C.
func StartServerAndWait(sc *ServerConfig) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Printf("Received signal: %v, cancelling context...\n", sig)
		cancel()
	}()

	var wg sync.WaitGroup
	s, err := NewServer(ctx, sc, &wg)
	if err != nil {
		cancel()
		wg.Wait()
		logger.Fatalf("failed to create server: %v", err)
		return
	}

	wg.Wait()
	s.Close()
}
