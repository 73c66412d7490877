package btcsync

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/TEENet-io/turbomint/btcman/utxo"
	"github.com/TEENet-io/turbomint/btcvault"
)

const (
	SCAN_INTERVAL = 30 * time.Second
)

var ErrNoAddresses = errors.New("scanner has no wallet addresses")

// CoinLister enumerates unspent coins held by addresses.
type CoinLister interface {
	ListCoins(addresses []string) ([]utxo.Coin, error)
}

// WalletScanner finds the spendable coins across every wallet address.
type WalletScanner struct {
	lister    CoinLister
	vault     *btcvault.CoinVault
	addresses []string
}

// NewWalletScanner scans addresses in the given order. vault may be nil.
func NewWalletScanner(lister CoinLister, vault *btcvault.CoinVault, addresses ...string) *WalletScanner {
	return &WalletScanner{lister: lister, vault: vault, addresses: addresses}
}

func (s *WalletScanner) Addresses() []string {
	return append([]string(nil), s.addresses...)
}

// Scan lists every address, drops duplicates (first wins) and protected
// coins, records the rest in the vault and returns the ones the vault
// still considers usable, in discovery order.
func (s *WalletScanner) Scan(ctx context.Context) ([]utxo.Coin, error) {
	if len(s.addresses) == 0 {
		return nil, ErrNoAddresses
	}

	perAddr := make([][]utxo.Coin, len(s.addresses))
	g, gctx := errgroup.WithContext(ctx)
	for i, addr := range s.addresses {
		i, addr := i, addr
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			coins, err := s.lister.ListCoins([]string{addr})
			if err != nil {
				return err
			}
			perAddr[i] = coins
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []utxo.Coin
	for _, coins := range perAddr {
		all = append(all, coins...)
	}
	found := utxo.Dedup(all)
	spendable := utxo.FilterSpendable(found)
	for i := range spendable {
		spendable[i].Source = utxo.SourceExisting
	}

	logger.WithFields(logger.Fields{
		"addresses": len(s.addresses),
		"found":     len(found),
		"protected": len(found) - len(spendable),
	}).Debug("wallet scanned")

	if s.vault == nil {
		return spendable, nil
	}
	if _, err := s.vault.AddCoins(spendable); err != nil {
		return nil, err
	}
	usable, err := s.vault.UsableCoins()
	if err != nil {
		return nil, err
	}

	// coins the node no longer lists are gone, whatever the vault says
	usableKeys := make(map[string]bool, len(usable))
	for _, c := range usable {
		usableKeys[c.Key()] = true
	}
	out := make([]utxo.Coin, 0, len(spendable))
	for _, c := range spendable {
		if usableKeys[c.Key()] {
			out = append(out, c)
		}
	}
	return out, nil
}

// ScanLoop scans right away and then every interval, handing each
// successful result to onCoins. Scan errors are logged and retried.
func (s *WalletScanner) ScanLoop(ctx context.Context, interval time.Duration, onCoins func([]utxo.Coin)) error {
	if interval <= 0 {
		interval = SCAN_INTERVAL
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.scanOnce(ctx, onCoins)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *WalletScanner) scanOnce(ctx context.Context, onCoins func([]utxo.Coin)) {
	if s.vault != nil {
		if n, err := s.vault.ReleaseByExpire(); err != nil {
			logger.Warnf("failed to release expired coin locks: %v", err)
		} else if n > 0 {
			logger.WithField("released", n).Info("expired coin locks released")
		}
	}

	coins, err := s.Scan(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warnf("wallet scan failed, retry on next tick: %v", err)
		}
		return
	}
	if onCoins != nil {
		onCoins(coins)
	}
}
