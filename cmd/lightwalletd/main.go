// lightwalletd is the background sync daemon: it opens a wallet, dials a
// single configured fetch endpoint, and keeps the local UTXO set current
// with the chain, logging progress and balance changes as it goes.
//
// Usage:
//
//	lightwalletd --backend=json --json-endpoint=127.0.0.1:50001
//	lightwalletd --help
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/klingon-tech/lightwalletd/config"
	"github.com/klingon-tech/lightwalletd/internal/fetch"
	"github.com/klingon-tech/lightwalletd/internal/fetch/jsonrpc"
	"github.com/klingon-tech/lightwalletd/internal/fetch/p2p"
	"github.com/klingon-tech/lightwalletd/internal/keymgr"
	klog "github.com/klingon-tech/lightwalletd/internal/log"
	"github.com/klingon-tech/lightwalletd/internal/storage"
	"github.com/klingon-tech/lightwalletd/internal/syncengine"
	"github.com/klingon-tech/lightwalletd/internal/walletfacade"
	"github.com/klingon-tech/lightwalletd/pkg/chainparams"
	"github.com/klingon-tech/lightwalletd/pkg/cryptoadapter"
	"github.com/klingon-tech/lightwalletd/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// pollInterval is how often BackgroundSync checks the fetch provider for a
// new tip once it has caught up.
const pollInterval = 15 * time.Second

func main() {
	// ── 1. Load config (defaults → file → flags) ────────────────────────
	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// ── 2. Init logger ───────────────────────────────────────────────────
	logFile := cfg.Log.File
	if logFile == "" {
		logFile = cfg.LogsDir() + "/lightwalletd.log"
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	logger := klog.WithComponent("daemon")

	params, err := chainparams.ForNetwork(chainparams.Network(cfg.Network))
	if err != nil {
		logger.Fatal().Err(err).Str("network", string(cfg.Network)).Msg("unknown network")
	}

	logger.Info().
		Str("network", string(cfg.Network)).
		Str("backend", string(cfg.Backend)).
		Msg("starting lightwalletd")

	// ── 3. Open storage ───────────────────────────────────────────────────
	db, err := storage.NewBadger(cfg.WalletDir())
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.WalletDir()).Msg("failed to open wallet database")
	}
	defer db.Close()

	// Namespace this wallet's keys under its name so a future multi-wallet
	// daemon can share one Badger database without key collisions.
	walletDB := storage.NewPrefixDB(db, []byte("wallet:"+defaultWalletName+":"))
	store, err := storage.NewWalletStore(walletDB)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open wallet store")
	}

	// ── 4. Open or create the wallet ─────────────────────────────────────
	adapter := cryptoadapter.New()
	opened, err := openWallet(cfg, adapter, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open wallet")
	}
	if opened.Mnemonic != "" {
		fmt.Println("Wallet created. Write down this mnemonic, it is never stored in cleartext:")
		fmt.Printf("  %s\n\n", opened.Mnemonic)
	}

	// ── 5. Build the fetch provider ───────────────────────────────────────
	provider, err := buildProvider(cfg, params)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build fetch provider")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := provider.Connect(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to fetch provider")
	}

	// ── 6. Assemble the facade ────────────────────────────────────────────
	facade := walletfacade.New(walletfacade.Config{
		Store:    store,
		Keys:     opened.Keys,
		Provider: provider,
		Adapter:  adapter,
		Params:   params,
		SyncConfig: syncengine.Config{
			VerifyHashes: true,
			SaveInterval: 10,
		},
	})

	logger.Info().Msg("wallet ready, starting background sync")

	callbacks := &syncengine.Callbacks{
		OnProgress: func(p syncengine.Progress) {
			logger.Info().
				Uint64("height", p.Height).
				Uint64("tip", p.Tip).
				Uint64("blocks", p.BlocksProcessed).
				Msg("sync progress")
		},
		OnNewBlock: func(height uint64, hash types.Hash) {
			logger.Debug().Uint64("height", height).Msg("new block synced")
		},
		OnBalanceChange: func(newTotal, oldTotal uint64) {
			logger.Info().Uint64("old", oldTotal).Uint64("new", newTotal).Msg("balance changed")
		},
		OnError: func(err error) {
			logger.Warn().Err(err).Msg("sync error")
		},
	}

	facade.BackgroundSync(ctx, pollInterval, callbacks)

	// ── 7. Wait for shutdown ──────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	cancel()
	logger.Info().Msg("goodbye")
}

// buildProvider constructs the fetch.Provider named by cfg.Backend.
func buildProvider(cfg *config.Config, params chainparams.Params) (fetch.Provider, error) {
	timeout := time.Duration(cfg.JSON.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	switch cfg.Backend {
	case config.BackendJSON:
		if cfg.JSON.Endpoint == "" {
			return nil, fmt.Errorf("backend json requires --json-endpoint")
		}
		return jsonrpc.New(cfg.JSON.Endpoint, timeout), nil
	case config.BackendP2P:
		if cfg.P2P.PeerAddr == "" {
			return nil, fmt.Errorf("backend p2p requires --p2p-peer")
		}
		return p2p.New(cfg.P2P.PeerAddr, params, timeout), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// defaultWalletName is the single wallet this daemon manages. Multi-wallet
// support is a CLI-only concern (wallet names are passed explicitly there);
// the daemon always drives one wallet per data directory.
const defaultWalletName = "default"

// openWallet creates, restores, or unlocks the daemon's wallet depending on
// cfg's restore/create flags, prompting for the encryption password over
// the controlling terminal when LIGHTWALLET_PASSWORD isn't set.
func openWallet(cfg *config.Config, adapter cryptoadapter.Adapter, logger zerolog.Logger) (*walletfacade.OpenedWallet, error) {
	ks, err := keymgr.NewKeystore(cfg.WalletDir() + "/keystore")
	if err != nil {
		return nil, fmt.Errorf("open keystore: %w", err)
	}

	password, err := walletPassword()
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}

	lookahead := uint64(0) // 0 resumes the persisted cursor, or keymgr.DefaultLookahead for a new wallet.

	switch {
	case cfg.RestoreFromMnemonic != "":
		logger.Info().Msg("restoring wallet from mnemonic")
		return walletfacade.RestoreWalletFromMnemonic(ks, adapter, defaultWalletName, password, cfg.RestoreFromMnemonic, lookahead)
	case cfg.CreateIfMissing:
		names, err := ks.List()
		if err != nil {
			return nil, fmt.Errorf("list wallets: %w", err)
		}
		if !contains(names, defaultWalletName) {
			logger.Info().Msg("creating new wallet")
			return walletfacade.CreateWallet(ks, adapter, defaultWalletName, password, lookahead)
		}
		fallthrough
	default:
		return walletfacade.UnlockWallet(ks, adapter, defaultWalletName, password)
	}
}

func contains(names []string, target string) bool {
	for _, n := range names {
		if n == target {
			return true
		}
	}
	return false
}

// walletPassword reads the wallet encryption password from
// LIGHTWALLET_PASSWORD, falling back to a masked terminal prompt so the
// daemon can also run interactively.
func walletPassword() ([]byte, error) {
	if pw := os.Getenv("LIGHTWALLET_PASSWORD"); pw != "" {
		return []byte(pw), nil
	}
	fmt.Fprint(os.Stderr, "Wallet password: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	return password, nil
}
