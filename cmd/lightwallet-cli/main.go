// lightwallet-cli is a command-line client for a lightwalletd wallet: it
// opens the same on-disk keystore and wallet database the daemon uses and
// lets a user create/restore wallets, check balances, receive, send, and
// inspect history without a daemon running in the background.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/klingon-tech/lightwalletd/config"
	"github.com/klingon-tech/lightwalletd/internal/fetch"
	"github.com/klingon-tech/lightwalletd/internal/fetch/jsonrpc"
	"github.com/klingon-tech/lightwalletd/internal/fetch/p2p"
	"github.com/klingon-tech/lightwalletd/internal/keymgr"
	"github.com/klingon-tech/lightwalletd/internal/storage"
	"github.com/klingon-tech/lightwalletd/internal/syncengine"
	"github.com/klingon-tech/lightwalletd/internal/walletfacade"
	"github.com/klingon-tech/lightwalletd/pkg/chainparams"
	"github.com/klingon-tech/lightwalletd/pkg/cryptoadapter"
	"golang.org/x/term"
)

// walletDir returns the keystore/database path matching lightwalletd's
// layout: <datadir>/<network>/wallet
func walletDir(dataDir, network string) string {
	return filepath.Join(dataDir, network, "wallet")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	// Global defaults, overridden by flags scanned before the subcommand.
	dataDir := config.DefaultDataDir()
	network := "mainnet"
	backend := "json"
	endpoint := ""
	peerAddr := ""
	walletName := "default"

	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--datadir" && len(args) > 1:
			dataDir = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--datadir="):
			dataDir = args[0][len("--datadir="):]
			args = args[1:]
		case args[0] == "--network" && len(args) > 1:
			network = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--network="):
			network = args[0][len("--network="):]
			args = args[1:]
		case args[0] == "--backend" && len(args) > 1:
			backend = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--backend="):
			backend = args[0][len("--backend="):]
			args = args[1:]
		case args[0] == "--json-endpoint" && len(args) > 1:
			endpoint = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--json-endpoint="):
			endpoint = args[0][len("--json-endpoint="):]
			args = args[1:]
		case args[0] == "--p2p-peer" && len(args) > 1:
			peerAddr = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--p2p-peer="):
			peerAddr = args[0][len("--p2p-peer="):]
			args = args[1:]
		case args[0] == "--wallet" && len(args) > 1:
			walletName = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--wallet="):
			walletName = args[0][len("--wallet="):]
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	params, err := chainparams.ForNetwork(chainparams.Network(network))
	if err != nil {
		fatal("unknown network %q: %v", network, err)
	}

	env := &cliEnv{
		dataDir:    dataDir,
		network:    network,
		backend:    backend,
		endpoint:   endpoint,
		peerAddr:   peerAddr,
		walletName: walletName,
		params:     params,
		adapter:    cryptoadapter.New(),
	}

	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "create":
		cmdCreate(env, cmdArgs)
	case "restore":
		cmdRestore(env, cmdArgs)
	case "balance":
		cmdBalance(env, cmdArgs)
	case "receive":
		cmdReceive(env, cmdArgs)
	case "send":
		cmdSend(env, cmdArgs)
	case "history":
		cmdHistory(env, cmdArgs)
	case "sync":
		cmdSync(env, cmdArgs)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: lightwallet-cli [global flags] <command> [flags]

Global flags:
  --datadir <path>       Data directory (default: ~/.lightwalletd)
  --network <net>        mainnet (default), testnet, signet, or regtest
  --backend <json|p2p>   Fetch provider backend (default: json)
  --json-endpoint <addr> Framed JSON transport endpoint (host:port)
  --p2p-peer <addr>      Single configured P2P peer
  --wallet <name>        Wallet name (default: "default")

Commands:
  create                      Generate a new wallet and print its mnemonic
  restore --mnemonic <words>  Restore a wallet from a mnemonic phrase
  balance [--account N]       Show confirmed/unconfirmed balance
  receive [--account N]       Derive and print a fresh receive address
  send --to <addr> --amount <n> [--memo <text>] [--subtract-fee]
                               Build, sign, and broadcast a transaction
  history [--account N]       List every output ever received, with spends
  sync                        Run one synchronous sync pass against the fetch provider
  help                        Show this help message
`)
}

// cliEnv bundles the global flags and derived chain parameters every
// subcommand needs.
type cliEnv struct {
	dataDir    string
	network    string
	backend    string
	endpoint   string
	peerAddr   string
	walletName string
	params     chainparams.Params
	adapter    cryptoadapter.Adapter
}

func (e *cliEnv) keystore() (*keymgr.Keystore, error) {
	return keymgr.NewKeystore(walletDir(e.dataDir, e.network) + "/keystore")
}

// openStore opens the badger database shared by every wallet in this data
// directory, returning a WalletStore scoped to e.walletName's own key
// namespace via storage.PrefixDB — --wallet lets several named wallets
// coexist in the same directory without their UTXO sets colliding. The
// caller must close via the returned DB's Close when done.
func (e *cliEnv) openStore() (*storage.WalletStore, *storage.BadgerDB, error) {
	db, err := storage.NewBadger(walletDir(e.dataDir, e.network))
	if err != nil {
		return nil, nil, fmt.Errorf("open wallet database: %w", err)
	}
	ns := storage.NewPrefixDB(db, []byte("wallet:"+e.walletName+":"))
	store, err := storage.NewWalletStore(ns)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("open wallet store: %w", err)
	}
	return store, db, nil
}

func (e *cliEnv) buildProvider() (fetch.Provider, error) {
	switch e.backend {
	case "json":
		if e.endpoint == "" {
			return nil, fmt.Errorf("backend json requires --json-endpoint")
		}
		return jsonrpc.New(e.endpoint, 30*time.Second), nil
	case "p2p":
		if e.peerAddr == "" {
			return nil, fmt.Errorf("backend p2p requires --p2p-peer")
		}
		return p2p.New(e.peerAddr, e.params, 30*time.Second), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", e.backend)
	}
}

func cmdCreate(env *cliEnv, args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	lookahead := fs.Uint64("lookahead", keymgr.DefaultLookahead, "Number of addresses to pre-derive per account")
	fs.Parse(args)

	ks, err := env.keystore()
	if err != nil {
		fatal("open keystore: %v", err)
	}

	password := readPasswordConfirmed()

	opened, err := walletfacade.CreateWallet(ks, env.adapter, env.walletName, password, *lookahead)
	if err != nil {
		fatal("create wallet: %v", err)
	}

	fmt.Println("Mnemonic (write this down, it cannot be recovered from the wallet file):")
	fmt.Printf("  %s\n\n", opened.Mnemonic)

	dest, err := firstReceiveAddress(opened, env.params.AddressHRP)
	if err != nil {
		fatal("derive receive address: %v", err)
	}
	fmt.Printf("Wallet %q created.\nReceive address: %s\n", env.walletName, dest)
}

func cmdRestore(env *cliEnv, args []string) {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	mnemonic := fs.String("mnemonic", "", "BIP-39 mnemonic (24 words)")
	lookahead := fs.Uint64("lookahead", keymgr.DefaultLookahead, "Number of addresses to pre-derive per account")
	fs.Parse(args)

	if *mnemonic == "" {
		fatal("Usage: lightwallet-cli restore --mnemonic \"word1 word2 ...\"")
	}

	ks, err := env.keystore()
	if err != nil {
		fatal("open keystore: %v", err)
	}

	password := readPasswordConfirmed()

	opened, err := walletfacade.RestoreWalletFromMnemonic(ks, env.adapter, env.walletName, password, *mnemonic, *lookahead)
	if err != nil {
		fatal("restore wallet: %v", err)
	}

	dest, err := firstReceiveAddress(opened, env.params.AddressHRP)
	if err != nil {
		fatal("derive receive address: %v", err)
	}
	fmt.Printf("Wallet %q restored.\nReceive address: %s\n", env.walletName, dest)
}

func cmdBalance(env *cliEnv, args []string) {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	account := fs.Int64("account", int64(keymgr.AccountReceivingBase), "Account index")
	fs.Parse(args)

	_, facade, closeFn := mustOpenFacade(env, false)
	defer closeFn()

	confirmed, unconfirmed, err := facade.Balance(int32(*account), nil)
	if err != nil {
		fatal("balance: %v", err)
	}
	fmt.Printf("Confirmed:   %d\n", confirmed)
	fmt.Printf("Unconfirmed: %d\n", unconfirmed)
}

func cmdReceive(env *cliEnv, args []string) {
	fs := flag.NewFlagSet("receive", flag.ExitOnError)
	account := fs.Int64("account", int64(keymgr.AccountReceivingBase), "Account index")
	fs.Parse(args)

	opened, _, closeFn := mustOpenFacade(env, false)
	defer closeFn()

	sub, err := opened.Keys.GenerateNewSubAddress(int32(*account))
	if err != nil {
		fatal("generate address: %v", err)
	}
	dest, err := opened.Keys.DestinationFor(sub)
	if err != nil {
		fatal("destination: %v", err)
	}
	fmt.Println(keymgr.EncodeAddress(env.params.AddressHRP, dest))
}

func cmdSend(env *cliEnv, args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	to := fs.String("to", "", "Destination address")
	amount := fs.Uint64("amount", 0, "Amount to send, in the base unit")
	memo := fs.String("memo", "", "Optional memo")
	subtractFee := fs.Bool("subtract-fee", false, "Subtract the fee from amount instead of adding it on top")
	fs.Parse(args)

	if *to == "" || *amount == 0 {
		fatal("Usage: lightwallet-cli send --to <addr> --amount <n> [--memo <text>] [--subtract-fee]")
	}

	_, facade, closeFn := mustOpenFacade(env, true)
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := facade.SendTransaction(ctx, walletfacade.SendParams{
		Address:               *to,
		Amount:                *amount,
		Memo:                  *memo,
		SubtractFeeFromAmount: *subtractFee,
	})
	if err != nil {
		fatal("send: %v", err)
	}

	fmt.Printf("Transaction broadcast: %s\n", result.TxID)
	fmt.Printf("  Fee:     %d\n", result.Fee)
	fmt.Printf("  Inputs:  %d\n", result.InputCount)
	fmt.Printf("  Outputs: %d\n", result.OutputCount)
}

func cmdHistory(env *cliEnv, args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	account := fs.Int64("account", int64(keymgr.AccountReceivingBase), "Account index")
	fs.Parse(args)

	_, facade, closeFn := mustOpenFacade(env, false)
	defer closeFn()

	entries, err := facade.History(int32(*account), nil)
	if err != nil {
		fatal("history: %v", err)
	}
	if len(entries) == 0 {
		fmt.Println("No transactions.")
		return
	}
	for _, e := range entries {
		status := "unspent"
		if e.Spent {
			status = "spent at height " + strconv.FormatUint(e.SpentHeight, 10)
		}
		fmt.Printf("%-10d %-14s %s  tx=%s  (%s)\n", e.Height, strconv.FormatUint(e.Value, 10), e.OutputHash, e.TxHash, status)
	}
}

func cmdSync(env *cliEnv, args []string) {
	_, facade, closeFn := mustOpenFacade(env, true)
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	progress, err := facade.RunOnce(ctx, &syncengine.Callbacks{
		OnProgress: func(p syncengine.Progress) {
			fmt.Printf("height=%d tip=%d blocks_processed=%d\n", p.Height, p.Tip, p.BlocksProcessed)
		},
	})
	if err != nil {
		fatal("sync: %v", err)
	}
	fmt.Printf("Synced to height %d (tip %d)\n", progress.Height, progress.Tip)
}

// mustOpenFacade unlocks env's wallet, opens its store, and — when
// connect is true — dials the configured fetch provider, assembling a
// ready-to-use Facade. The returned closer releases the database and, if
// opened, the provider connection.
func mustOpenFacade(env *cliEnv, connect bool) (*walletfacade.OpenedWallet, *walletfacade.Facade, func()) {
	ks, err := env.keystore()
	if err != nil {
		fatal("open keystore: %v", err)
	}
	password := readPassword("Wallet password: ")

	opened, err := walletfacade.UnlockWallet(ks, env.adapter, env.walletName, password)
	if err != nil {
		fatal("unlock wallet: %v", err)
	}

	store, db, err := env.openStore()
	if err != nil {
		fatal("%v", err)
	}

	// The facade always wires a fetch.Provider into its sync engine, even for
	// commands (balance, receive, history) that only ever read the local
	// store — only the network handshake is conditional on connect.
	provider, err := env.buildProvider()
	if err != nil {
		db.Close()
		fatal("%v", err)
	}
	if connect {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Connect(ctx); err != nil {
			db.Close()
			fatal("connect: %v", err)
		}
	}

	facade := walletfacade.New(walletfacade.Config{
		Store:    store,
		Keys:     opened.Keys,
		Provider: provider,
		Adapter:  env.adapter,
		Params:   env.params,
	})

	return opened, facade, func() {
		if connect {
			provider.Close()
		}
		db.Close()
	}
}

// firstReceiveAddress returns the encoded address of the first (index 0)
// receiving sub-address a freshly created or restored wallet already has
// pre-derived via its lookahead pool.
func firstReceiveAddress(opened *walletfacade.OpenedWallet, hrp string) (string, error) {
	sub, err := opened.Keys.DeriveSubAddress(keymgr.AccountReceivingBase, 0)
	if err != nil {
		return "", err
	}
	dest, err := opened.Keys.DestinationFor(sub)
	if err != nil {
		return "", err
	}
	return keymgr.EncodeAddress(hrp, dest), nil
}

// ── Password helpers ─────────────────────────────────────────────────────

func readPassword(prompt string) []byte {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fatal("read password: %v", err)
	}
	return password
}

func readPasswordConfirmed() []byte {
	password := readPassword("Enter password: ")
	confirm := readPassword("Confirm password: ")
	if string(password) != string(confirm) {
		fatal("passwords do not match")
	}
	return password
}

// ── Error helper ─────────────────────────────────────────────────────────

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
