package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Flags holds parsed command-line flags.
type Flags struct {
	Help    bool
	Version bool

	Network string
	DataDir string
	Config  string

	Backend      string
	JSONEndpoint string
	P2PPeerAddr  string

	CreateIfMissing     bool
	RestoreFromSeed     string
	RestoreFromMnemonic string
	RestoreFromHeight   string
	CreationHeight      string

	LogLevel string
	LogFile  string
	LogJSON  bool

	Args []string

	SetCreateIfMissing bool
	SetLogJSON         bool
}

// ParseFlags parses command-line flags.
func ParseFlags() *Flags {
	f := &Flags{}
	fs := flag.NewFlagSet("lightwallet", flag.ContinueOnError)

	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")

	fs.StringVar(&f.Network, "network", "", "Network: mainnet, testnet, signet, or regtest")
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")

	fs.StringVar(&f.Backend, "backend", "", "Fetch provider backend: json or p2p")
	fs.StringVar(&f.JSONEndpoint, "json-endpoint", "", "Framed JSON transport endpoint, e.g. host:port")
	fs.StringVar(&f.P2PPeerAddr, "p2p-peer", "", "Single configured P2P peer address, e.g. host:port")

	fs.BoolVar(&f.CreateIfMissing, "create-if-missing", false, "Create the wallet if it does not exist")
	fs.StringVar(&f.RestoreFromSeed, "restore-from-seed", "", "Restore from a hex-encoded seed")
	fs.StringVar(&f.RestoreFromMnemonic, "restore-from-mnemonic", "", "Restore from a mnemonic phrase")
	fs.StringVar(&f.RestoreFromHeight, "restore-from-height", "", "Height to start restore scan from")
	fs.StringVar(&f.CreationHeight, "creation-height", "", "Creation height for a new wallet")

	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	fs.Usage = func() {
		printUsage()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	f.SetCreateIfMissing = isFlagSet(fs, "create-if-missing")
	f.SetLogJSON = isFlagSet(fs, "log-json")
	f.Args = fs.Args()

	for _, arg := range f.Args {
		if strings.HasPrefix(arg, "-") {
			fmt.Fprintf(os.Stderr, "Error: flag %q was not parsed (positional argument stopped parsing)\n", arg)
			os.Exit(1)
		}
	}

	return f
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) error {
	if f.Network != "" {
		cfg.Network = NetworkType(f.Network)
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
	if f.Backend != "" {
		cfg.Backend = Backend(f.Backend)
	}
	if f.JSONEndpoint != "" {
		cfg.JSON.Endpoint = f.JSONEndpoint
	}
	if f.P2PPeerAddr != "" {
		cfg.P2P.PeerAddr = f.P2PPeerAddr
	}
	if f.SetCreateIfMissing {
		cfg.CreateIfMissing = f.CreateIfMissing
	}
	if f.RestoreFromSeed != "" {
		cfg.RestoreFromSeed = f.RestoreFromSeed
	}
	if f.RestoreFromMnemonic != "" {
		cfg.RestoreFromMnemonic = f.RestoreFromMnemonic
	}
	if f.RestoreFromHeight != "" {
		n, err := strconv.ParseUint(f.RestoreFromHeight, 10, 32)
		if err != nil {
			return fmt.Errorf("restore-from-height: %w", err)
		}
		cfg.RestoreFromHeight = uint32(n)
	}
	if f.CreationHeight != "" {
		n, err := strconv.ParseUint(f.CreationHeight, 10, 32)
		if err != nil {
			return fmt.Errorf("creation-height: %w", err)
		}
		cfg.CreationHeight = uint32(n)
		cfg.HasCreationHeight = true
	}
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
	return nil
}

func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func printUsage() {
	usage := `lightwalletd - light wallet sync daemon

Usage:
  lightwalletd [options]
  lightwalletd --help

Commands:
  --help, -h      Show this help message
  --version, -v   Show version information

Core Options:
  --network         mainnet (default), testnet, signet, or regtest
  --datadir         Data directory (default: ~/.lightwalletd)
  --config, -c      Config file path (default: <datadir>/lightwalletd.conf)

Fetch Provider Options:
  --backend            json (default) or p2p
  --json-endpoint      Framed JSON transport endpoint, e.g. host:port
  --p2p-peer           Single configured P2P peer, e.g. host:port

Wallet Options:
  --create-if-missing       Create the wallet database if it does not exist
  --restore-from-seed       Restore from a hex-encoded seed
  --restore-from-mnemonic   Restore from a mnemonic phrase
  --restore-from-height     Height to start the restore scan from
  --creation-height         Creation height for a brand-new wallet

Logging Options:
  --log-level     debug, info, warn, error (default: info)
  --log-file      Log file path (default: <datadir>/logs/lightwalletd.log)
  --log-json      Output logs as JSON

Examples:
  lightwalletd --backend=json --json-endpoint=127.0.0.1:50001
  lightwalletd --backend=p2p --p2p-peer=127.0.0.1:44440 --network=testnet
`
	fmt.Print(usage)
}

// Load loads configuration with the following precedence:
// 1. Default values
// 2. Auto-create data dirs + default config (idempotent)
// 3. Config file
// 4. Command-line flags
func Load() (*Config, *Flags, error) {
	flags := ParseFlags()

	if flags.Help {
		printUsage()
		os.Exit(0)
	}
	if flags.Version {
		fmt.Println("lightwalletd version 0.1.0")
		os.Exit(0)
	}

	network := Mainnet
	if flags.Network != "" {
		network = NetworkType(strings.ToLower(flags.Network))
	}

	cfg := Default(network)

	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}

	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config file: %w", err)
	}

	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, nil, fmt.Errorf("applying config file: %w", err)
	}

	if err := ApplyFlags(cfg, flags); err != nil {
		return nil, nil, fmt.Errorf("applying flags: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, flags, nil
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist. Idempotent — safe to call on every startup.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.ChainDataDir(),
		cfg.WalletDir(),
		cfg.LogsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath, cfg.Network); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}

	return nil
}
