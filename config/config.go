// Package config handles program configuration for the wallet sync engine.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// NetworkType identifies the active chain network.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
	Signet  NetworkType = "signet"
	Regtest NetworkType = "regtest"
)

// Backend selects which Fetch Provider transport the facade dials.
type Backend string

const (
	BackendJSON Backend = "json"
	BackendP2P  Backend = "p2p"
)

// Config is the program surface described for the wallet facade: the set of
// recognized options a caller passes to open, create, or restore a wallet.
type Config struct {
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	WalletDBPath string  `conf:"wallet_db_path"`
	Backend      Backend `conf:"backend"`

	JSON JSONOpts `conf:"json_opts"`
	P2P  P2POpts  `conf:"p2p_opts"`

	CreateIfMissing     bool   `conf:"create_if_missing"`
	RestoreFromSeed     string `conf:"restore_from_seed"`     // hex
	RestoreFromMnemonic string `conf:"restore_from_mnemonic"`
	RestoreFromHeight   uint32 `conf:"restore_from_height"`
	CreationHeight      uint32 `conf:"creation_height"`
	HasCreationHeight   bool   `conf:"-"`

	Log LogConfig
}

// JSONOpts configures the framed JSON-RPC transport (§4.D.1).
type JSONOpts struct {
	Endpoint       string `conf:"json.endpoint"`
	RequestTimeout int    `conf:"json.timeout_seconds"` // default 30
}

// P2POpts configures the raw P2P transport (§4.D.2).
type P2POpts struct {
	PeerAddr   string `conf:"p2p.peer_addr"` // single configured endpoint, no discovery
	ListenAddr string `conf:"p2p.listen"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.lightwalletd
//	macOS:   ~/Library/Application Support/Lightwalletd
//	Windows: %APPDATA%\Lightwalletd
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lightwalletd"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Lightwalletd")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Lightwalletd")
		}
		return filepath.Join(home, "AppData", "Roaming", "Lightwalletd")
	default:
		return filepath.Join(home, ".lightwalletd")
	}
}

// ChainDataDir returns the network-specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// WalletDir returns the wallet storage directory.
func (c *Config) WalletDir() string {
	if c.WalletDBPath != "" {
		return c.WalletDBPath
	}
	return filepath.Join(c.ChainDataDir(), "wallet")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "lightwalletd.conf")
}
