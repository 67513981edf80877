package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadFile loads configuration from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

func setConfigValue(cfg *Config, key, value string) error {
	switch key {
	case "network":
		cfg.Network = NetworkType(value)
	case "datadir":
		cfg.DataDir = value
	case "wallet_db_path":
		cfg.WalletDBPath = value
	case "backend":
		cfg.Backend = Backend(value)
	case "json.endpoint":
		cfg.JSON.Endpoint = value
	case "json.timeout_seconds":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.JSON.RequestTimeout = n
	case "p2p.peer_addr":
		cfg.P2P.PeerAddr = value
	case "p2p.listen":
		cfg.P2P.ListenAddr = value
	case "create_if_missing":
		cfg.CreateIfMissing = parseBool(value)
	case "restore_from_seed":
		cfg.RestoreFromSeed = value
	case "restore_from_mnemonic":
		cfg.RestoreFromMnemonic = value
	case "restore_from_height":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return err
		}
		cfg.RestoreFromHeight = uint32(n)
	case "creation_height":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return err
		}
		cfg.CreationHeight = uint32(n)
		cfg.HasCreationHeight = true
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)
	default:
		return fmt.Errorf("unknown config key")
	}
	return nil
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// WriteDefaultConfig writes a commented template config file for the
// given network if none exists yet.
func WriteDefaultConfig(path string, network NetworkType) error {
	if _, err := os.Stat(path); err == nil {
		return nil // Already exists, don't overwrite.
	}

	template := fmt.Sprintf(`# lightwalletd configuration
network = %s
backend = json

# json.endpoint = 127.0.0.1:50001
# p2p.peer_addr = 127.0.0.1:44440

create_if_missing = false

log.level = info
log.json = false
`, network)

	return os.WriteFile(path, []byte(template), 0644)
}
