package config

// Default returns baseline configuration for the given network. Callers
// still need to set Backend and either JSON.Endpoint or P2P.PeerAddr before
// opening a wallet — this module does not manage peer discovery beyond a
// single configured endpoint (see pkg/chainparams for the network's default
// port and magic, consulted by the P2P transport once PeerAddr is set).
func Default(network NetworkType) *Config {
	return &Config{
		Network:         network,
		DataDir:         DefaultDataDir(),
		Backend:         BackendJSON,
		CreateIfMissing: false,
		JSON: JSONOpts{
			RequestTimeout: 30,
		},
		P2P: P2POpts{
			ListenAddr: "0.0.0.0:0",
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}
