// Package chainparams holds the per-network constants the sync engine and
// the P2P wire codec need: magic bytes, default ports, protocol version,
// and the bech32 human-readable prefix used for sub-address strings.
//
// Values are threaded explicitly through the fetch provider, the wallet
// facade, and the crypto adapter rather than read from package-level
// globals, so a process can in principle hold more than one chain's
// parameters at once and nothing depends on init-time global state.
package chainparams

import "fmt"

// Network identifies one of the chain's deployments.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Signet  Network = "signet"
	Regtest Network = "regtest"
)

// Params bundles the wire-level constants for one network.
type Params struct {
	Network Network

	// Magic is the 4-byte value that opens every P2P frame.
	Magic uint32

	// DefaultPort is the P2P listen/dial port when none is configured.
	DefaultPort int

	// ProtocolVersion is sent in the version handshake message.
	ProtocolVersion int32

	// AddressHRP is the bech32 human-readable prefix for sub-addresses.
	AddressHRP string
}

var (
	mainnetParams = Params{
		Network:         Mainnet,
		Magic:           0xDBD2B1AC,
		DefaultPort:     44440,
		ProtocolVersion: 70016,
		AddressHRP:      "kgx",
	}

	// Signet shares testnet's wire framing and port; only chain
	// consensus rules distinguish it, which this wallet never validates.
	testnetParams = Params{
		Network:         Testnet,
		Magic:           0x1C03BB83,
		DefaultPort:     33670,
		ProtocolVersion: 70016,
		AddressHRP:      "tkgx",
	}

	signetParams = Params{
		Network:         Signet,
		Magic:           0x1C03BB83,
		DefaultPort:     33670,
		ProtocolVersion: 70016,
		AddressHRP:      "skgx",
	}

	regtestParams = Params{
		Network:         Regtest,
		Magic:           0xFDBF9FFB,
		DefaultPort:     18444,
		ProtocolVersion: 70016,
		AddressHRP:      "rkgx",
	}
)

// ForNetwork returns the wire parameters for the named network.
func ForNetwork(n Network) (Params, error) {
	switch n {
	case Mainnet:
		return mainnetParams, nil
	case Testnet:
		return testnetParams, nil
	case Signet:
		return signetParams, nil
	case Regtest:
		return regtestParams, nil
	default:
		return Params{}, fmt.Errorf("chainparams: unknown network %q", n)
	}
}

// MustForNetwork is ForNetwork but panics on an unknown network. Intended
// for call sites where the network was already validated by config.Validate.
func MustForNetwork(n Network) Params {
	p, err := ForNetwork(n)
	if err != nil {
		panic(err)
	}
	return p
}
