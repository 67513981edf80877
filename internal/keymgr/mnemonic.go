// Package keymgr implements the wallet's key hierarchy: BIP-39 mnemonic and
// seed handling, the chain's fixed (non-BIP44) child-key derivation tree
// (§4.A), sub-address derivation and ownership detection (§4.B), at-rest
// keystore encryption, and largest-first coin selection (§4.G).
package keymgr

import (
	"fmt"

	"github.com/tyler-smith/go-bip39"
)

const (
	// MnemonicEntropyBits is the entropy size for 24-word mnemonics.
	MnemonicEntropyBits = 256
	// SeedSize is the byte length of a BIP-39 seed (512 bits), the input
	// width cryptoadapter.DeriveMasterSK expects.
	SeedSize = 64
)

// mnemonicPhrase is a validated BIP-39 phrase. Its zero value is not a
// valid phrase — obtain one via GenerateMnemonic or NewMnemonicPhrase.
type mnemonicPhrase string

// GenerateMnemonic creates a new 24-word BIP-39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(MnemonicEntropyBits)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	words, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("generate mnemonic: %w", err)
	}
	return words, nil
}

// ValidateMnemonic checks if a mnemonic is valid per BIP-39 (correct word
// count, valid words, valid checksum).
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// newMnemonicPhrase wraps mnemonic after confirming it validates, so every
// downstream step (seed derivation) works from a phrase already known-good.
func newMnemonicPhrase(mnemonic string) (mnemonicPhrase, error) {
	if !ValidateMnemonic(mnemonic) {
		return "", fmt.Errorf("invalid mnemonic")
	}
	return mnemonicPhrase(mnemonic), nil
}

// seed derives the 512-bit PBKDF2-SHA512 seed for this phrase and an
// optional passphrase, per BIP-39.
func (m mnemonicPhrase) seed(passphrase string) ([]byte, error) {
	seed, err := bip39.NewSeedWithErrorChecking(string(m), passphrase)
	if err != nil {
		return nil, fmt.Errorf("derive seed: %w", err)
	}
	return seed, nil
}

// SeedFromMnemonic validates mnemonic and derives its 512-bit seed under
// the given passphrase in one step.
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	phrase, err := newMnemonicPhrase(mnemonic)
	if err != nil {
		return nil, err
	}
	return phrase.seed(passphrase)
}
