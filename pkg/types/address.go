package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// AddressSize is the length of a sub-address hash_id in bytes.
const AddressSize = 20

// Address is a sub-address hash_id: the 20-byte value returned by
// hash_id(blinding_pk, spending_pk) that indexes the sub-address table.
// Its bech32 string form depends on the active network's HRP, which this
// package does not choose for itself — callers thread a chainparams.Params
// value through EncodeAddress/DecodeAddress rather than relying on global
// state, per the "avoid singletons" design note.
type Address [AddressSize]byte

// IsZero returns true if the address is all zeros.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Hex returns the raw hex-encoded address without a network prefix.
func (a Address) Hex() string {
	return hex.EncodeToString(a[:])
}

// Bytes returns a copy of the address as a byte slice.
func (a Address) Bytes() []byte {
	b := make([]byte, AddressSize)
	copy(b, a[:])
	return b
}

// MarshalJSON encodes the address as hex. Bech32 rendering for user-facing
// display goes through EncodeAddress, since it needs a network HRP.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Hex())
}

// UnmarshalJSON decodes a hex string into an address.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*a = Address{}
		return nil
	}
	parsed, err := HexToAddress(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// HexToAddress converts a raw hex string to an Address.
func HexToAddress(s string) (Address, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != AddressSize {
		return Address{}, fmt.Errorf("address must be %d bytes, got %d", AddressSize, len(b))
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

// EncodeAddress renders a as a bech32 string under the given HRP.
func EncodeAddress(hrp string, a Address) string {
	s, err := Bech32Encode(hrp, a[:])
	if err != nil {
		return hrp + ":" + a.Hex()
	}
	return s
}

// DecodeAddress parses a bech32 address string encoded under the given HRP,
// falling back to raw 40-char hex for internal/test use.
func DecodeAddress(hrp, s string) (Address, error) {
	if s == "" {
		return Address{}, fmt.Errorf("empty address")
	}
	if isHex40(s) {
		return HexToAddress(s)
	}
	gotHRP, data, err := Bech32Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 address: %w", err)
	}
	if gotHRP != hrp {
		return Address{}, fmt.Errorf("address is for network %q, expected %q", gotHRP, hrp)
	}
	if len(data) != AddressSize {
		return Address{}, fmt.Errorf("address must be %d bytes, got %d", AddressSize, len(data))
	}
	var a Address
	copy(a[:], data)
	return a, nil
}

func isHex40(s string) bool {
	if len(s) != 40 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
