package keymgr

import (
	"encoding/hex"
	"fmt"

	"github.com/klingon-tech/lightwalletd/pkg/cryptoadapter"
	"github.com/klingon-tech/lightwalletd/pkg/types"
)

// destinationSize is the wire width of an encoded Destination: three
// compressed G1 points back to back (view, blinding, spending).
const destinationSize = 3 * cryptoadapter.PointSize

// EncodeAddress renders a Destination as a bech32 (BIP-173 checksum) address
// string under hrp (§4.G step 1's "address library"), falling back to
// hrp + "1" + hex if bech32 encoding rejects the payload (an empty or
// invalid hrp). DecodeAddress does not accept that fallback form.
func EncodeAddress(hrp string, d Destination) string {
	data := make([]byte, 0, destinationSize)
	data = append(data, d.ViewPK[:]...)
	data = append(data, d.BlindingPK[:]...)
	data = append(data, d.SpendingPK[:]...)

	s, err := types.Bech32Encode(hrp, data)
	if err != nil {
		return hrp + "1" + hex.EncodeToString(data)
	}
	return s
}

// DecodeAddress parses an address string produced by EncodeAddress back
// into its Destination, verifying it was encoded for the expected network
// HRP.
func DecodeAddress(hrp, s string) (Destination, error) {
	gotHRP, data, err := types.Bech32Decode(s)
	if err != nil {
		return Destination{}, fmt.Errorf("invalid address: %w", err)
	}
	if gotHRP != hrp {
		return Destination{}, fmt.Errorf("address is for network %q, expected %q", gotHRP, hrp)
	}
	if len(data) != destinationSize {
		return Destination{}, fmt.Errorf("address payload must be %d bytes, got %d", destinationSize, len(data))
	}

	var d Destination
	copy(d.ViewPK[:], data[0:cryptoadapter.PointSize])
	copy(d.BlindingPK[:], data[cryptoadapter.PointSize:2*cryptoadapter.PointSize])
	copy(d.SpendingPK[:], data[2*cryptoadapter.PointSize:3*cryptoadapter.PointSize])
	return d, nil
}
