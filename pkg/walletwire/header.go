package walletwire

import (
	"crypto/sha256"
	"fmt"

	"github.com/klingon-tech/lightwalletd/pkg/types"
)

// HeaderSize is the fixed width of a raw block header, in bytes.
const HeaderSize = 80

// proofOfStakeVersionBit marks a header's block as proof-of-stake, per
// §4.D.2 block parsing step 2.
const proofOfStakeVersionBit = 0x01000000

// Header is a parsed 80-byte block header. Field widths follow the
// conventional Bitcoin-family layout the chain inherits; the sync engine
// only needs Version (to detect PoS blocks when parsing raw blocks) and the
// ability to recompute the header's hash.
type Header struct {
	Version       uint32
	PrevBlockHash types.Hash
	MerkleRoot    types.Hash
	Timestamp     uint32
	Bits          uint32
	Nonce         uint32

	// Raw holds the original 80 bytes, so Hash() never needs to re-encode.
	Raw [HeaderSize]byte
}

// ParseHeader decodes a raw 80-byte header.
func ParseHeader(raw []byte) (Header, error) {
	if len(raw) != HeaderSize {
		return Header{}, fmt.Errorf("%w: header must be %d bytes, got %d", ErrTruncated, HeaderSize, len(raw))
	}

	r := newReader(raw)
	h := Header{}
	copy(h.Raw[:], raw)

	version, err := r.readU32LE()
	if err != nil {
		return Header{}, err
	}
	h.Version = version

	prevHash, err := r.readN(types.HashSize)
	if err != nil {
		return Header{}, err
	}
	copy(h.PrevBlockHash[:], prevHash)

	merkleRoot, err := r.readN(types.HashSize)
	if err != nil {
		return Header{}, err
	}
	copy(h.MerkleRoot[:], merkleRoot)

	ts, err := r.readU32LE()
	if err != nil {
		return Header{}, err
	}
	h.Timestamp = ts

	bits, err := r.readU32LE()
	if err != nil {
		return Header{}, err
	}
	h.Bits = bits

	nonce, err := r.readU32LE()
	if err != nil {
		return Header{}, err
	}
	h.Nonce = nonce

	return h, nil
}

// IsProofOfStake reports whether the header's version bit marks its block
// as proof-of-stake, per §4.D.2 step 2.
func (h Header) IsProofOfStake() bool {
	return h.Version&proofOfStakeVersionBit != 0
}

// Hash computes the header's block hash: double-SHA256 of the raw 80
// bytes, then byte-reversed from the little-endian hashing order to the
// chain's big-endian display order. This exact algorithm is wire-mandated
// by §3's invariant that a stored block-hash sample equals this value.
func (h Header) Hash() types.Hash {
	return DoubleSHA256Reversed(h.Raw[:])
}

// DoubleSHA256Reversed computes double-SHA256(data) and reverses the byte
// order, matching the chain's canonical (big-endian, human-readable) hash
// representation.
func DoubleSHA256Reversed(data []byte) types.Hash {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])

	var out types.Hash
	for i := 0; i < types.HashSize; i++ {
		out[i] = second[types.HashSize-1-i]
	}
	return out
}

// Checksum computes the first 4 bytes of double-SHA256(payload), used in
// the P2P frame header (§4.D.2). Unlike block/tx hashes, the checksum is
// NOT byte-reversed — it is consumed only as an opaque 4-byte tag.
func Checksum(payload []byte) [4]byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	var out [4]byte
	copy(out[:], second[:4])
	return out
}
