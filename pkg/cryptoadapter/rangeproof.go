package cryptoadapter

import (
	"encoding/binary"
	"fmt"
)

// packRangeProof wraps an opaque sealed blob (sealAmount's AEAD output) so
// it reads back as a syntactically well-formed §4.E range proof: the Vs
// point vector carries the blob (length-prefixed, zero-padded to a point
// boundary) and every other field — Ls, Rs, the three trailing points, the
// five trailing scalars — is present but zeroed, since this adapter is a
// deliberate stand-in for a real bulletproof opening and never asks anyone
// to verify the math (§1's Non-goals: "does not verify range proofs").
// pkg/walletwire's generic reader only needs the field *shape* to extract
// the blob's byte span; it never inspects point contents.
func packRangeProof(sealed []byte) []byte {
	payload := make([]byte, 2+len(sealed))
	binary.BigEndian.PutUint16(payload[:2], uint16(len(sealed)))
	copy(payload[2:], sealed)

	vsCount := (len(payload) + PointSize - 1) / PointSize
	if vsCount == 0 {
		vsCount = 1
	}
	vsBytes := make([]byte, vsCount*PointSize)
	copy(vsBytes, payload)

	buf := putVarint(uint64(vsCount))
	buf = append(buf, vsBytes...)
	buf = append(buf, putVarint(0)...) // Ls count
	buf = append(buf, putVarint(0)...) // Rs count
	buf = append(buf, make([]byte, 3*PointSize)...)  // A, A_wip, B
	buf = append(buf, make([]byte, 5*ScalarSize)...) // r', s', delta', alpha-hat, tau_x
	return buf
}

// unpackRangeProof reverses packRangeProof, reading only as much of blob as
// it needs to recover the sealed bytes: the Vs count, then the length
// prefix and payload stored in the Vs region. A blob that wasn't produced
// by packRangeProof (a real on-chain range proof, or the zero-Vs-count
// "empty proof" test fixtures) fails here, which callers treat the same as
// a failed AEAD open — amount recovery simply didn't succeed.
func unpackRangeProof(blob []byte) ([]byte, error) {
	vsCount, n, err := readVarint(blob)
	if err != nil {
		return nil, fmt.Errorf("read Vs count: %w", err)
	}
	if vsCount == 0 {
		return nil, fmt.Errorf("empty range proof")
	}

	vsBytes := vsCount * uint64(PointSize)
	if uint64(len(blob)-n) < vsBytes {
		return nil, fmt.Errorf("truncated Vs region")
	}
	payload := blob[n : n+int(vsBytes)]
	if len(payload) < 2 {
		return nil, fmt.Errorf("truncated payload header")
	}

	sealedLen := binary.BigEndian.Uint16(payload[:2])
	if int(sealedLen) > len(payload)-2 {
		return nil, fmt.Errorf("payload length %d exceeds Vs capacity", sealedLen)
	}
	return payload[2 : 2+int(sealedLen)], nil
}

// readVarint decodes a Bitcoin-style CompactSize integer from the start of
// b, returning the value and the number of bytes consumed.
func readVarint(b []byte) (uint64, int, error) {
	if len(b) == 0 {
		return 0, 0, fmt.Errorf("empty buffer")
	}
	switch b[0] {
	case 0xfd:
		if len(b) < 3 {
			return 0, 0, fmt.Errorf("truncated uint16 varint")
		}
		return uint64(binary.LittleEndian.Uint16(b[1:3])), 3, nil
	case 0xfe:
		if len(b) < 5 {
			return 0, 0, fmt.Errorf("truncated uint32 varint")
		}
		return uint64(binary.LittleEndian.Uint32(b[1:5])), 5, nil
	case 0xff:
		if len(b) < 9 {
			return 0, 0, fmt.Errorf("truncated uint64 varint")
		}
		return binary.LittleEndian.Uint64(b[1:9]), 9, nil
	default:
		return uint64(b[0]), 1, nil
	}
}
