package cryptoadapter

import (
	"encoding/binary"
	"encoding/hex"
)

// Output value/flag wire constants mirrored from pkg/walletwire's §4.E
// reader (duplicated rather than imported: walletwire already imports this
// package for Point/Scalar, so the reverse import would cycle).
const (
	outputMaxAmount      = 0x7FFFFFFFFFFFFFFF
	outputFlagBLSCT      = 1 << 0
	outputFlagTokenID    = 1 << 1
)

// encodeRawTx serializes inputs and built outputs into the raw transaction
// hex the fetch provider's broadcast op expects. The wire shape is exactly
// what pkg/walletwire.ParseTransaction reads back: version, varint-prefixed
// input vector (prev-hash, empty script-sig, zero sequence), varint-prefixed
// output vector in the §4.E field layout (sentinel value + flags, empty
// script, range proof, keys, view tag, optional token id), and a zero
// locktime — so the mempool handler can run §4.H against this module's own
// just-built tx the same way it would against one relayed by a peer.
func encodeRawTx(inputs []TxInput, outputs []builtOutput) string {
	var buf []byte

	buf = append(buf, putUint32LE(1)...) // version
	buf = append(buf, putVarint(uint64(len(inputs)))...)
	for _, in := range inputs {
		buf = append(buf, in.OutputHash[:]...)
		buf = append(buf, putVarint(0)...) // empty script-sig
		buf = append(buf, 0, 0, 0, 0)       // sequence
	}

	buf = append(buf, putVarint(uint64(len(outputs)))...)
	for _, out := range outputs {
		flags := uint64(outputFlagBLSCT)
		if out.tokenID != nil {
			flags |= outputFlagTokenID
		}

		buf = append(buf, putUint64LE(outputMaxAmount)...) // value sentinel: flags follow
		buf = append(buf, putUint64LE(flags)...)
		buf = append(buf, putVarint(0)...) // empty output script

		buf = append(buf, out.rangeProof...) // already self-describing (packRangeProof)
		buf = append(buf, out.spendingPK[:]...)
		buf = append(buf, out.blindingPK[:]...)
		buf = append(buf, out.ephemeralPK[:]...)
		buf = append(buf, putUint16LE(out.viewTag)...)
		if out.tokenID != nil {
			var tid [64]byte
			copy(tid[:], out.tokenID[:])
			buf = append(buf, tid[:]...)
		}
	}

	buf = append(buf, 0, 0, 0, 0) // locktime

	return hex.EncodeToString(buf)
}

func putUint16LE(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func putUint32LE(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func putUint64LE(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// putVarint encodes a Bitcoin-style CompactSize integer.
func putVarint(v uint64) []byte {
	switch {
	case v < 0xfd:
		return []byte{byte(v)}
	case v <= 0xffff:
		b := make([]byte, 3)
		b[0] = 0xfd
		binary.LittleEndian.PutUint16(b[1:], uint16(v))
		return b
	case v <= 0xffffffff:
		b := make([]byte, 5)
		b[0] = 0xfe
		binary.LittleEndian.PutUint32(b[1:], uint32(v))
		return b
	default:
		b := make([]byte, 9)
		b[0] = 0xff
		binary.LittleEndian.PutUint64(b[1:], v)
		return b
	}
}
