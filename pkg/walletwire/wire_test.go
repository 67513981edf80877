package walletwire

import (
	"bytes"
	"testing"

	"github.com/klingon-tech/lightwalletd/pkg/cryptoadapter"
	"github.com/klingon-tech/lightwalletd/pkg/types"
)

func TestWriteReadVarint_RoundTrip(t *testing.T) {
	values := []uint64{0, 1, 0xfc, 0xfd, 0xffff, 0x10000, 0xffffffff, 0x100000000, 1 << 40}
	for _, v := range values {
		encoded := WriteVarint(v)
		got, err := ReadVarint(bytes.NewReader(encoded))
		if err != nil {
			t.Fatalf("ReadVarint(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("roundtrip %d: got %d", v, got)
		}
	}
}

func makeHeader(t *testing.T, version uint32) []byte {
	t.Helper()
	raw := make([]byte, HeaderSize)
	raw[0] = byte(version)
	raw[1] = byte(version >> 8)
	raw[2] = byte(version >> 16)
	raw[3] = byte(version >> 24)
	return raw
}

func TestParseHeader_AndHash(t *testing.T) {
	raw := makeHeader(t, 1)
	h, err := ParseHeader(raw)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Version != 1 {
		t.Errorf("Version = %d, want 1", h.Version)
	}
	if h.IsProofOfStake() {
		t.Error("version 1 should not be proof-of-stake")
	}

	hash1 := h.Hash()
	hash2 := h.Hash()
	if hash1 != hash2 {
		t.Error("Hash() is not deterministic")
	}
	if hash1.IsZero() {
		t.Error("Hash() should not be zero")
	}
}

func TestParseHeader_ProofOfStakeBit(t *testing.T) {
	raw := makeHeader(t, proofOfStakeVersionBit|1)
	h, err := ParseHeader(raw)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if !h.IsProofOfStake() {
		t.Error("expected proof-of-stake bit set")
	}
}

func TestParseHeader_WrongLength(t *testing.T) {
	if _, err := ParseHeader(make([]byte, 79)); err == nil {
		t.Error("expected error for short header")
	}
}

func TestFrame_EncodeDecode_RoundTrip(t *testing.T) {
	f := Frame{Magic: 0xDBD2B1AC, Command: CmdPing, Payload: PingPong{Nonce: 42}.Encode()}
	encoded := f.Encode()

	decoded, n, err := DecodeFrame(encoded, 0xDBD2B1AC)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if n != len(encoded) {
		t.Errorf("consumed %d, want %d", n, len(encoded))
	}
	if decoded.Command != CmdPing {
		t.Errorf("Command = %q, want %q", decoded.Command, CmdPing)
	}
	pp, err := DecodePingPong(decoded.Payload)
	if err != nil {
		t.Fatalf("DecodePingPong: %v", err)
	}
	if pp.Nonce != 42 {
		t.Errorf("Nonce = %d, want 42", pp.Nonce)
	}
}

func TestFrame_WrongMagic(t *testing.T) {
	f := Frame{Magic: 0xDBD2B1AC, Command: CmdVerack}
	encoded := f.Encode()
	if _, _, err := DecodeFrame(encoded, 0x1C03BB83); err == nil {
		t.Error("expected magic mismatch error")
	}
}

func TestFrame_BadChecksum(t *testing.T) {
	f := Frame{Magic: 0xDBD2B1AC, Command: CmdPing, Payload: []byte{1, 2, 3}}
	encoded := f.Encode()
	encoded[len(encoded)-1-3] ^= 0xff // corrupt a checksum byte.
	if _, _, err := DecodeFrame(encoded, 0xDBD2B1AC); err == nil {
		t.Error("expected checksum mismatch error")
	}
}

func TestHeadersReply_NoTrailingVarint(t *testing.T) {
	headers := []Header{}
	h1, _ := ParseHeader(makeHeader(t, 1))
	h2, _ := ParseHeader(makeHeader(t, 2))
	headers = append(headers, h1, h2)

	encoded := EncodeHeadersReply(headers)
	if len(encoded) != 2*HeaderSize {
		t.Fatalf("encoded length = %d, want %d", len(encoded), 2*HeaderSize)
	}

	decoded, err := DecodeHeadersReply(encoded)
	if err != nil {
		t.Fatalf("DecodeHeadersReply: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("got %d headers, want 2", len(decoded))
	}
	if decoded[0].Version != 1 || decoded[1].Version != 2 {
		t.Errorf("unexpected versions: %d, %d", decoded[0].Version, decoded[1].Version)
	}
}

func TestBlockLocator_RoundTrip(t *testing.T) {
	l := BlockLocator{
		Version:  70016,
		Hashes:   []types.Hash{{0x01}, {0x02}},
		StopHash: types.Hash{},
	}
	decoded, err := DecodeBlockLocator(l.Encode())
	if err != nil {
		t.Fatalf("DecodeBlockLocator: %v", err)
	}
	if decoded.Version != l.Version || len(decoded.Hashes) != 2 {
		t.Fatalf("roundtrip mismatch: %+v", decoded)
	}
	if !decoded.StopHash.IsZero() {
		t.Error("expected all-zero stop hash to mean 'from genesis'")
	}
}

// buildRawOutput hand-assembles a serialized confidential output matching
// the §4.E layout, for testing the parser against known byte offsets.
func buildRawOutput(t *testing.T, blinding, spending, ephemeral cryptoadapter.Point, viewTag uint16, tokenID *types.TokenID) []byte {
	t.Helper()
	var buf bytes.Buffer

	flags := uint64(FlagBLSCTMarker)
	if tokenID != nil {
		flags |= FlagTokenMarker
	}

	// value = MAX_AMOUNT sentinel, then flags.
	var v [8]byte
	putU64LE(v[:], MaxAmount)
	buf.Write(v[:])
	var f [8]byte
	putU64LE(f[:], flags)
	buf.Write(f[:])

	// empty script.
	buf.Write(WriteVarint(0))

	// range proof with Vs empty (no Ls/Rs/A/A_wip/B/scalars).
	buf.Write(WriteVarint(0))

	buf.Write(spending[:])
	buf.Write(blinding[:])
	buf.Write(ephemeral[:])

	var vt [2]byte
	vt[0] = byte(viewTag)
	vt[1] = byte(viewTag >> 8)
	buf.Write(vt[:])

	if tokenID != nil {
		var tid [64]byte
		copy(tid[:], tokenID[:])
		buf.Write(tid[:])
	}

	return buf.Bytes()
}

func putU64LE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func TestParseOutput_EmptyRangeProof(t *testing.T) {
	blinding := cryptoadapter.Point{0x01}
	spending := cryptoadapter.Point{0x02}
	ephemeral := cryptoadapter.Point{0x03}

	raw := buildRawOutput(t, blinding, spending, ephemeral, 0xBEEF, nil)
	out, err := ParseOutput(raw)
	if err != nil {
		t.Fatalf("ParseOutput: %v", err)
	}
	if !out.HasBLSCT {
		t.Error("expected HasBLSCT true")
	}
	if out.BlindingPK != blinding {
		t.Errorf("BlindingPK mismatch")
	}
	if out.SpendingPK != spending {
		t.Errorf("SpendingPK mismatch")
	}
	if out.Ephemeral != ephemeral {
		t.Errorf("Ephemeral mismatch")
	}
	if out.ViewTag != 0xBEEF {
		t.Errorf("ViewTag = %#x, want 0xBEEF", out.ViewTag)
	}
	if out.TokenID != nil {
		t.Error("expected nil TokenID")
	}
	if len(out.RangeProof) != 1 {
		t.Errorf("RangeProof length = %d, want 1 (just the Vs-count byte)", len(out.RangeProof))
	}
}

func TestParseOutput_WithTokenID(t *testing.T) {
	tid := types.TokenID{0xAA, 0xBB}
	raw := buildRawOutput(t, cryptoadapter.Point{0x01}, cryptoadapter.Point{0x02}, cryptoadapter.Point{0x03}, 1, &tid)
	out, err := ParseOutput(raw)
	if err != nil {
		t.Fatalf("ParseOutput: %v", err)
	}
	if out.TokenID == nil {
		t.Fatal("expected non-nil TokenID")
	}
	if *out.TokenID != tid {
		t.Errorf("TokenID mismatch: got %x, want %x", *out.TokenID, tid)
	}
}

func TestParseOutput_Truncated(t *testing.T) {
	if _, err := ParseOutput([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated output")
	}
}

func TestDoubleSHA256Reversed_Deterministic(t *testing.T) {
	h1 := DoubleSHA256Reversed([]byte("hello"))
	h2 := DoubleSHA256Reversed([]byte("hello"))
	if h1 != h2 {
		t.Error("DoubleSHA256Reversed is not deterministic")
	}
	h3 := DoubleSHA256Reversed([]byte("world"))
	if h1 == h3 {
		t.Error("different inputs produced the same hash")
	}
}
