package walletwire

import (
	"encoding/hex"
	"fmt"

	"github.com/klingon-tech/lightwalletd/pkg/cryptoadapter"
	"github.com/klingon-tech/lightwalletd/pkg/types"
)

// MaxAmount is the sentinel value signaling that a confidential output
// carries an 8-byte flags field instead of a plain transparent value.
const MaxAmount = 0x7FFFFFFFFFFFFFFF

// Output flag bits, read only when value == MaxAmount.
const (
	FlagTransparentValue = 1 << 3 // 8: an 8-byte transparent value follows the flags.
	FlagBLSCTMarker       = 1 << 0 // 1: range proof + blinding/spending/ephemeral keys + view tag follow.
	FlagTokenMarker       = 1 << 1 // 2: a 64-byte token id follows.
	FlagPredicateMarker   = 1 << 2 // 4: a varint-length predicate blob follows (skipped).
)

// ParsedOutput is the result of walking a serialized confidential output,
// per §4.E.
type ParsedOutput struct {
	RangeProof []byte
	BlindingPK cryptoadapter.Point
	SpendingPK cryptoadapter.Point
	Ephemeral  cryptoadapter.Point
	ViewTag    uint16
	TokenID    *types.TokenID
	HasBLSCT   bool
}

// RangeProofHex returns the range-proof blob hex-encoded, for logging/debug
// and for the "output_data" field persisted alongside a UTXO.
func (p ParsedOutput) RangeProofHex() string {
	return hex.EncodeToString(p.RangeProof)
}

// ParseOutput decodes a single serialized confidential output per §4.E.
// Malformed input yields ErrTruncated (wrapped); callers must treat this as
// a per-output ParseError (§7) that skips the output, never a fatal error.
func ParseOutput(data []byte) (ParsedOutput, error) {
	return parseOutputFrom(newReader(data))
}

// parseOutputFrom decodes one output starting at r's current cursor,
// leaving the cursor positioned just past it. Shared by ParseOutput (one
// output at a time, JSON-transport side) and ParseBlock (a run of outputs
// embedded in a transaction, P2P-transport side) since §4.E's output
// layout carries no outer length prefix — only the field structure itself
// says where an output ends.
func parseOutputFrom(r *reader) (ParsedOutput, error) {
	out := ParsedOutput{}

	value, err := r.readI64LE()
	if err != nil {
		return ParsedOutput{}, fmt.Errorf("read value: %w", err)
	}

	var flags uint64
	if uint64(value) == MaxAmount {
		flags, err = r.readU64LE()
		if err != nil {
			return ParsedOutput{}, fmt.Errorf("read flags: %w", err)
		}
	}

	if flags&FlagTransparentValue != 0 {
		if err := r.skip(8); err != nil {
			return ParsedOutput{}, fmt.Errorf("skip transparent value: %w", err)
		}
	}

	scriptLen, err := r.readVarint()
	if err != nil {
		return ParsedOutput{}, fmt.Errorf("read script length: %w", err)
	}
	if err := r.skip(int(scriptLen)); err != nil {
		return ParsedOutput{}, fmt.Errorf("skip script: %w", err)
	}

	if flags&FlagBLSCTMarker != 0 {
		out.HasBLSCT = true

		rangeProof, err := readRangeProof(r)
		if err != nil {
			return ParsedOutput{}, fmt.Errorf("read range proof: %w", err)
		}
		out.RangeProof = rangeProof

		spendingKey, err := readPoint(r)
		if err != nil {
			return ParsedOutput{}, fmt.Errorf("read spending key: %w", err)
		}
		out.SpendingPK = spendingKey

		blindingKey, err := readPoint(r)
		if err != nil {
			return ParsedOutput{}, fmt.Errorf("read blinding key: %w", err)
		}
		out.BlindingPK = blindingKey

		ephemeralKey, err := readPoint(r)
		if err != nil {
			return ParsedOutput{}, fmt.Errorf("read ephemeral key: %w", err)
		}
		out.Ephemeral = ephemeralKey

		viewTag, err := r.readU16LE()
		if err != nil {
			return ParsedOutput{}, fmt.Errorf("read view tag: %w", err)
		}
		out.ViewTag = viewTag
	}

	if flags&FlagTokenMarker != 0 {
		tokenBytes, err := r.readN(64)
		if err != nil {
			return ParsedOutput{}, fmt.Errorf("read token id: %w", err)
		}
		var tid types.TokenID
		// The wire token id is 64 bytes; the in-memory TokenID is the
		// chain's 32-byte identifier, taken from the leading half.
		copy(tid[:], tokenBytes[:types.HashSize])
		out.TokenID = &tid
	}

	if flags&FlagPredicateMarker != 0 {
		predicateLen, err := r.readVarint()
		if err != nil {
			return ParsedOutput{}, fmt.Errorf("read predicate length: %w", err)
		}
		if err := r.skip(int(predicateLen)); err != nil {
			return ParsedOutput{}, fmt.Errorf("skip predicate: %w", err)
		}
	}

	return out, nil
}

// readRangeProof parses the Vs/Ls/Rs point vectors plus the trailing
// A/A_wip/B points and five scalars, per §4.E step 4, and returns the
// verbatim bytes from the start of the Vs count up to the end of tau_x —
// "the full subrange" the spec calls the range-proof blob. Per §9's open
// question, Ls/Rs are explicitly allowed to be empty (when |Vs| == 0 the
// whole range-proof body beyond the count is absent) and the parser never
// reads past the buffer regardless.
func readRangeProof(r *reader) ([]byte, error) {
	start := r.mark()

	vsCount, err := r.readVarint()
	if err != nil {
		return nil, fmt.Errorf("read Vs count: %w", err)
	}
	if err := skipPoints(r, vsCount); err != nil {
		return nil, fmt.Errorf("skip Vs: %w", err)
	}

	if vsCount > 0 {
		lsCount, err := r.readVarint()
		if err != nil {
			return nil, fmt.Errorf("read Ls count: %w", err)
		}
		if err := skipPoints(r, lsCount); err != nil {
			return nil, fmt.Errorf("skip Ls: %w", err)
		}

		rsCount, err := r.readVarint()
		if err != nil {
			return nil, fmt.Errorf("read Rs count: %w", err)
		}
		if err := skipPoints(r, rsCount); err != nil {
			return nil, fmt.Errorf("skip Rs: %w", err)
		}

		// A, A_wip, B: three 48-byte points.
		if err := r.skip(3 * cryptoadapter.PointSize); err != nil {
			return nil, fmt.Errorf("skip A/A_wip/B: %w", err)
		}
		// r', s', delta', alpha-hat, tau_x: five 32-byte scalars.
		if err := r.skip(5 * cryptoadapter.ScalarSize); err != nil {
			return nil, fmt.Errorf("skip trailing scalars: %w", err)
		}
	}

	end := r.mark()
	blob := make([]byte, end-start)
	copy(blob, r.span(start, end))
	return blob, nil
}

// readPoint reads a 48-byte compressed G1 point.
func readPoint(r *reader) (cryptoadapter.Point, error) {
	b, err := r.readN(cryptoadapter.PointSize)
	if err != nil {
		return cryptoadapter.Point{}, err
	}
	var p cryptoadapter.Point
	copy(p[:], b)
	return p, nil
}

// skipPoints skips n consecutive 48-byte points.
func skipPoints(r *reader, n uint64) error {
	return r.skip(int(n) * cryptoadapter.PointSize)
}
