// Package cryptoadapter is the thin, total-function surface the sync engine
// uses over the curve library: scalar/point (de)serialization, the fixed HD
// child-index tree, view-tag and nonce computation, and range-proof amount
// recovery.
//
// The production chain uses BLS12-381 Pedersen commitments and bulletproof
// range proofs. No such library is part of this retrieval pack, so Default
// stands in for it on top of the pack's secp256k1 + blake3 stack: points are
// carried as 48-byte values (the production curve's compressed G1 width)
// holding a zero-padded 33-byte secp256k1 compressed point, and range proofs
// are an AEAD sealing (under a random nonce) of the recoverable fields rather than a
// real bulletproof. Every call site talks to Adapter only, so a real
// BLS12-381/bulletproof implementation drops in without touching callers.
// See DESIGN.md for the full grounding note.
package cryptoadapter

import "errors"

// ScalarSize is the width of a scalar (private key / blinding factor).
const ScalarSize = 32

// PointSize is the width of a compressed G1 point on the production curve.
const PointSize = 48

// Scalar is a 32-byte curve scalar: a private key or blinding factor.
type Scalar [ScalarSize]byte

// Point is a 48-byte compressed G1 point: a public key or commitment.
type Point [PointSize]byte

// IsZero reports whether the scalar is all zeros.
func (s Scalar) IsZero() bool { return s == Scalar{} }

// IsZero reports whether the point is all zeros.
func (p Point) IsZero() bool { return p == Point{} }

// Bytes returns a copy of the point's bytes.
func (p Point) Bytes() []byte {
	b := make([]byte, PointSize)
	copy(b, p[:])
	return b
}

// Bytes returns a copy of the scalar's bytes.
func (s Scalar) Bytes() []byte {
	b := make([]byte, ScalarSize)
	copy(b, s[:])
	return b
}

// Errors returned by the crypto adapter. These surface as
// TxBuildFailed / ParseError categories at the facade boundary.
var (
	ErrInvalidSeed     = errors.New("cryptoadapter: invalid seed length")
	ErrInvalidScalar   = errors.New("cryptoadapter: invalid scalar")
	ErrInvalidPoint    = errors.New("cryptoadapter: invalid point")
	ErrTxBuildFailed   = errors.New("cryptoadapter: transaction build failed")
	ErrRecoveryFailed  = errors.New("cryptoadapter: amount recovery failed")
)

// RecoveredAmount is the result of a successful recover_amount call.
type RecoveredAmount struct {
	Amount uint64
	Gamma  Scalar
	Memo   string // UTF-8; preserved verbatim, never re-encoded.
}
