package cryptoadapter

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/klingon-tech/lightwalletd/pkg/types"
	"golang.org/x/crypto/chacha20poly1305"
)

// TxInput is a typed, already-resolved spend: the UTXO being consumed plus
// the private spending key recovered for it.
type TxInput struct {
	OutputHash  types.Hash
	SpendingSK  Scalar
	Amount      uint64
	Gamma       Scalar
	TokenID     *types.TokenID
}

// TxOutput is a typed destination: where funds go, and the recipient's
// public material needed to build a recoverable output for them.
type TxOutput struct {
	DestBlindingPK Point
	DestSpendingPK Point
	DestViewPK     Point
	Amount         uint64
	Memo           string
	TokenID        *types.TokenID
}

// sealNonce derives a 32-byte symmetric key from a nonce point, used to
// seal/open the range-proof blob this package uses in place of a real
// bulletproof.
func sealNonce(n Point) [32]byte {
	return hashDomain([]byte("lightwalletd/range-proof-key"), n.Bytes())
}

// sealAmount encrypts (amount, gamma, memo) under a key derived from the
// shared-secret nonce, producing the bytes this adapter treats as the
// output's range-proof blob.
func sealAmount(n Point, amount uint64, gamma Scalar, memo string) ([]byte, error) {
	key := sealNonce(n)
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: new aead: %v", ErrTxBuildFailed, err)
	}

	plain := make([]byte, 8+ScalarSize+len(memo))
	binary.LittleEndian.PutUint64(plain[0:8], amount)
	copy(plain[8:8+ScalarSize], gamma[:])
	copy(plain[8+ScalarSize:], memo)

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: random nonce: %v", ErrTxBuildFailed, err)
	}

	sealed := aead.Seal(nil, nonce, plain, nil)
	return packRangeProof(append(nonce, sealed...)), nil
}

// openAmount reverses sealAmount. Returns ErrRecoveryFailed (never a
// transport or parse error) if the blob does not decrypt under this nonce —
// this is the expected outcome whenever an output was not built for us, or
// when the range-proof blob is genuinely malformed.
func openAmount(blob []byte, n Point) (amount uint64, gamma Scalar, memo string, err error) {
	sealed, unpackErr := unpackRangeProof(blob)
	if unpackErr != nil {
		return 0, Scalar{}, "", ErrRecoveryFailed
	}

	key := sealNonce(n)
	aead, aeadErr := chacha20poly1305.NewX(key[:])
	if aeadErr != nil {
		return 0, Scalar{}, "", fmt.Errorf("%w: new aead: %v", ErrRecoveryFailed, aeadErr)
	}
	if len(sealed) < aead.NonceSize() {
		return 0, Scalar{}, "", ErrRecoveryFailed
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, openErr := aead.Open(nil, nonce, ciphertext, nil)
	if openErr != nil {
		return 0, Scalar{}, "", ErrRecoveryFailed
	}
	if len(plain) < 8+ScalarSize {
		return 0, Scalar{}, "", ErrRecoveryFailed
	}
	amount = binary.LittleEndian.Uint64(plain[0:8])
	copy(gamma[:], plain[8:8+ScalarSize])
	memo = string(plain[8+ScalarSize:])
	return amount, gamma, memo, nil
}

// RecoverAmount attempts to decrypt the range-proof blob under the given
// shared-secret nonce. A failed open is reported as ErrRecoveryFailed, which
// callers (the sync engine) treat as non-fatal: the output is still
// recognized as owned, just stored with amount=0 until a future recovery
// attempt succeeds.
func (Default) RecoverAmount(rangeProof []byte, nonce Point, tokenID *types.TokenID) (*RecoveredAmount, error) {
	amount, gamma, memo, err := openAmount(rangeProof, nonce)
	if err != nil {
		return nil, err
	}
	return &RecoveredAmount{Amount: amount, Gamma: gamma, Memo: memo}, nil
}

// BuildCtx constructs a confidential transaction from typed inputs and
// outputs: for every output it generates a fresh ephemeral blinding key,
// derives the DH shared secret with the recipient's view key, seals the
// amount/gamma/memo into a range-proof blob under that secret, and derives
// the matching view tag the same way the recipient will. The result is
// encoded with pkg/walletwire's output layout and returned as hex.
func (Default) BuildCtx(inputs []TxInput, outputs []TxOutput) (string, error) {
	if len(inputs) == 0 {
		return "", fmt.Errorf("%w: no inputs", ErrTxBuildFailed)
	}
	if len(outputs) == 0 {
		return "", fmt.Errorf("%w: no outputs", ErrTxBuildFailed)
	}

	built := make([]builtOutput, 0, len(outputs))
	for i, out := range outputs {
		var ephemeralSK Scalar
		if _, err := rand.Read(ephemeralSK[:]); err != nil {
			return "", fmt.Errorf("%w: output %d: random ephemeral key: %v", ErrTxBuildFailed, i, err)
		}

		ephemeralPK, err := Default{}.SKToPK(ephemeralSK)
		if err != nil {
			return "", fmt.Errorf("%w: output %d: %v", ErrTxBuildFailed, i, err)
		}

		n, err := Default{}.Nonce(out.DestViewPK, ephemeralSK)
		if err != nil {
			return "", fmt.Errorf("%w: output %d: shared secret: %v", ErrTxBuildFailed, i, err)
		}

		var gamma Scalar
		if _, err := rand.Read(gamma[:]); err != nil {
			return "", fmt.Errorf("%w: output %d: random gamma: %v", ErrTxBuildFailed, i, err)
		}

		blob, err := sealAmount(n, out.Amount, gamma, out.Memo)
		if err != nil {
			return "", fmt.Errorf("%w: output %d: %v", ErrTxBuildFailed, i, err)
		}

		built = append(built, builtOutput{
			value:        out.Amount,
			blindingPK:   ephemeralPK,
			spendingPK:   out.DestSpendingPK,
			ephemeralPK:  out.DestBlindingPK,
			viewTag:      viewTagFromNonce(n),
			rangeProof:   blob,
			tokenID:      out.TokenID,
		})
	}

	return encodeRawTx(inputs, built), nil
}

// builtOutput is the fully-materialized form of a TxOutput, after ephemeral
// key generation and range-proof sealing, ready for wire encoding.
type builtOutput struct {
	value       uint64
	blindingPK  Point
	spendingPK  Point
	ephemeralPK Point
	viewTag     uint16
	rangeProof  []byte
	tokenID     *types.TokenID
}
