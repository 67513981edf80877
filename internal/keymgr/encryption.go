package keymgr

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// SaltSize is the length, in bytes, of the Argon2id salt stored in every
// sealed envelope.
const SaltSize = 32

// EncryptionParams holds the Argon2id tuning knobs an envelope was sealed
// with, so Decrypt can re-derive the same key without the caller having to
// remember or guess them.
type EncryptionParams struct {
	Memory      uint32 // in KiB
	Iterations  uint32
	Parallelism uint8
}

// DefaultParams returns recommended Argon2id parameters, per §9's design
// note on at-rest seed protection.
func DefaultParams() EncryptionParams {
	return EncryptionParams{
		Memory:      64 * 1024, // 64 MB
		Iterations:  3,
		Parallelism: 4,
	}
}

// envelopeHeader is the fixed-size prefix of a sealed envelope: everything
// Decrypt needs before it can even construct the AEAD. It does not include
// the nonce, which rides immediately after it at a size the AEAD itself
// dictates (chacha20poly1305.NonceSizeX).
type envelopeHeader struct {
	salt   [SaltSize]byte
	params EncryptionParams
}

// size is the marshaled byte length of an envelopeHeader.
const envelopeHeaderSize = SaltSize + 4 + 4 + 1

func (h envelopeHeader) marshal() []byte {
	buf := make([]byte, 0, envelopeHeaderSize)
	buf = append(buf, h.salt[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, h.params.Memory)
	buf = binary.LittleEndian.AppendUint32(buf, h.params.Iterations)
	buf = append(buf, h.params.Parallelism)
	return buf
}

func parseEnvelopeHeader(b []byte) (envelopeHeader, error) {
	if len(b) < envelopeHeaderSize {
		return envelopeHeader{}, fmt.Errorf("envelope header truncated: got %d bytes, need %d", len(b), envelopeHeaderSize)
	}
	var h envelopeHeader
	copy(h.salt[:], b[:SaltSize])
	h.params = EncryptionParams{
		Memory:      binary.LittleEndian.Uint32(b[SaltSize:]),
		Iterations:  binary.LittleEndian.Uint32(b[SaltSize+4:]),
		Parallelism: b[SaltSize+8],
	}
	return h, nil
}

// deriveKey stretches password into a chacha20poly1305 key using Argon2id,
// salted per-envelope so identical passwords never produce identical keys.
func deriveKey(password []byte, h envelopeHeader) []byte {
	return argon2.IDKey(
		password,
		h.salt[:],
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		chacha20poly1305.KeySize,
	)
}

func wipeKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}

// Encrypt seals data under password, producing a self-describing envelope:
// header (salt, Argon2id params) | XChaCha20-Poly1305 nonce | ciphertext.
// A fresh salt and nonce are generated on every call, so sealing the same
// plaintext twice yields unrelated envelopes.
func Encrypt(data, password []byte, params EncryptionParams) ([]byte, error) {
	h := envelopeHeader{params: params}
	if _, err := rand.Read(h.salt[:]); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	key := deriveKey(password, h)
	defer wipeKey(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, data, nil)

	envelope := h.marshal()
	envelope = append(envelope, nonce...)
	envelope = append(envelope, sealed...)
	return envelope, nil
}

// Decrypt reverses Encrypt: it re-derives the key from the envelope's own
// header and password, then opens the AEAD-sealed payload.
func Decrypt(envelope, password []byte) ([]byte, error) {
	h, err := parseEnvelopeHeader(envelope)
	if err != nil {
		return nil, err
	}

	nonceSize := chacha20poly1305.NonceSizeX
	rest := envelope[envelopeHeaderSize:]
	if len(rest) < nonceSize+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("encrypted data too short: %d bytes, need at least %d", len(envelope), envelopeHeaderSize+nonceSize+chacha20poly1305.Overhead)
	}
	nonce, ciphertext := rest[:nonceSize], rest[nonceSize:]

	key := deriveKey(password, h)
	defer wipeKey(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
