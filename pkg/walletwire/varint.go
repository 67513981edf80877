// Package walletwire implements the chain's wire-level encodings: the
// 80-byte block header and its double-SHA256 hash, the CompactSize varint
// used throughout both transports, the confidential-output parser (§4.E),
// and the P2P frame/message codec (§4.D.2/§6.2).
package walletwire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// ErrTruncated is returned when a buffer ends before a field can be read.
// Output-parser and block-parser callers treat this as a per-item parse
// failure (§7 ParseError), never a transport error.
var ErrTruncated = fmt.Errorf("walletwire: truncated input")

// ReadVarint reads a Bitcoin-style CompactSize integer from r.
func ReadVarint(r io.Reader) (uint64, error) {
	var prefix [1]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return 0, fmt.Errorf("%w: varint prefix: %v", ErrTruncated, err)
	}

	switch prefix[0] {
	case 0xfd:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, fmt.Errorf("%w: varint16: %v", ErrTruncated, err)
		}
		return uint64(binary.LittleEndian.Uint16(b[:])), nil
	case 0xfe:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, fmt.Errorf("%w: varint32: %v", ErrTruncated, err)
		}
		return uint64(binary.LittleEndian.Uint32(b[:])), nil
	case 0xff:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, fmt.Errorf("%w: varint64: %v", ErrTruncated, err)
		}
		return binary.LittleEndian.Uint64(b[:]), nil
	default:
		return uint64(prefix[0]), nil
	}
}

// WriteVarint encodes v as a Bitcoin-style CompactSize integer.
func WriteVarint(v uint64) []byte {
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

// reader wraps a byte slice with a cursor, used by the parsers below that
// need to track how much of a buffer has been consumed. Unlike a plain
// bytes.Reader, it exposes the backing slice directly so the range-proof
// parser can capture a verbatim byte span rather than re-serializing.
type reader struct {
	buf []byte
	pos int
}

func newReader(b []byte) *reader {
	return &reader{buf: b}
}

func (r *reader) readN(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, n, len(r.buf)-r.pos)
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

// mark returns the current absolute offset, for slicing a verbatim span
// together with a later mark().
func (r *reader) mark() int {
	return r.pos
}

// span returns the verbatim bytes between two marks.
func (r *reader) span(from, to int) []byte {
	return r.buf[from:to]
}

func (r *reader) readU8() (byte, error) {
	b, err := r.readN(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) readU16LE() (uint16, error) {
	b, err := r.readN(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) readU32LE() (uint32, error) {
	b, err := r.readN(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) readI64LE() (int64, error) {
	b, err := r.readN(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func (r *reader) readU64LE() (uint64, error) {
	b, err := r.readN(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) readVarint() (uint64, error) {
	prefix, err := r.readN(1)
	if err != nil {
		return 0, fmt.Errorf("%w: varint prefix: %v", ErrTruncated, err)
	}
	switch prefix[0] {
	case 0xfd:
		b, err := r.readN(2)
		if err != nil {
			return 0, fmt.Errorf("%w: varint16: %v", ErrTruncated, err)
		}
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 0xfe:
		b, err := r.readN(4)
		if err != nil {
			return 0, fmt.Errorf("%w: varint32: %v", ErrTruncated, err)
		}
		return uint64(binary.LittleEndian.Uint32(b)), nil
	case 0xff:
		b, err := r.readN(8)
		if err != nil {
			return 0, fmt.Errorf("%w: varint64: %v", ErrTruncated, err)
		}
		return binary.LittleEndian.Uint64(b), nil
	default:
		return uint64(prefix[0]), nil
	}
}

func (r *reader) skip(n int) error {
	_, err := r.readN(n)
	return err
}

func (r *reader) remaining() int {
	return len(r.buf) - r.pos
}
