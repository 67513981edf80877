package syncengine

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/klingon-tech/lightwalletd/internal/fetch"
	"github.com/klingon-tech/lightwalletd/pkg/cryptoadapter"
	"github.com/klingon-tech/lightwalletd/pkg/types"
	"github.com/klingon-tech/lightwalletd/pkg/walletwire"
)

// fakeProvider is a test double for fetch.Provider: everything is served
// out of plain maps the test populates and mutates directly (including
// between RunOnce calls, to simulate a reorg or new tip).
type fakeProvider struct {
	tip       uint64
	headers   map[uint64][]byte
	blocks    map[uint64][]fetch.TxKeySummary
	outputs   map[types.Hash][]byte
	noAdvance bool // BlockTxKeysRange never advances next_height past the block it returns.
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		headers: make(map[uint64][]byte),
		blocks:  make(map[uint64][]fetch.TxKeySummary),
		outputs: make(map[types.Hash][]byte),
	}
}

func (p *fakeProvider) Connect(ctx context.Context) error { return nil }
func (p *fakeProvider) Close() error                      { return nil }

func (p *fakeProvider) ChainTipHeight(ctx context.Context) (uint64, error) {
	return p.tip, nil
}

func (p *fakeProvider) BlockHeader(ctx context.Context, height uint64) ([]byte, error) {
	raw, ok := p.headers[height]
	if !ok {
		return nil, fmt.Errorf("fake provider: no header at height %d", height)
	}
	return raw, nil
}

func (p *fakeProvider) BlockHeaders(ctx context.Context, start uint64, count uint32) ([][]byte, error) {
	var out [][]byte
	for h := start; h < start+uint64(count); h++ {
		raw, ok := p.headers[h]
		if !ok {
			break
		}
		out = append(out, raw)
	}
	return out, nil
}

func (p *fakeProvider) BlockTxKeysRange(ctx context.Context, start uint64) (fetch.TxKeysRange, error) {
	keys, ok := p.blocks[start]
	if !ok {
		return fetch.TxKeysRange{NextHeight: start}, nil
	}
	next := start + 1
	if p.noAdvance {
		next = start
	}
	return fetch.TxKeysRange{
		Blocks:     []fetch.BlockTxKeys{{Height: start, Keys: keys}},
		NextHeight: next,
	}, nil
}

func (p *fakeProvider) TxOutputByHash(ctx context.Context, outputHash types.Hash) ([]byte, error) {
	raw, ok := p.outputs[outputHash]
	if !ok {
		return nil, fmt.Errorf("fake provider: no output %s", outputHash)
	}
	return raw, nil
}

func (p *fakeProvider) Broadcast(ctx context.Context, rawTx []byte) (types.Hash, error) {
	return walletwire.DoubleSHA256Reversed(rawTx), nil
}

func (p *fakeProvider) SubscribeHeaders(ctx context.Context, cb func(uint64, []byte)) error {
	return fetch.ErrUnsupported
}

// testHeader builds a deterministic, distinct-per-(height,variant) raw
// 80-byte header. variant lets a test simulate a chain reorganization by
// rebuilding the headers (and hence hashes) for a range of heights.
func testHeader(height uint64, variant byte) []byte {
	raw := make([]byte, walletwire.HeaderSize)
	binary.LittleEndian.PutUint32(raw[0:4], 1)
	binary.LittleEndian.PutUint32(raw[68:72], uint32(height))
	binary.LittleEndian.PutUint32(raw[76:80], uint32(height)*1000+uint32(variant))
	return raw
}

func headerHash(raw []byte) types.Hash {
	h, err := walletwire.ParseHeader(raw)
	if err != nil {
		panic(err)
	}
	return h.Hash()
}

// encodeTestOutput builds a serialized confidential output per §4.E with an
// empty (Vs count == 0) range-proof body. recoverOwnedOutput will therefore
// always fail to decrypt an amount from it — exercising the documented
// graceful-degradation path (store with amount 0) rather than requiring a
// real sealed AEAD blob, which only pkg/cryptoadapter's own tests can
// construct since the sealing key derivation is unexported.
func encodeTestOutput(blindingPK, spendingPK, ephemeral cryptoadapter.Point, viewTag uint16, tokenID *types.TokenID) []byte {
	var buf []byte

	value := make([]byte, 8)
	binary.LittleEndian.PutUint64(value, walletwire.MaxAmount)
	buf = append(buf, value...)

	flags := uint64(walletwire.FlagBLSCTMarker)
	if tokenID != nil {
		flags |= walletwire.FlagTokenMarker
	}
	flagBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(flagBytes, flags)
	buf = append(buf, flagBytes...)

	buf = append(buf, 0x00) // empty script
	buf = append(buf, 0x00) // range proof: Vs count = 0

	buf = append(buf, spendingPK[:]...)
	buf = append(buf, blindingPK[:]...)
	buf = append(buf, ephemeral[:]...)

	tagBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(tagBytes, viewTag)
	buf = append(buf, tagBytes...)

	if tokenID != nil {
		tok := make([]byte, 64)
		copy(tok, tokenID[:])
		buf = append(buf, tok...)
	}
	return buf
}
