// Package fetch defines the abstract transport contract the sync engine
// drives (§4.D): chain tip, batched headers, per-block transaction-key
// summaries, serialized outputs by hash, and raw-transaction broadcast.
// Two concrete implementations live in the jsonrpc and p2p subpackages;
// both satisfy Provider and share the retry/backoff policy in retry.go.
package fetch

import (
	"context"

	"github.com/klingon-tech/lightwalletd/pkg/cryptoadapter"
	"github.com/klingon-tech/lightwalletd/pkg/types"
)

// TxKeyOutput is one output's recovery material, as carried by a
// block_tx_keys_range response (§6.1's TxKey wire shape).
type TxKeyOutput struct {
	BlindingPK cryptoadapter.Point
	SpendingPK cryptoadapter.Point
	ViewTag    uint16
	OutputHash types.Hash
}

// TxKeyInput is one input's previous-output reference. The chain's inputs
// carry only a 32-byte hash, never an index (§6.2).
type TxKeyInput struct {
	PrevOutHash types.Hash
}

// TxKeySummary is one transaction's worth of recovery material.
type TxKeySummary struct {
	TxHash  types.Hash
	Outputs []TxKeyOutput
	Inputs  []TxKeyInput
}

// BlockTxKeys is one block's transaction-key summaries.
type BlockTxKeys struct {
	Height uint64
	Keys   []TxKeySummary
}

// TxKeysRange is the result of block_tx_keys_range: a contiguous run of
// blocks' summaries plus the height to resume from. The sync engine must
// treat NextHeight <= max(block heights returned) as a fatal protocol
// violation (§4.F step 1).
type TxKeysRange struct {
	Blocks     []BlockTxKeys
	NextHeight uint64
}

// Provider is the abstract fetch contract of §4.D, implemented by the
// jsonrpc and p2p transports.
type Provider interface {
	// Connect is idempotent and performs the transport's handshake.
	Connect(ctx context.Context) error

	// ChainTipHeight returns the best known height. Monotonic within a
	// connection.
	ChainTipHeight(ctx context.Context) (uint64, error)

	// BlockHeader returns the raw 80-byte header at height.
	BlockHeader(ctx context.Context, height uint64) ([]byte, error)

	// BlockHeaders returns up to count concatenated raw headers starting
	// at start, in order. The server may return fewer than count.
	BlockHeaders(ctx context.Context, start uint64, count uint32) ([][]byte, error)

	// BlockTxKeysRange returns transaction-key summaries for a
	// server-chosen batch starting at start.
	BlockTxKeysRange(ctx context.Context, start uint64) (TxKeysRange, error)

	// TxOutputByHash fetches one serialized confidential output.
	TxOutputByHash(ctx context.Context, outputHash types.Hash) ([]byte, error)

	// Broadcast relays a raw transaction and returns its hash.
	Broadcast(ctx context.Context, rawTx []byte) (types.Hash, error)

	// SubscribeHeaders registers cb to be called with (height, raw
	// header) whenever the provider observes a new tip. Optional: a
	// transport that cannot push notifications returns ErrUnsupported.
	SubscribeHeaders(ctx context.Context, cb func(height uint64, header []byte)) error

	// Close drops the underlying connection. After Close, Connect may be
	// called again to re-establish it.
	Close() error
}
