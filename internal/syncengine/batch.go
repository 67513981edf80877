package syncengine

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/klingon-tech/lightwalletd/internal/fetch"
	"github.com/klingon-tech/lightwalletd/internal/log"
	"github.com/klingon-tech/lightwalletd/pkg/types"
	"github.com/klingon-tech/lightwalletd/pkg/walletwire"
)

// txKeysFuture is the in-flight next-range prefetch of §4.F step 3.
type txKeysFuture struct {
	done   chan struct{}
	result fetch.TxKeysRange
	err    error
}

func (f *txKeysFuture) await() (fetch.TxKeysRange, error) {
	<-f.done
	return f.result, f.err
}

func (e *Engine) fetchTxKeysRange(ctx context.Context, start uint64) (fetch.TxKeysRange, error) {
	var result fetch.TxKeysRange
	err := fetch.WithRetry(ctx, e.reconnect, func(ctx context.Context) error {
		r, err := e.cfg.Provider.BlockTxKeysRange(ctx, start)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

func (e *Engine) startTxKeysPrefetch(ctx context.Context, start uint64) *txKeysFuture {
	f := &txKeysFuture{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.result, f.err = e.fetchTxKeysRange(ctx, start)
	}()
	return f
}

// headerChunkFuture is the in-flight next-headers-chunk prefetch of §4.F
// step 4.
type headerChunkFuture struct {
	done    chan struct{}
	start   uint64
	headers []walletwire.Header
	err     error
}

func (f *headerChunkFuture) await() ([]walletwire.Header, error) {
	<-f.done
	return f.headers, f.err
}

func (e *Engine) fetchHeaderChunk(ctx context.Context, start uint64, count uint32) ([]walletwire.Header, error) {
	var raws [][]byte
	err := fetch.WithRetry(ctx, e.reconnect, func(ctx context.Context) error {
		r, err := e.cfg.Provider.BlockHeaders(ctx, start, count)
		if err != nil {
			return err
		}
		raws = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	headers := make([]walletwire.Header, 0, len(raws))
	for i, raw := range raws {
		h, err := walletwire.ParseHeader(raw)
		if err != nil {
			return nil, fmt.Errorf("parse header %d of chunk starting at %d: %w", i, start, err)
		}
		headers = append(headers, h)
	}
	return headers, nil
}

func (e *Engine) startHeaderChunkPrefetch(ctx context.Context, start uint64, count uint32) *headerChunkFuture {
	f := &headerChunkFuture{done: make(chan struct{}), start: start}
	go func() {
		defer close(f.done)
		f.headers, f.err = e.fetchHeaderChunk(ctx, start, count)
	}()
	return f
}

// headerWindow tracks the currently-held chunk of headers and an optional
// in-flight prefetch of the chunk after it, implementing §4.F step 4's
// "when processing crosses the boundary, await the future and shift
// windows; prefetch the next chunk".
type headerWindow struct {
	start   uint64
	headers []walletwire.Header
	next    *headerChunkFuture
}

func chunkCount(start, syncEnd uint64) uint32 {
	remaining := syncEnd - start + 1
	if remaining > HeadersChunkSize {
		return HeadersChunkSize
	}
	return uint32(remaining)
}

// headerAt returns the parsed header at height, fetching or shifting the
// pipelined window as needed, and kicks off the next chunk's prefetch once
// the current chunk is in use.
func (e *Engine) headerAt(ctx context.Context, win *headerWindow, height, syncEnd uint64) (walletwire.Header, error) {
	for {
		if len(win.headers) > 0 && height >= win.start && height < win.start+uint64(len(win.headers)) {
			if win.next == nil {
				nextStart := win.start + uint64(len(win.headers))
				if nextStart <= syncEnd {
					win.next = e.startHeaderChunkPrefetch(ctx, nextStart, chunkCount(nextStart, syncEnd))
				}
			}
			return win.headers[height-win.start], nil
		}

		nextStart := win.start + uint64(len(win.headers))
		if win.next != nil && win.next.start == nextStart && height >= nextStart {
			headers, err := win.next.await()
			if err != nil {
				return walletwire.Header{}, err
			}
			win.start, win.headers, win.next = nextStart, headers, nil
			continue
		}

		headers, err := e.fetchHeaderChunk(ctx, height, chunkCount(height, syncEnd))
		if err != nil {
			return walletwire.Header{}, err
		}
		win.start, win.headers, win.next = height, headers, nil
	}
}

func dedupHashes(in []types.Hash) []types.Hash {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[types.Hash]bool, len(in))
	out := make([]types.Hash, 0, len(in))
	for _, h := range in {
		if !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	return out
}

func (e *Engine) balanceSnapshot() uint64 {
	total, err := e.cfg.Store.TotalUnspentValue()
	if err != nil {
		return 0
	}
	return total
}

// RunOnce drives the engine forward from its last checkpoint to the chain
// tip observed at the start of the call, implementing §4.F's complete
// per-batch algorithm including reorg detection and resolution. It returns
// once current_height exceeds the observed tip (or a reorg is detected
// with StopOnReorg set).
func (e *Engine) RunOnce(ctx context.Context, cb *Callbacks) (Progress, error) {
	state, _, err := e.cfg.Store.GetSyncState()
	if err != nil {
		return Progress{}, fmt.Errorf("syncengine: read sync state: %w", err)
	}

	// Pre-batch consistency probe (§4.F "Reorganization handling" trigger
	// condition's second clause).
	if e.cfg.VerifyHashes && state.LastSyncedHeight > 0 {
		fresh, herr := e.fetchHeaderHash(ctx, state.LastSyncedHeight)
		if herr != nil {
			return Progress{}, herr
		}
		if fresh != state.LastSyncedHash {
			newHeight, newHash, rerr := e.resolveReorg(ctx, state.LastSyncedHeight, state.LastSyncedHeight, state.LastSyncedHash, fresh)
			if rerr != nil {
				cb.errored(rerr)
				return Progress{}, rerr
			}
			state.LastSyncedHeight, state.LastSyncedHash = newHeight, newHash
			if serr := e.cfg.Store.SaveSyncState(state); serr != nil {
				return Progress{}, serr
			}
			cb.progress(Progress{Height: newHeight, IsReorg: true})
		}
	}

	var tip uint64
	err = fetch.WithRetry(ctx, e.reconnect, func(ctx context.Context) error {
		t, err := e.cfg.Provider.ChainTipHeight(ctx)
		if err != nil {
			return err
		}
		tip = t
		return nil
	})
	if err != nil {
		return Progress{}, fmt.Errorf("syncengine: chain tip: %w", err)
	}

	syncEnd := tip
	progress := Progress{Height: state.LastSyncedHeight, Tip: tip}

	var pendingTxKeys *txKeysFuture
	win := &headerWindow{}
	blocksSinceYield := 0
	oldBalance := e.balanceSnapshot()

outer:
	for state.LastSyncedHeight < syncEnd {
		currentHeight := state.LastSyncedHeight + 1

		var batch fetch.TxKeysRange
		if pendingTxKeys != nil {
			batch, err = pendingTxKeys.await()
		} else {
			batch, err = e.fetchTxKeysRange(ctx, currentHeight)
		}
		pendingTxKeys = nil
		if err != nil {
			cb.errored(err)
			return progress, fmt.Errorf("syncengine: tx-key range at %d: %w", currentHeight, err)
		}

		trimmed := batch.Blocks[:0]
		var maxHeight uint64
		for _, b := range batch.Blocks {
			if b.Height > syncEnd {
				continue
			}
			trimmed = append(trimmed, b)
			if b.Height > maxHeight {
				maxHeight = b.Height
			}
		}
		batch.Blocks = trimmed

		if len(batch.Blocks) > 0 && batch.NextHeight <= maxHeight {
			err := &fetch.ProtocolInvariantViolation{
				Reason: fmt.Sprintf("next_height %d does not advance past max block height %d", batch.NextHeight, maxHeight),
			}
			cb.errored(err)
			return progress, err
		}

		if batch.NextHeight <= syncEnd {
			pendingTxKeys = e.startTxKeysPrefetch(ctx, batch.NextHeight)
		}

		var batchTxKeys uint64
		for _, b := range batch.Blocks {
			header, herr := e.headerAt(ctx, win, b.Height, syncEnd)
			if herr != nil {
				cb.errored(herr)
				return progress, fmt.Errorf("syncengine: header at %d: %w", b.Height, herr)
			}
			blockHash := header.Hash()

			if e.cfg.VerifyHashes && b.Height <= state.LastSyncedHeight {
				stored, ok, serr := e.cfg.Store.BlockHash(b.Height)
				if serr != nil {
					return progress, serr
				}
				if ok && stored != blockHash {
					newHeight, newHash, rerr := e.resolveReorg(ctx, state.LastSyncedHeight, b.Height, stored, blockHash)
					if rerr != nil {
						cb.errored(rerr)
						return progress, rerr
					}
					state.LastSyncedHeight, state.LastSyncedHash = newHeight, newHash
					if serr := e.cfg.Store.SaveSyncState(state); serr != nil {
						return progress, serr
					}
					progress.IsReorg = true
					cb.progress(Progress{Height: newHeight, Tip: syncEnd, IsReorg: true})
					continue outer
				}
			}

			pr, perr := e.processBlock(ctx, b.Height, b.Keys)
			if perr != nil {
				return progress, perr
			}

			if serr := e.cfg.Store.SaveBlock(b.Height, blockHash, pr.newOutputs, pr.spends); serr != nil {
				return progress, fmt.Errorf("syncengine: save block %d: %w", b.Height, serr)
			}
			for _, oldTx := range dedupHashes(pr.reconcileTx) {
				if derr := e.cfg.Store.DeleteUnconfirmedOutputsByTx(oldTx); derr != nil {
					return progress, fmt.Errorf("syncengine: reconcile mempool tx %s: %w", oldTx, derr)
				}
			}

			state.LastSyncedHeight = b.Height
			state.LastSyncedHash = blockHash
			progress.Height = b.Height
			progress.BlocksProcessed++
			batchTxKeys += uint64(len(b.Keys))
			cb.newBlock(b.Height, blockHash)

			blocksSinceYield++
			if blocksSinceYield >= YieldEvery {
				runtime.Gosched()
				blocksSinceYield = 0
			}
		}

		if len(batch.Blocks) == 0 {
			// Nothing in range yet; avoid spinning against an unchanged
			// next_height.
			if batch.NextHeight <= currentHeight {
				break
			}
			continue
		}

		state.TotalTxKeysSynced += batchTxKeys
		state.LastSyncTimeMs = time.Now().UnixMilli()
		state.ChainTipAtLastSync = syncEnd
		progress.TxKeysSynced += batchTxKeys

		state, err = e.save(state, state.LastSyncedHeight, false)
		if err != nil {
			return progress, err
		}
		if err := e.cfg.Store.SaveSyncState(state); err != nil {
			return progress, fmt.Errorf("syncengine: persist sync state: %w", err)
		}

		newBalance := e.balanceSnapshot()
		cb.balanceChange(newBalance, oldBalance)
		oldBalance = newBalance

		cb.progress(Progress{
			Height:          state.LastSyncedHeight,
			Tip:             syncEnd,
			BlocksProcessed: progress.BlocksProcessed,
			TxKeysSynced:    progress.TxKeysSynced,
		})
	}

	if state, err = e.save(state, state.LastSyncedHeight, true); err != nil {
		return progress, err
	}
	if err := e.cfg.Store.SaveSyncState(state); err != nil {
		return progress, fmt.Errorf("syncengine: final persist sync state: %w", err)
	}

	log.Sync.Info().Uint64("height", state.LastSyncedHeight).Uint64("tip", syncEnd).Msg("sync cycle complete")
	return progress, nil
}
