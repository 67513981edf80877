package syncengine

import (
	"context"
	"fmt"

	"github.com/klingon-tech/lightwalletd/internal/fetch"
	"github.com/klingon-tech/lightwalletd/internal/log"
	"github.com/klingon-tech/lightwalletd/pkg/types"
	"github.com/klingon-tech/lightwalletd/pkg/walletwire"
)

// fetchHeaderHash fetches the raw header at height and recomputes its
// hash, retrying transient provider errors per §5/§7.
func (e *Engine) fetchHeaderHash(ctx context.Context, height uint64) (types.Hash, error) {
	var raw []byte
	err := fetch.WithRetry(ctx, e.reconnect, func(ctx context.Context) error {
		r, err := e.cfg.Provider.BlockHeader(ctx, height)
		if err != nil {
			return err
		}
		raw = r
		return nil
	})
	if err != nil {
		return types.Hash{}, err
	}
	header, err := walletwire.ParseHeader(raw)
	if err != nil {
		return types.Hash{}, fmt.Errorf("syncengine: parse header at height %d: %w", height, err)
	}
	return header.Hash(), nil
}

// findCommonAncestor walks backward from triggerHeight-1, comparing each
// height's stored block-hash sample against a freshly fetched header hash,
// per §4.F "Binary-search-style walk backward... the common ancestor is
// the largest h' < h where they match (or −1)". This implementation walks
// linearly rather than bisecting: the match/mismatch predicate is
// monotonic in height so a real binary search would also work, but most
// reorgs are shallow and a linear walk from the tip needs no more provider
// round-trips than the deepest case a binary search would take to confirm.
// found is false when no height back to (and including) 0 matches.
func (e *Engine) findCommonAncestor(ctx context.Context, triggerHeight uint64) (ancestorHeight uint64, ancestorHash types.Hash, found bool, err error) {
	if triggerHeight == 0 {
		return 0, types.Hash{}, false, nil
	}
	for h := triggerHeight - 1; ; h-- {
		stored, ok, getErr := e.cfg.Store.BlockHash(h)
		if getErr != nil {
			return 0, types.Hash{}, false, fmt.Errorf("syncengine: read stored hash at %d: %w", h, getErr)
		}
		if ok {
			fresh, hashErr := e.fetchHeaderHash(ctx, h)
			if hashErr != nil {
				return 0, types.Hash{}, false, fmt.Errorf("syncengine: fetch header at %d: %w", h, hashErr)
			}
			if fresh == stored {
				return h, stored, true, nil
			}
		}
		if h == 0 {
			return 0, types.Hash{}, false, nil
		}
	}
}

// resolveReorg implements §4.F's "Reorganization handling": it locates the
// common ancestor, and — unless Config.StopOnReorg — reverts every height
// above it and returns the new checkpoint to resume forward sync from. When
// StopOnReorg is set, it returns *ReorgDetected and leaves storage
// untouched.
func (e *Engine) resolveReorg(ctx context.Context, lastHeight uint64, triggerHeight uint64, oldHashAtTrigger, newHashAtTrigger types.Hash) (newLastHeight uint64, newLastHash types.Hash, err error) {
	ancestorHeight, ancestorHash, found, err := e.findCommonAncestor(ctx, triggerHeight)
	if err != nil {
		return 0, types.Hash{}, err
	}

	revertFrom := uint64(0)
	if found {
		revertFrom = ancestorHeight + 1
	}
	blocksToRevert := uint64(0)
	if lastHeight >= revertFrom {
		blocksToRevert = lastHeight - revertFrom + 1
	}

	log.Sync.Warn().
		Uint64("trigger_height", triggerHeight).
		Uint64("ancestor_height", ancestorHeight).
		Bool("ancestor_found", found).
		Uint64("blocks_to_revert", blocksToRevert).
		Msg("reorganization detected")

	if e.cfg.StopOnReorg {
		return 0, types.Hash{}, &ReorgDetected{
			Height:         triggerHeight,
			OldHash:        oldHashAtTrigger,
			NewHash:        newHashAtTrigger,
			BlocksToRevert: blocksToRevert,
		}
	}

	for h := revertFrom; h <= lastHeight; h++ {
		if derr := e.cfg.Store.DeleteOutputsByHeight(h); derr != nil {
			return 0, types.Hash{}, fmt.Errorf("syncengine: revert outputs at height %d: %w", h, derr)
		}
		if derr := e.cfg.Store.UnspendOutputsBySpentHeight(h); derr != nil {
			return 0, types.Hash{}, fmt.Errorf("syncengine: revert spends at height %d: %w", h, derr)
		}
		if derr := e.cfg.Store.DeleteBlockHash(h); derr != nil {
			return 0, types.Hash{}, fmt.Errorf("syncengine: revert block hash at height %d: %w", h, derr)
		}
		// tx_keys rows are not persisted by default (§9 open question),
		// so there is nothing to delete for delete_tx_keys_by_height here.
	}

	if !found {
		return 0, types.Hash{}, nil
	}
	return ancestorHeight, ancestorHash, nil
}
