package syncengine

import (
	"context"
	"fmt"

	"github.com/klingon-tech/lightwalletd/internal/fetch"
	"github.com/klingon-tech/lightwalletd/internal/keymgr"
	"github.com/klingon-tech/lightwalletd/internal/log"
	"github.com/klingon-tech/lightwalletd/internal/storage"
	"github.com/klingon-tech/lightwalletd/pkg/types"
	"github.com/klingon-tech/lightwalletd/pkg/walletwire"
)

// blockResult is everything one block's transactions contribute to the
// batch, ready for a single Storage.SaveBlock call (§4.C "single
// transaction per block").
type blockResult struct {
	newOutputs  []storage.OutputRecord
	spends      []storage.SpendMark
	reconcileTx []types.Hash // old mempool tx hashes to reconcile (§4.F step iv, §4.H)
}

// processBlock implements §4.F step 5.4: for every transaction summary,
// detect ownership of its outputs, recover amounts, and walk its inputs
// against the currently-tracked UTXO set. It never fails the batch for a
// per-output or per-input problem; only a genuine storage error aborts.
func (e *Engine) processBlock(ctx context.Context, height uint64, txs []fetch.TxKeySummary) (blockResult, error) {
	var result blockResult

	for _, tx := range txs {
		for i, out := range tx.Outputs {
			if out.OutputHash.IsZero() || out.BlindingPK.IsZero() || out.SpendingPK.IsZero() {
				log.Sync.Debug().
					Uint64("height", height).
					Str("tx", tx.TxHash.String()).
					Int("output", i).
					Msg("skipping output with missing recovery fields")
				continue
			}

			sub, owned, err := e.cfg.Keys.IsMineByKeys(out.BlindingPK, out.SpendingPK, out.ViewTag)
			if err != nil {
				log.Sync.Warn().Err(err).Str("tx", tx.TxHash.String()).Int("output", i).Msg("ownership check failed")
				continue
			}
			if !owned {
				continue
			}

			rec, err := e.recoverOwnedOutput(ctx, tx.TxHash, out, sub)
			if err != nil {
				log.Sync.Warn().Err(err).Str("tx", tx.TxHash.String()).Int("output", i).Msg("failed to fetch/parse owned output; skipping")
				continue
			}
			result.newOutputs = append(result.newOutputs, rec)
		}

		for _, in := range tx.Inputs {
			mark, oldTx, ok, err := e.resolveSpend(in.PrevOutHash, tx.TxHash)
			if err != nil {
				return blockResult{}, err
			}
			if !ok {
				continue
			}
			result.spends = append(result.spends, mark)
			if !oldTx.IsZero() {
				result.reconcileTx = append(result.reconcileTx, oldTx)
			}
		}
	}

	return result, nil
}

// recoverOwnedOutput fetches the serialized output, parses it (§4.E), and
// attempts amount/memo recovery (§4.F step 5.4.i). A failed recovery still
// yields a record — amount 0, no memo — since the output is recognized as
// ours and can be re-recovered on a future pass. Gamma is intentionally
// not persisted: it is recoverable on demand from the same range-proof
// blob whenever the wallet facade needs it to build a spend (§9 open
// question).
func (e *Engine) recoverOwnedOutput(ctx context.Context, txHash types.Hash, out fetch.TxKeyOutput, sub keymgr.SubAddress) (storage.OutputRecord, error) {
	var raw []byte
	err := fetch.WithRetry(ctx, e.reconnect, func(ctx context.Context) error {
		r, err := e.cfg.Provider.TxOutputByHash(ctx, out.OutputHash)
		if err != nil {
			return err
		}
		raw = r
		return nil
	})
	if err != nil {
		return storage.OutputRecord{}, fmt.Errorf("fetch output %s: %w", out.OutputHash, err)
	}

	parsed, err := walletwire.ParseOutput(raw)
	if err != nil {
		return storage.OutputRecord{}, fmt.Errorf("parse output %s: %w", out.OutputHash, err)
	}

	rec := storage.OutputRecord{
		OutputHash: out.OutputHash,
		TxHash:     txHash,
		Account:    sub.Account,
		Address:    sub.Address,
		TokenID:    parsed.TokenID,
		BlindingPK: out.BlindingPK,
	}

	nonce, err := e.cfg.Keys.Nonce(out.BlindingPK)
	if err != nil {
		log.Sync.Warn().Err(err).Str("output", out.OutputHash.String()).Msg("nonce derivation failed; storing with amount=0")
		return rec, nil
	}

	recovered, err := e.cfg.Adapter.RecoverAmount(parsed.RangeProof, nonce, parsed.TokenID)
	if err != nil {
		log.Sync.Debug().Err(err).Str("output", out.OutputHash.String()).Msg("amount recovery failed; storing with amount=0")
		return rec, nil
	}

	rec.Value = recovered.Amount
	rec.Memo = recovered.Memo
	return rec, nil
}

// resolveSpend checks whether prevOutHash is one of our tracked, currently
// unspent outputs, and if so returns the SpendMark to apply. When the
// output was already marked spent by an unconfirmed (mempool) transaction,
// it also returns that transaction's hash so the caller can run §4.F step
// (iv)/§4.H reconciliation once the batch commits.
func (e *Engine) resolveSpend(prevOutHash, confirmingTxHash types.Hash) (mark storage.SpendMark, oldMempoolTx types.Hash, ok bool, err error) {
	rec, tracked, err := e.cfg.Store.GetOutput(prevOutHash)
	if err != nil {
		return storage.SpendMark{}, types.Hash{}, false, fmt.Errorf("lookup output %s: %w", prevOutHash, err)
	}
	if !tracked || rec.State == storage.StateConfirmedSpent {
		return storage.SpendMark{}, types.Hash{}, false, nil
	}

	if rec.State == storage.StatePendingSpent {
		old, hasOld, getErr := e.cfg.Store.GetMempoolSpentTxHash(prevOutHash)
		if getErr != nil {
			return storage.SpendMark{}, types.Hash{}, false, fmt.Errorf("lookup mempool spend for %s: %w", prevOutHash, getErr)
		}
		if hasOld {
			oldMempoolTx = old
		}
	}

	mark = storage.SpendMark{OutputHash: prevOutHash, SpentTxHash: confirmingTxHash}
	return mark, oldMempoolTx, true, nil
}
