// Package mempool implements §4.H: a locally-observed, not-yet-confirmed
// transaction is parsed the same way a confirmed block's transactions
// are, but its owned outputs land under a synthetic hash and its spends
// stay pending until a block confirms them (or supersedes them with a
// different confirmed transaction, at which point §4.F's reconciliation
// step deletes these synthetic records).
package mempool

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/klingon-tech/lightwalletd/internal/keymgr"
	"github.com/klingon-tech/lightwalletd/internal/log"
	"github.com/klingon-tech/lightwalletd/internal/storage"
	"github.com/klingon-tech/lightwalletd/pkg/cryptoadapter"
	"github.com/klingon-tech/lightwalletd/pkg/types"
	"github.com/klingon-tech/lightwalletd/pkg/walletwire"
)

// Config wires the handler to its collaborators; Adapter defaults to
// cryptoadapter.New() when nil, mirroring syncengine.Config.
type Config struct {
	Store   *storage.WalletStore
	Keys    *keymgr.Manager
	Adapter cryptoadapter.Adapter
}

// Handler applies §4.H to transactions the wallet observes before they
// confirm — both ones it broadcasts itself and ones relayed to it by a
// provider's mempool feed.
type Handler struct {
	cfg Config
}

// New builds a Handler. Panics if Store or Keys is nil.
func New(cfg Config) *Handler {
	if cfg.Store == nil || cfg.Keys == nil {
		panic("mempool: Store and Keys are required")
	}
	if cfg.Adapter == nil {
		cfg.Adapter = cryptoadapter.New()
	}
	return &Handler{cfg: cfg}
}

// Observe parses a raw transaction and applies §4.H in full: ownership
// detection plus amount recovery on its outputs, and pending-spend
// marking on its inputs. It never fails for a per-output or per-input
// recognition problem, only for a genuine storage error.
func (h *Handler) Observe(rawTx []byte) (types.Hash, error) {
	tx, err := walletwire.ParseTransaction(rawTx)
	if err != nil {
		return types.Hash{}, fmt.Errorf("mempool: parse transaction: %w", err)
	}
	if err := h.observeOutputs(tx); err != nil {
		return tx.Hash, err
	}
	if err := h.observeInputs(tx); err != nil {
		return tx.Hash, err
	}
	return tx.Hash, nil
}

// observeOutputs runs ownership detection (§4.B) and amount recovery
// (§4.A) over tx's outputs, storing the owned ones under a synthetic
// `mempool:{txid}:{i}` hash as PENDING_UNSPENT.
func (h *Handler) observeOutputs(tx walletwire.ParsedTransaction) error {
	for i, out := range tx.Outputs {
		if out.BlindingPK.IsZero() || out.SpendingPK.IsZero() {
			continue
		}

		sub, owned, err := h.cfg.Keys.IsMineByKeys(out.BlindingPK, out.SpendingPK, out.ViewTag)
		if err != nil {
			log.Mempool.Warn().Err(err).Str("tx", tx.Hash.String()).Int("output", i).Msg("ownership check failed")
			continue
		}
		if !owned {
			continue
		}

		rec := storage.OutputRecord{
			OutputHash: syntheticOutputHash(tx.Hash, i),
			TxHash:     tx.Hash,
			Account:    sub.Account,
			Address:    sub.Address,
			TokenID:    out.TokenID,
			BlindingPK: out.BlindingPK,
		}

		nonce, nerr := h.cfg.Keys.Nonce(out.BlindingPK)
		if nerr != nil {
			log.Mempool.Warn().Err(nerr).Str("tx", tx.Hash.String()).Int("output", i).Msg("nonce derivation failed; storing with amount=0")
		} else if recovered, rerr := h.cfg.Adapter.RecoverAmount(out.RangeProof, nonce, out.TokenID); rerr == nil {
			rec.Value = recovered.Amount
			rec.Memo = recovered.Memo
		} else {
			log.Mempool.Debug().Err(rerr).Str("tx", tx.Hash.String()).Int("output", i).Msg("amount recovery failed; storing with amount=0")
		}

		if err := h.cfg.Store.SaveUnconfirmedOutput(rec); err != nil {
			return fmt.Errorf("mempool: save unconfirmed output %s: %w", rec.OutputHash, err)
		}
	}
	return nil
}

// observeInputs records tx as the mempool spender of every currently-unspent
// output of ours that it references, per §4.H's second bullet. A
// CONFIRMED_UNSPENT output moves to PENDING_SPENT; a PENDING_UNSPENT one
// keeps its state and only gains the mempool spend mark.
func (h *Handler) observeInputs(tx walletwire.ParsedTransaction) error {
	for _, in := range tx.Inputs {
		rec, tracked, err := h.cfg.Store.GetOutput(in.PrevHash)
		if err != nil {
			return fmt.Errorf("mempool: lookup %s: %w", in.PrevHash, err)
		}
		if !tracked || !rec.IsUnspent() {
			continue
		}
		if err := h.cfg.Store.MarkOutputSpent(in.PrevHash, tx.Hash); err != nil {
			return fmt.Errorf("mempool: mark spent %s: %w", in.PrevHash, err)
		}
	}
	return nil
}

// syntheticOutputHash derives the `mempool:{txid}:{i}` identifier §4.H
// names, hashed down to a types.Hash since that is the wire width every
// other OutputRecord.OutputHash uses.
func syntheticOutputHash(txHash types.Hash, index int) types.Hash {
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], uint32(index))
	seed := append([]byte("mempool:"+txHash.String()+":"), idx[:]...)
	return types.Hash(sha256.Sum256(seed))
}
