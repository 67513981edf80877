package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/klingon-tech/lightwalletd/pkg/cryptoadapter"
	"github.com/klingon-tech/lightwalletd/pkg/types"
)

// OutputState is one of the five states in §4.F's UTXO state machine:
//
//	(absent) -> PENDING_UNSPENT -> CONFIRMED_UNSPENT -> PENDING_SPENT -> CONFIRMED_SPENT
//
// A confirmed block can also move an output straight from absent to
// CONFIRMED_UNSPENT, or from an unspent or pending-spent state straight to
// CONFIRMED_SPENT. Reorg undo deletes outputs created at a reverted height
// and returns outputs spent at one to CONFIRMED_UNSPENT.
type OutputState int

const (
	StateUnknown OutputState = iota
	StatePendingUnspent
	StateConfirmedUnspent
	StatePendingSpent
	StateConfirmedSpent
)

// OutputRecord is the persisted form of one owned confidential output.
type OutputRecord struct {
	OutputHash  types.Hash
	TxHash      types.Hash
	Account     int32
	Address     uint64
	Value       uint64
	TokenID     *types.TokenID
	BlindingPK  cryptoadapter.Point
	State       OutputState
	Height      uint64 // block height the output was confirmed at; 0 if still pending.
	SpentHeight uint64 // block height the output was confirmed spent at; 0 if unspent or pending-spent.
	SpentTxHash types.Hash
	Memo        string
}

// IsUnspent reports whether the record still counts toward a spendable
// balance (pending or confirmed, but not yet spent).
func (r OutputRecord) IsUnspent() bool {
	return r.State == StatePendingUnspent || r.State == StateConfirmedUnspent
}

// Key layout, one leading byte per table plus a varint-free fixed-width
// height prefix for the height-indexed tables, so height-range deletes
// during reorg undo are a single prefix scan.
var (
	prefixOutput        = []byte{0x01} // output:<output_hash> -> OutputRecord
	prefixByHeight      = []byte{0x02} // by_height:<height_be><output_hash> -> output_hash (created at height)
	prefixSpentByHeight = []byte{0x03} // spent_by_height:<height_be><output_hash> -> output_hash
	prefixMempoolSpend  = []byte{0x04} // mempool_spend:<output_hash> -> spending tx hash
	prefixBlockHash     = []byte{0x05} // block_hash:<height_be> -> block hash
	prefixSyncState     = []byte{0x06} // sync_state singleton row
)

func heightKey(prefix []byte, height uint64, suffix []byte) []byte {
	key := make([]byte, len(prefix)+8+len(suffix))
	n := copy(key, prefix)
	binary.BigEndian.PutUint64(key[n:], height)
	copy(key[n+8:], suffix)
	return key
}

// BlockHashRetention is the number of most recent block hashes kept for
// reorg common-ancestor walk-back (§4.F), past which older rows are
// reclaimed.
const BlockHashRetention = 10_000

// BlockHashCleanupEvery is the insert cadence at which the retention
// trim runs, so every single insert doesn't pay a range-scan cost.
const BlockHashCleanupEvery = 100

// WalletStore implements the §4.C storage contract on top of a Batcher DB.
type WalletStore struct {
	db                    DB
	insertsSeenForCleanup int
}

// NewWalletStore wraps db, which must also implement Batcher — callers get
// this by construction from NewBadger or NewMemory.
func NewWalletStore(db DB) (*WalletStore, error) {
	if _, ok := db.(Batcher); !ok {
		return nil, fmt.Errorf("storage: %T does not support batched writes", db)
	}
	return &WalletStore{db: db}, nil
}

func (s *WalletStore) batcher() Batcher {
	return s.db.(Batcher)
}

// DB returns the underlying key-value store, for callers (the sync engine)
// that need to probe it for optional capabilities like Syncer.
func (s *WalletStore) DB() DB {
	return s.db
}

// IsOutputUnspent reports whether output_hash is known and currently
// unspent (pending or confirmed).
func (s *WalletStore) IsOutputUnspent(hash types.Hash) (bool, error) {
	rec, ok, err := s.GetOutput(hash)
	if err != nil {
		return false, err
	}
	return ok && rec.IsUnspent(), nil
}

// GetOutput fetches an output record by its output hash.
func (s *WalletStore) GetOutput(hash types.Hash) (OutputRecord, bool, error) {
	raw, err := s.db.Get(outputKey(hash))
	if err != nil {
		return OutputRecord{}, false, nil
	}
	var rec OutputRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return OutputRecord{}, false, fmt.Errorf("decode output %s: %w", hash, err)
	}
	return rec, true, nil
}

// GetMempoolSpentTxHash returns the mempool transaction hash currently
// spending output_hash, if any (§4.H mempool reconciliation).
func (s *WalletStore) GetMempoolSpentTxHash(hash types.Hash) (types.Hash, bool, error) {
	raw, err := s.db.Get(mempoolSpendKey(hash))
	if err != nil {
		return types.Hash{}, false, nil
	}
	var txHash types.Hash
	if len(raw) != types.HashSize {
		return types.Hash{}, false, fmt.Errorf("mempool spend record for %s has bad length %d", hash, len(raw))
	}
	copy(txHash[:], raw)
	return txHash, true, nil
}

// SaveBlock commits one block's worth of wallet mutations atomically:
// newly-owned outputs, spent marks, and the block's own hash, all through a
// single Batch per §4.C/§5's "single transaction per block" contract.
// height/blockHash are recorded unconditionally (idempotent re-save on
// retry is safe: Put/Delete are themselves idempotent).
func (s *WalletStore) SaveBlock(height uint64, blockHash types.Hash, newOutputs []OutputRecord, spends []SpendMark) error {
	batch := s.batcher().NewBatch()

	for _, rec := range newOutputs {
		rec.Height = height
		if rec.State == StateUnknown {
			rec.State = StateConfirmedUnspent
		}
		if err := s.putOutput(batch, rec); err != nil {
			return err
		}
		if err := batch.Put(heightKey(prefixByHeight, height, rec.OutputHash[:]), rec.OutputHash[:]); err != nil {
			return fmt.Errorf("index output by height: %w", err)
		}
	}

	for _, sp := range spends {
		rec, ok, err := s.GetOutput(sp.OutputHash)
		if err != nil {
			return err
		}
		if !ok {
			continue // output not tracked by this wallet; nothing to mark.
		}
		rec.State = StateConfirmedSpent
		rec.SpentHeight = height
		rec.SpentTxHash = sp.SpentTxHash
		if err := s.putOutput(batch, rec); err != nil {
			return err
		}
		if err := batch.Put(heightKey(prefixSpentByHeight, height, rec.OutputHash[:]), rec.OutputHash[:]); err != nil {
			return fmt.Errorf("index spend by height: %w", err)
		}
		if err := batch.Delete(mempoolSpendKey(sp.OutputHash)); err != nil {
			return fmt.Errorf("clear mempool spend mark: %w", err)
		}
	}

	if err := batch.Put(heightKey(prefixBlockHash, height, nil), blockHash[:]); err != nil {
		return fmt.Errorf("record block hash: %w", err)
	}

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("save block %d: %w", height, err)
	}

	return s.maybeTrimBlockHashes(height)
}

// SpendMark records that an output was spent by a confirmed transaction.
type SpendMark struct {
	OutputHash  types.Hash
	SpentTxHash types.Hash
}

// MarkOutputSpent records a new output as spent by a pending (mempool)
// transaction, without yet touching its confirmed state — §4.H's mempool
// handler calls this so balances reflect pending spends immediately.
func (s *WalletStore) MarkOutputSpent(outputHash, mempoolTxHash types.Hash) error {
	rec, ok, err := s.GetOutput(outputHash)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("mark spent: output %s not tracked", outputHash)
	}
	if rec.State == StateConfirmedUnspent {
		rec.State = StatePendingSpent
	}
	if err := s.putOutput(nil, rec); err != nil {
		return err
	}
	return s.db.Put(mempoolSpendKey(outputHash), mempoolTxHash[:])
}

// SaveUnconfirmedOutput records an output first observed in the mempool
// (§4.H): it is immediately spendable in an unconfirmed sense, but carries
// no height until confirmed.
func (s *WalletStore) SaveUnconfirmedOutput(rec OutputRecord) error {
	rec.Height = 0
	if rec.State == StateUnknown {
		rec.State = StatePendingUnspent
	}
	return s.putOutput(nil, rec)
}

// DeleteUnconfirmedOutputsByTx removes every output created by txHash that
// never confirmed — used when a mempool transaction is evicted or
// conflicts with a newly confirmed one (§4.H).
func (s *WalletStore) DeleteUnconfirmedOutputsByTx(txHash types.Hash) error {
	var toDelete []types.Hash
	err := s.db.ForEach(prefixOutput, func(key, value []byte) error {
		var rec OutputRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("decode output during scan: %w", err)
		}
		if rec.TxHash == txHash && rec.Height == 0 {
			toDelete = append(toDelete, rec.OutputHash)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan unconfirmed outputs for tx %s: %w", txHash, err)
	}

	batch := s.batcher().NewBatch()
	for _, hash := range toDelete {
		if err := batch.Delete(outputKey(hash)); err != nil {
			return err
		}
	}
	return batch.Commit()
}

// DeleteOutputsByHeight removes every output created at height — the reorg
// undo step for newly-confirmed outputs whose block is no longer on the
// main chain (§4.F).
func (s *WalletStore) DeleteOutputsByHeight(height uint64) error {
	batch := s.batcher().NewBatch()

	var hashes []types.Hash
	scanPrefix := heightKey(prefixByHeight, height, nil)
	err := s.db.ForEach(scanPrefix, func(key, value []byte) error {
		var h types.Hash
		copy(h[:], value)
		hashes = append(hashes, h)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan outputs at height %d: %w", height, err)
	}

	for _, hash := range hashes {
		if err := batch.Delete(outputKey(hash)); err != nil {
			return err
		}
		if err := batch.Delete(heightKey(prefixByHeight, height, hash[:])); err != nil {
			return err
		}
	}
	return batch.Commit()
}

// UnspendOutputsBySpentHeight reverts the confirmed-spent mark on every
// output spent at height, returning them to CONFIRMED_UNSPENT — the reorg
// undo step for spends whose confirming block is no longer on the main
// chain (§4.F).
func (s *WalletStore) UnspendOutputsBySpentHeight(height uint64) error {
	batch := s.batcher().NewBatch()

	var hashes []types.Hash
	scanPrefix := heightKey(prefixSpentByHeight, height, nil)
	err := s.db.ForEach(scanPrefix, func(key, value []byte) error {
		var h types.Hash
		copy(h[:], value)
		hashes = append(hashes, h)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan spends at height %d: %w", height, err)
	}

	for _, hash := range hashes {
		rec, ok, err := s.GetOutput(hash)
		if err != nil {
			return err
		}
		if ok {
			rec.State = StateConfirmedUnspent
			rec.SpentHeight = 0
			rec.SpentTxHash = types.Hash{}
			if err := s.putOutputOnBatch(batch, rec); err != nil {
				return err
			}
		}
		if err := batch.Delete(heightKey(prefixSpentByHeight, height, hash[:])); err != nil {
			return err
		}
	}
	return batch.Commit()
}

// Balance sums unspent outputs for account, optionally filtered to a
// single token (nil meaning the base asset).
func (s *WalletStore) Balance(account int32, tokenID *types.TokenID) (confirmed, unconfirmed uint64, err error) {
	err = s.db.ForEach(prefixOutput, func(key, value []byte) error {
		var rec OutputRecord
		if e := json.Unmarshal(value, &rec); e != nil {
			return fmt.Errorf("decode output during balance scan: %w", e)
		}
		if rec.Account != account || !rec.IsUnspent() || !sameTokenID(rec.TokenID, tokenID) {
			return nil
		}
		if rec.State == StateConfirmedUnspent {
			confirmed += rec.Value
		} else {
			unconfirmed += rec.Value
		}
		return nil
	})
	return confirmed, unconfirmed, err
}

// ListUnspent returns every unspent output for account, for coin selection.
func (s *WalletStore) ListUnspent(account int32, tokenID *types.TokenID) ([]OutputRecord, error) {
	var out []OutputRecord
	err := s.db.ForEach(prefixOutput, func(key, value []byte) error {
		var rec OutputRecord
		if e := json.Unmarshal(value, &rec); e != nil {
			return fmt.Errorf("decode output during list scan: %w", e)
		}
		if rec.Account == account && rec.IsUnspent() && sameTokenID(rec.TokenID, tokenID) {
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// ListAllOutputs returns every output ever recorded for account, spent or
// not, ordered by nothing in particular (callers wanting chronological
// order sort by Height) — the source for a wallet's transaction history.
func (s *WalletStore) ListAllOutputs(account int32, tokenID *types.TokenID) ([]OutputRecord, error) {
	var out []OutputRecord
	err := s.db.ForEach(prefixOutput, func(key, value []byte) error {
		var rec OutputRecord
		if e := json.Unmarshal(value, &rec); e != nil {
			return fmt.Errorf("decode output during history scan: %w", e)
		}
		if rec.Account == account && sameTokenID(rec.TokenID, tokenID) {
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// TotalUnspentValue sums Value across every unspent output regardless of
// account or token — the sync engine uses this for a coarse
// on_balance_change("something changed") notification; callers needing an
// exact per-account, per-token figure use Balance instead.
func (s *WalletStore) TotalUnspentValue() (uint64, error) {
	var total uint64
	err := s.db.ForEach(prefixOutput, func(key, value []byte) error {
		var rec OutputRecord
		if e := json.Unmarshal(value, &rec); e != nil {
			return fmt.Errorf("decode output during total scan: %w", e)
		}
		if rec.IsUnspent() {
			total += rec.Value
		}
		return nil
	})
	return total, err
}

// BlockHash returns the recorded hash for height, if retained.
func (s *WalletStore) BlockHash(height uint64) (types.Hash, bool, error) {
	raw, err := s.db.Get(heightKey(prefixBlockHash, height, nil))
	if err != nil {
		return types.Hash{}, false, nil
	}
	var h types.Hash
	copy(h[:], raw)
	return h, true, nil
}

// DeleteBlockHash removes the recorded sample at height — the reorg undo
// step for a reverted block's own hash (§4.F step 3).
func (s *WalletStore) DeleteBlockHash(height uint64) error {
	return s.db.Delete(heightKey(prefixBlockHash, height, nil))
}

// SyncState is the persisted singleton row the sync engine checkpoints
// after every batch (§4.F step 6).
type SyncState struct {
	LastSyncedHeight   uint64
	LastSyncedHash     types.Hash
	TotalTxKeysSynced  uint64
	LastSyncTimeMs     int64
	ChainTipAtLastSync uint64
	LastSaveHeight     uint64
}

var syncStateKey = heightKey(prefixSyncState, 0, nil)

// GetSyncState returns the checkpoint, or ok=false if the wallet has never
// completed a batch.
func (s *WalletStore) GetSyncState() (SyncState, bool, error) {
	raw, err := s.db.Get(syncStateKey)
	if err != nil {
		return SyncState{}, false, nil
	}
	var state SyncState
	if err := json.Unmarshal(raw, &state); err != nil {
		return SyncState{}, false, fmt.Errorf("decode sync state: %w", err)
	}
	return state, true, nil
}

// SaveSyncState persists the checkpoint.
func (s *WalletStore) SaveSyncState(state SyncState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode sync state: %w", err)
	}
	return s.db.Put(syncStateKey, raw)
}

func (s *WalletStore) maybeTrimBlockHashes(latestHeight uint64) error {
	s.insertsSeenForCleanup++
	if s.insertsSeenForCleanup < BlockHashCleanupEvery {
		return nil
	}
	s.insertsSeenForCleanup = 0

	if latestHeight <= BlockHashRetention {
		return nil
	}
	cutoff := latestHeight - BlockHashRetention

	batch := s.batcher().NewBatch()
	err := s.db.ForEach(prefixBlockHash, func(key, _ []byte) error {
		height := binary.BigEndian.Uint64(key[len(prefixBlockHash):])
		if height < cutoff {
			return batch.Delete(key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan block hashes for trim: %w", err)
	}
	return batch.Commit()
}

func (s *WalletStore) putOutput(batch Batch, rec OutputRecord) error {
	if batch != nil {
		return s.putOutputOnBatch(batch, rec)
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode output %s: %w", rec.OutputHash, err)
	}
	return s.db.Put(outputKey(rec.OutputHash), raw)
}

func (s *WalletStore) putOutputOnBatch(batch Batch, rec OutputRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode output %s: %w", rec.OutputHash, err)
	}
	return batch.Put(outputKey(rec.OutputHash), raw)
}

func outputKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixOutput)+types.HashSize)
	n := copy(key, prefixOutput)
	copy(key[n:], hash[:])
	return key
}

func mempoolSpendKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixMempoolSpend)+types.HashSize)
	n := copy(key, prefixMempoolSpend)
	copy(key[n:], hash[:])
	return key
}

func sameTokenID(a, b *types.TokenID) bool {
	switch {
	case a == nil && b == nil:
		return true
	case a == nil || b == nil:
		return false
	default:
		return *a == *b
	}
}
