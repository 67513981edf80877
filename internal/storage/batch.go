package storage

// Batch buffers a sequence of writes for atomic commit. The sync engine
// uses exactly one Batch per block (§4.C, §5): every UTXO mutation a block
// causes — new outputs, spent-marking, undo on reorg — goes through the
// same batch, so a crash mid-block never leaves the wallet's view half
// updated.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error
}

// Batcher is implemented by a DB that can produce atomic batches.
type Batcher interface {
	NewBatch() Batch
}
