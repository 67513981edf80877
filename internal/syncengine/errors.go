package syncengine

import (
	"fmt"

	"github.com/klingon-tech/lightwalletd/pkg/types"
)

// ReorgDetected is returned by RunOnce when a reorganization is found and
// Config.StopOnReorg is set, per §4.F: "the engine fails with
// ReorgDetected{height, old_hash, new_hash, blocks_to_revert}". The caller
// decides whether to retry with StopOnReorg cleared so the engine resolves
// it instead.
type ReorgDetected struct {
	Height         uint64
	OldHash        types.Hash
	NewHash        types.Hash
	BlocksToRevert uint64
}

func (e *ReorgDetected) Error() string {
	return fmt.Sprintf("syncengine: reorg detected at height %d (stored %s, chain now %s), %d block(s) to revert",
		e.Height, e.OldHash, e.NewHash, e.BlocksToRevert)
}
