package syncengine

import (
	"context"
	"time"

	"github.com/klingon-tech/lightwalletd/internal/log"
)

// BackgroundSync runs RunOnce repeatedly until ctx is canceled, per §4.F's
// "Background loop". It drives a fast path off Provider.SubscribeHeaders
// when the transport supports push notifications, falling back to a
// backup poll of max(3*pollInterval, 30s); transports that return
// fetch.ErrUnsupported are polled strictly at pollInterval instead. A
// guard flag (e.syncing) skips re-entrant cycles so a slow batch never
// overlaps the next poll or push tick.
func (e *Engine) BackgroundSync(ctx context.Context, pollInterval time.Duration, cb *Callbacks) {
	trigger := make(chan struct{}, 1)
	kick := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	subCtx, cancelSub := context.WithCancel(ctx)
	defer cancelSub()

	pushSupported := true
	err := e.cfg.Provider.SubscribeHeaders(subCtx, func(uint64, []byte) { kick() })
	if err != nil {
		pushSupported = false
		log.Sync.Debug().Err(err).Msg("provider does not support header push; polling only")
	}

	interval := pollInterval
	if pushSupported {
		interval = 3 * pollInterval
		if interval < 30*time.Second {
			interval = 30 * time.Second
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	kick() // run one cycle immediately on startup

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			kick()
		case <-trigger:
			e.runCycle(ctx, cb)
		}
	}
}

// runCycle executes one RunOnce, skipping re-entrantly if a cycle is
// already in flight.
func (e *Engine) runCycle(ctx context.Context, cb *Callbacks) {
	select {
	case e.syncing <- struct{}{}:
	default:
		return
	}
	defer func() { <-e.syncing }()

	if _, err := e.RunOnce(ctx, cb); err != nil {
		var reorg *ReorgDetected
		if !isReorgDetected(err, &reorg) {
			log.Sync.Error().Err(err).Msg("background sync cycle failed")
		}
		cb.errored(err)
	}
}

func isReorgDetected(err error, target **ReorgDetected) bool {
	if r, ok := err.(*ReorgDetected); ok {
		*target = r
		return true
	}
	return false
}
