package ssevents

import (
	"context"
	"fmt"
	"time"
)

// ============================================================================
// Heartbeat Watchdog
// ============================================================================

// watchdog runs two timers for one connection. The interval timer performs
// a liveness check; the deadline timer fires when no server heartbeat has
// been answered for the deadline. Either failure calls onDead once.
type watchdog struct {
	interval time.Duration
	deadline time.Duration
	check    func(ctx context.Context) error
	onDead   func(cause error)
	resetCh  chan struct{}
}

func newWatchdog(interval, deadline time.Duration, check func(context.Context) error, onDead func(error)) *watchdog {
	return &watchdog{
		interval: interval,
		deadline: deadline,
		check:    check,
		onDead:   onDead,
		resetCh:  make(chan struct{}, 1),
	}
}

// Reset re-arms both timers. It never blocks the dispatch loop.
func (w *watchdog) Reset() {
	select {
	case w.resetCh <- struct{}{}:
	default:
	}
}

// Run monitors the connection until ctx is cancelled or a timer trips.
func (w *watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	deadline := time.NewTimer(w.deadline)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.resetCh:
			ticker.Reset(w.interval)
			deadline.Reset(w.deadline)
		case <-ticker.C:
			if w.check == nil {
				continue
			}
			checkCtx, cancel := context.WithTimeout(ctx, w.interval/2)
			err := w.check(checkCtx)
			cancel()
			if err != nil && ctx.Err() == nil {
				w.onDead(fmt.Errorf("heartbeat check: %w", err))
				return
			}
		case <-deadline.C:
			w.onDead(ErrHeartbeatTimeout)
			return
		}
	}
}
