// Package gc adapts the orchestrator's TryLock-skip-if-busy run loop into a
// periodic sweep of the module database's removal-pending set: revisions a
// refresh has disconnected from their module's wiring graph but that
// nothing has yet asked to reclaim (spec §4.7, §4.9 getRemovalPendingBundles).
package gc

import (
	"context"
	"time"

	"github.com/projecteru2/core/log"
	"github.com/projecteru2/modwire/lockset"
)

// Sweeper periodically flushes a container's removal-pending set by issuing
// a nil-initial Refresh — the same closure-from-removalPending path a
// caller-triggered refresh takes (spec §4.7: "initial = null seeds from
// database.removalPending"). It reuses gc.Orchestrator's single-flight
// discipline: a run already in flight causes the next tick to skip rather
// than queue. Refresh runs synchronously on the ticking goroutine.
type Sweeper struct {
	interval time.Duration
	lock     *lockset.LockSet
	refresh  func(ctx context.Context) error
	hasWork  func() bool
}

// NewSweeper builds a Sweeper. refresh should call container.Refresh(ctx,
// nil); hasWork should report whether GetRemovalPendingBundles() is
// non-empty, so an idle container's sweep ticks are free.
func NewSweeper(interval time.Duration, refresh func(ctx context.Context) error, hasWork func() bool) *Sweeper {
	return &Sweeper{interval: interval, lock: lockset.New(), refresh: refresh, hasWork: hasWork}
}

// Run ticks every interval until ctx is cancelled, attempting one refresh
// sweep per tick. A tick that finds no removal-pending work, or that finds
// the sweep lock already held by a prior still-running tick, is a no-op.
func (s *Sweeper) Run(ctx context.Context) {
	logger := log.WithFunc("gc.Sweeper.Run")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.hasWork != nil && !s.hasWork() {
				continue
			}
			ok, err := s.lock.TryLock(ctx, "sweep", 0)
			if err != nil || !ok {
				continue
			}
			if err := s.refresh(ctx); err != nil {
				logger.Errorf(ctx, err, "removal-pending sweep failed")
			}
			s.lock.Unlock("sweep")
		}
	}
}
