package shard

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// --------------------------------------------------------------------------
// Background loops (scheduled refresh + tombstone pruning)
// --------------------------------------------------------------------------

// startLoops starts the refresh loop and, if enabled, the prune loop.
// The loops run until Close cancels them.
func (s *Shard) startLoops() {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	s.stopLoops = cancel
	s.loops = g

	g.Go(func() error {
		return s.refreshLoop(ctx)
	})
	if s.cfg.PruneInterval > 0 {
		g.Go(func() error {
			return s.pruneLoop(ctx)
		})
	}
}

// maybeTriggerRefresh requests an early refresh once the version map holds
// more refreshable bytes than the threshold. Requests coalesce while one is
// pending.
func (s *Shard) maybeTriggerRefresh() {
	threshold := s.cfg.RefreshRAMThreshold
	if threshold <= 0 || s.vmap.RAMBytesUsedForRefresh() <= threshold {
		return
	}
	select {
	case s.refreshCh <- struct{}{}:
	default:
	}
}

// refreshLoop refreshes on every tick of the refresh interval and whenever
// the RAM threshold is exceeded.
//
// WARNING: this method should never be called directly! It is started by startLoops.
func (s *Shard) refreshLoop(ctx context.Context) error {
	var tick <-chan time.Time
	if s.cfg.RefreshInterval > 0 {
		ticker := time.NewTicker(s.cfg.RefreshInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
		case <-s.refreshCh:
			plog.Debugf("shard %d: version map above %d bytes, refreshing early", s.cfg.ShardID, s.cfg.RefreshRAMThreshold)
		}

		if err := s.Refresh(ctx); err != nil {
			if errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			plog.Warningf("shard %d: scheduled refresh failed: %v", s.cfg.ShardID, err)
		}
	}
}

// pruneLoop removes expired tombstones on every tick of the prune interval.
//
// WARNING: this method should never be called directly! It is started by startLoops.
func (s *Shard) pruneLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		pruned, err := s.PruneTombstones()
		if errors.Is(err, ErrClosed) {
			return nil
		}
		if pruned > 0 {
			plog.Debugf("shard %d: pruned %d tombstones", s.cfg.ShardID, pruned)
		}
	}
}
