package versionmap

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/rtget/lib/lockmgr"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// TestLiveVersionMapConcurrent runs writers, readers, a refresh driver and a
// pruner at the same time. Readers must never observe a live version going
// back and the RAM counters must match a recount once everything stopped.
func TestLiveVersionMapConcurrent(t *testing.T) {
	const (
		writers  = 4
		readers  = 4
		keys     = 32
		opsPerWr = 2000
	)

	m := New()
	locks := lockmgr.NewLockManager()
	lock := func(key []byte) (func(), bool) {
		return locks.TryAcquire(key)
	}
	var clock atomic.Int64

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bg, bgCtx := errgroup.WithContext(ctx)
	bg.Go(func() error {
		for bgCtx.Err() == nil {
			m.BeforeRefresh()
			time.Sleep(50 * time.Microsecond)
			m.AfterRefresh(true)
		}
		return nil
	})
	bg.Go(func() error {
		for bgCtx.Err() == nil {
			m.PruneTombstones(lock, Timestamp(clock.Load()), time.Millisecond)
			time.Sleep(100 * time.Microsecond)
		}
		return nil
	})
	for r := 0; r < readers; r++ {
		bg.Go(func() error {
			seen := make(map[string]int64)
			for bgCtx.Err() == nil {
				for k := 0; k < keys*writers; k++ {
					key := fmt.Sprintf("w%d-k%d", k%writers, k/writers)
					e, ok := m.Get([]byte(key))
					if !ok || e.IsTombstone() {
						continue
					}
					if e.Meta.Version < seen[key] {
						return fmt.Errorf("version of %s went back from %d to %d", key, seen[key], e.Meta.Version)
					}
					seen[key] = e.Meta.Version
				}
			}
			return nil
		})
	}

	var wg errgroup.Group
	for w := 0; w < writers; w++ {
		w := w
		wg.Go(func() error {
			versions := make([]int64, keys)
			for i := 0; i < opsPerWr; i++ {
				k := i % keys
				key := []byte(fmt.Sprintf("w%d-k%d", w, k))
				versions[k]++

				release := locks.Acquire(key)
				deleted := i%5 == 0
				if deleted {
					m.Put(key, tombstone(versions[k], Timestamp(clock.Add(1))))
				} else {
					m.Put(key, live(versions[k]))
				}
				e, ok := m.Get(key)
				release()

				// a live entry may already be handed off by a refresh, a
				// tombstone stays until it is pruned under the lock
				if (!ok && deleted) || (ok && e.Meta.Version != versions[k]) {
					return fmt.Errorf("write of %s v%d not visible (found=%t, got %s)", key, versions[k], ok, e)
				}
			}
			return nil
		})
	}

	require.NoError(t, wg.Wait())
	cancel()
	require.NoError(t, bg.Wait())

	require.False(t, m.Generation().isTransitioning())
	var current, tombstones int64
	for k, e := range m.SnapshotCurrent() {
		current += entryOverhead([]byte(k), e)
	}
	for k, e := range m.SnapshotTombstones() {
		tombstones += entryOverhead([]byte(k), e)
	}
	require.Equal(t, current, m.RAMBytesUsedForRefresh())
	require.Equal(t, current+tombstones, m.RAMBytesUsed())
}
