package versionmap

import (
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lni/dragonboat/v4/logger"
)

var plog = logger.GetLogger("versionmap")

// LockFunc acquires the per-key lock of the surrounding engine. It returns
// ok=false if the lock could not be acquired (e.g. because it is contended);
// otherwise release must be called once the critical section ends.
type LockFunc func(key []byte) (release func(), ok bool)

// --------------------------------------------------------------------------
// Core LiveVersionMap structure
// --------------------------------------------------------------------------

// LiveVersionMap tracks the latest version of every document written since
// the last refresh of the searchable index, plus the tombstones of recent
// deletes. It is the source of truth for real-time gets until a refresh has
// made a write visible to searches.
//
// Writers (Put, MaybePut, PutTombstone, RemoveTombstone) must hold the
// per-key lock of the engine. Get may be called at any time. BeforeRefresh and
// AfterRefresh are called by a single refresh driver in strict alternation.
type LiveVersionMap struct {
	gen atomic.Pointer[Generation]

	// tombstones survive generation changes and are only removed by pruning
	tombstones        *KeyMap
	tombstoneRAMBytes atomic.Int64

	// only recorded in invariants builds
	shadow *unsafeKeysShadow

	clearMu sync.Mutex
}

// New creates an empty LiveVersionMap
func New() *LiveVersionMap {
	m := &LiveVersionMap{
		tombstones: NewKeyMap(0),
		shadow:     newUnsafeKeysShadow(),
	}
	m.gen.Store(newGeneration())
	return m
}

// Generation returns the active generation
func (m *LiveVersionMap) Generation() *Generation {
	return m.gen.Load()
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

// Get returns the authoritative entry for key: the current map wins over the
// old map, which wins over the tombstones.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (m *LiveVersionMap) Get(key []byte) (Entry, bool) {
	gen := m.gen.Load()
	if e, ok := gen.current.Get(key); ok {
		return e, true
	}
	if e, ok := gen.old.Get(key); ok {
		return e, true
	}
	return m.tombstones.Get(key)
}

// GetForAssert is Get that also consults the writes skipped by the unsafe
// path. Those are only recorded in invariants builds, elsewhere it equals Get.
func (m *LiveVersionMap) GetForAssert(key []byte) (Entry, bool) {
	if e, ok := m.Get(key); ok {
		return e, true
	}
	return m.shadow.get(key)
}

// IsUnsafe returns true if a write skipped version tracking in the current or
// old map. A get that misses the map must then consult a fresh reader.
func (m *LiveVersionMap) IsUnsafe() bool {
	gen := m.gen.Load()
	return gen.current.IsUnsafe() || gen.old.IsUnsafe()
}

// IsSafeAccessRequired returns true if every write has to be tracked
func (m *LiveVersionMap) IsSafeAccessRequired() bool {
	return m.gen.Load().isSafeAccessMode()
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

// EnforceSafeAccess switches the current generation, and through inheritance
// the following idle ones, to tracked writes. It never downgrades.
func (m *LiveVersionMap) EnforceSafeAccess() {
	m.gen.Load().needsSafeAccess.Store(true)
}

// MaybePut tracks e like Put when safe access is required. Otherwise the key
// is guaranteed by the caller to be new (e.g. an auto-generated id) and the
// write is not tracked; the current map is only marked unsafe.
//
// Thread-safety: the caller must hold the lock for key.
func (m *LiveVersionMap) MaybePut(key []byte, e Entry) {
	gen := m.gen.Load()
	if e.IsTombstone() || gen.isSafeAccessMode() {
		m.Put(key, e)
		return
	}
	// a stale tombstone of the key must not shadow the untracked write
	m.RemoveTombstone(key)
	gen.current.MarkUnsafe()
	m.shadow.put(key, e)
}

// Put tracks e for key. A live entry replaces any tombstone of the key; a
// tombstone is added to the tombstones and removes the key from the current
// and old map.
//
// Thread-safety: the caller must hold the lock for key.
func (m *LiveVersionMap) Put(key []byte, e Entry) {
	if e.IsTombstone() {
		// the tombstone goes in first so that a concurrent get never misses both
		m.PutTombstone(key, e)
		m.gen.Load().removeForDelete(key, e)
		return
	}
	m.gen.Load().put(key, e)
	m.RemoveTombstone(key)
}

// PutTombstone adds the tombstone e for key
//
// Thread-safety: the caller must hold the lock for key.
func (m *LiveVersionMap) PutTombstone(key []byte, e Entry) {
	if !e.IsTombstone() {
		assertionFailedf("put tombstone called with a %s entry for key %q", e.Kind(), key)
		return
	}
	delta := entryOverhead(key, e)
	if prev, ok := m.tombstones.Put(key, e); ok {
		delta -= entryOverhead(key, prev)
	}
	m.adjustTombstoneRAM(delta)
}

// RemoveTombstone removes the tombstone of key, if any
//
// Thread-safety: the caller must hold the lock for key.
func (m *LiveVersionMap) RemoveTombstone(key []byte) {
	if prev, ok := m.tombstones.Remove(key); ok {
		m.adjustTombstoneRAM(-entryOverhead(key, prev))
	}
}

func (m *LiveVersionMap) adjustTombstoneRAM(delta int64) {
	if delta == 0 {
		return
	}
	if v := m.tombstoneRAMBytes.Add(delta); v < 0 {
		assertionFailedf("tombstone ram bytes went negative: %d (delta %d)", v, delta)
	}
}

// --------------------------------------------------------------------------
// Tombstone pruning
// --------------------------------------------------------------------------

// PruneTombstones removes every tombstone that was deleted more than interval
// before now and is older than all deletes still tracked by the active
// generation. Tombstones whose lock can't be acquired are skipped until the
// next pass. It returns the number of removed tombstones.
func (m *LiveVersionMap) PruneTombstones(lock LockFunc, now Timestamp, interval time.Duration) int {
	maxAge := interval.Milliseconds()
	return m.prune(lock, func(e Entry) bool {
		return int64(now-e.Timestamp()) > maxAge && m.notTrackedByGeneration(e)
	})
}

// PruneTombstonesBelow removes every tombstone deleted before maxTimestamp
// with a sequence number of at most maxSeqNo, unless the active generation
// still tracks deletes that old.
func (m *LiveVersionMap) PruneTombstonesBelow(lock LockFunc, maxTimestamp Timestamp, maxSeqNo int64) int {
	return m.prune(lock, func(e Entry) bool {
		return e.Timestamp() < maxTimestamp && e.Meta.SeqNo <= maxSeqNo && m.notTrackedByGeneration(e)
	})
}

// notTrackedByGeneration is false while a delete as old as e may still be
// missing from the index (it is part of the current or old map).
func (m *LiveVersionMap) notTrackedByGeneration(e Entry) bool {
	return e.Timestamp() < m.gen.Load().minDeleteTimestamp()
}

func (m *LiveVersionMap) prune(lock LockFunc, canRemove func(Entry) bool) int {
	// Candidates are checked before locking so that tombstones that can't go
	// anyway don't contend with writers.
	var candidates []string
	m.tombstones.Range(func(key string, e Entry) bool {
		if canRemove(e) {
			candidates = append(candidates, key)
		}
		return true
	})

	pruned := 0
	for _, k := range candidates {
		if m.pruneKey([]byte(k), lock, canRemove) {
			pruned++
		}
	}
	if pruned > 0 {
		plog.Debugf("pruned %d of %d tombstone candidates", pruned, len(candidates))
	}
	return pruned
}

func (m *LiveVersionMap) pruneKey(key []byte, lock LockFunc, canRemove func(Entry) bool) bool {
	release, ok := lock(key)
	if !ok {
		return false
	}
	defer release()

	// re-read, the key may have been written since the snapshot
	e, found := m.tombstones.Get(key)
	if !found || !e.IsTombstone() || !canRemove(e) {
		return false
	}
	m.RemoveTombstone(key)
	return true
}

// --------------------------------------------------------------------------
// Refresh lifecycle
// --------------------------------------------------------------------------

// BeforeRefresh moves the current map to old and starts a new current map.
// It must be called before the reader snapshot of the refresh is taken.
func (m *LiveVersionMap) BeforeRefresh() {
	gen := m.gen.Load()
	if gen.isTransitioning() {
		assertionFailedf("before refresh called while a refresh is in flight")
	}
	m.gen.Store(gen.buildTransition())
	m.shadow.beforeRefresh()
}

// AfterRefresh drops the old map. Whether or not a new reader was opened
// (didRefresh), every write in old is now visible in the latest reader or
// still present in current.
func (m *LiveVersionMap) AfterRefresh(didRefresh bool) {
	gen := m.gen.Load()
	if !gen.isTransitioning() {
		assertionFailedf("after refresh called without before refresh")
	}
	m.gen.Store(gen.invalidateOld())
	m.shadow.afterRefresh()
	plog.Debugf("refresh done (refreshed=%t), %d entries in current map", didRefresh, gen.current.Size())
}

// Clear resets the map when the shard is closed. Callers guarantee that no
// writes or refreshes run concurrently. The tombstone byte counter is not
// reset since a prune pass may still be finishing.
func (m *LiveVersionMap) Clear() {
	m.clearMu.Lock()
	defer m.clearMu.Unlock()

	if gen := m.gen.Load(); !gen.old.IsEmpty() {
		assertionFailedf("clear called while a refresh is in flight (%d entries in old map)", gen.old.Size())
	}
	m.gen.Store(newGeneration())
	m.tombstones.Clear()
	m.shadow.clear()
}

// --------------------------------------------------------------------------
// RAM accounting and snapshots
// --------------------------------------------------------------------------

// RAMBytesUsed returns the bytes retained by the current map and the tombstones
func (m *LiveVersionMap) RAMBytesUsed() int64 {
	return m.gen.Load().RAMBytes() + m.tombstoneRAMBytes.Load()
}

// RAMBytesUsedForRefresh returns the bytes a refresh would free. Tombstones
// are not included as they outlive refreshes.
func (m *LiveVersionMap) RAMBytesUsedForRefresh() int64 {
	return m.gen.Load().RAMBytes()
}

// RefreshingBytes returns the bytes of the map currently being refreshed
func (m *LiveVersionMap) RefreshingBytes() int64 {
	if c := m.gen.Load().oldRAMBytes; c != nil {
		return c.Load()
	}
	return 0
}

// SnapshotCurrent returns a point-in-time copy of the current map
func (m *LiveVersionMap) SnapshotCurrent() map[string]Entry {
	current := m.gen.Load().current
	out := make(map[string]Entry, current.Size())
	current.Range(func(key string, e Entry) bool {
		out[key] = e
		return true
	})
	return out
}

// SnapshotTombstones iterates over the tombstones
func (m *LiveVersionMap) SnapshotTombstones() iter.Seq2[string, Entry] {
	return func(yield func(string, Entry) bool) {
		m.tombstones.Range(yield)
	}
}
