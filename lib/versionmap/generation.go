package versionmap

import (
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Generation (current + old map of one refresh epoch)
// --------------------------------------------------------------------------

// Generation pairs the map receiving writes (current) with the map of the
// previous epoch that is being handed off to the index (old). The maps and
// flags of a generation are never replaced in place; a refresh builds a new
// Generation. Only the counters and flags behind pointers change.
type Generation struct {
	current *KeyMap
	old     *KeyMap

	// ramBytes accounts everything in current. It is shared with the
	// generation returned by invalidateOld since current stays the same.
	ramBytes *atomic.Int64
	// oldRAMBytes is the counter of the previous generation while old is being refreshed
	oldRAMBytes *atomic.Int64

	// needsSafeAccess is shared with invalidateOld for the same reason as ramBytes
	needsSafeAccess          *atomic.Bool
	previousNeededSafeAccess bool
}

func newGeneration() *Generation {
	return &Generation{
		current:         NewKeyMap(0),
		old:             emptyKeyMap,
		ramBytes:        new(atomic.Int64),
		needsSafeAccess: new(atomic.Bool),
	}
}

// Current returns the map receiving writes
func (g *Generation) Current() *KeyMap {
	return g.current
}

// Old returns the map being refreshed, an empty map outside of a refresh
func (g *Generation) Old() *KeyMap {
	return g.old
}

// RAMBytes returns the bytes accounted for the current map
func (g *Generation) RAMBytes() int64 {
	return g.ramBytes.Load()
}

// NeedsSafeAccess returns whether safe access was enforced during this epoch
func (g *Generation) NeedsSafeAccess() bool {
	return g.needsSafeAccess.Load()
}

// PreviousNeededSafeAccess returns whether safe access was inherited from the previous epoch
func (g *Generation) PreviousNeededSafeAccess() bool {
	return g.previousNeededSafeAccess
}

// isSafeAccessMode returns true if writes must be tracked
func (g *Generation) isSafeAccessMode() bool {
	return g.needsSafeAccess.Load() || g.previousNeededSafeAccess
}

func (g *Generation) isTransitioning() bool {
	return g.old != emptyKeyMap
}

// put stores e in current and accounts the RAM difference to a replaced entry
func (g *Generation) put(key []byte, e Entry) {
	delta := entryOverhead(key, e)
	if prev, ok := g.current.Put(key, e); ok {
		delta -= entryOverhead(key, prev)
	}
	g.adjustRAM(delta)
}

// removeForDelete removes key from current and old once a tombstone for it was written
func (g *Generation) removeForDelete(key []byte, tombstone Entry) {
	prev, ok := g.current.Remove(key)
	g.current.NoteDeleteTimestamp(tombstone.Timestamp())
	if ok {
		g.adjustRAM(-entryOverhead(key, prev))
	}
	// A refresh may be in flight: the doc is also removed from old so that a
	// get racing the refresh can't read the stale live entry. The old map's
	// counter is left alone, old is dropped as a whole after the refresh.
	if g.old != emptyKeyMap {
		g.old.Remove(key)
	}
}

func (g *Generation) adjustRAM(delta int64) {
	if delta == 0 {
		return
	}
	if v := g.ramBytes.Add(delta); v < 0 {
		assertionFailedf("version map ram bytes went negative: %d (delta %d)", v, delta)
	}
}

// shouldInheritSafeAccess returns true if the next generation must start in safe access mode.
// An idle generation passes the previous requirement on, one that already took the
// unsafe path does not.
func (g *Generation) shouldInheritSafeAccess() bool {
	idle := g.current.IsEmpty() && !g.current.IsUnsafe()
	return g.needsSafeAccess.Load() || (idle && g.previousNeededSafeAccess)
}

// buildTransition creates the generation used while a refresh is running:
// current becomes old and a new, presized current map takes the writes.
func (g *Generation) buildTransition() *Generation {
	return &Generation{
		current:                  NewKeyMap(g.current.Size()),
		old:                      g.current,
		ramBytes:                 new(atomic.Int64),
		oldRAMBytes:              g.ramBytes,
		needsSafeAccess:          new(atomic.Bool),
		previousNeededSafeAccess: g.shouldInheritSafeAccess(),
	}
}

// invalidateOld drops old once the refresh made its content visible. The
// needsSafeAccess flag is shared with the result, so safe access enforced
// during a refresh still holds after it.
func (g *Generation) invalidateOld() *Generation {
	return &Generation{
		current:                  g.current,
		old:                      emptyKeyMap,
		ramBytes:                 g.ramBytes,
		needsSafeAccess:          g.needsSafeAccess,
		previousNeededSafeAccess: g.previousNeededSafeAccess,
	}
}

// minDeleteTimestamp returns the smallest delete timestamp still tracked by
// this generation
func (g *Generation) minDeleteTimestamp() Timestamp {
	return min(g.current.MinDeleteTimestamp(), g.old.MinDeleteTimestamp())
}
