package versionmap

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// KeyMap (key -> Entry)
// --------------------------------------------------------------------------

// KeyMap maps document keys to their version entry. It is safe for concurrent
// use but does not serialize writers of the same key; callers hold the per-key
// lock for writes. Besides the entries it tracks whether a write skipped
// tracking (unsafe) and the minimum timestamp of all deletes seen.
type KeyMap struct {
	data               *xsync.MapOf[string, Entry]
	unsafe             atomic.Bool
	minDeleteTimestamp atomic.Int64
}

// emptyKeyMap is the shared, never written "old" map of a stable generation
var emptyKeyMap = NewKeyMap(0)

// NewKeyMap creates an empty map. sizeHint presizes the map (0 = default size).
func NewKeyMap(sizeHint int) *KeyMap {
	var data *xsync.MapOf[string, Entry]
	if sizeHint > 0 {
		data = xsync.NewMapOf[string, Entry](xsync.WithPresize(sizeHint))
	} else {
		data = xsync.NewMapOf[string, Entry]()
	}
	m := &KeyMap{data: data}
	m.minDeleteTimestamp.Store(int64(MaxTimestamp))
	return m
}

// Get returns the entry for key
func (m *KeyMap) Get(key []byte) (Entry, bool) {
	return m.data.Load(string(key))
}

// Put stores e for key and returns the entry it replaced, if any
func (m *KeyMap) Put(key []byte, e Entry) (Entry, bool) {
	return m.data.LoadAndStore(string(key), e)
}

// Remove deletes key and returns the removed entry, if any
func (m *KeyMap) Remove(key []byte) (Entry, bool) {
	return m.data.LoadAndDelete(string(key))
}

// IsEmpty returns true if the map holds no entries
func (m *KeyMap) IsEmpty() bool {
	return m.data.Size() == 0
}

// Size returns the number of entries
func (m *KeyMap) Size() int {
	return m.data.Size()
}

// MarkUnsafe records that a write bypassed version tracking
func (m *KeyMap) MarkUnsafe() {
	m.unsafe.Store(true)
}

// IsUnsafe returns whether any write bypassed version tracking
func (m *KeyMap) IsUnsafe() bool {
	return m.unsafe.Load()
}

// NoteDeleteTimestamp lowers the minimum delete timestamp to ts.
// The value never increases.
func (m *KeyMap) NoteDeleteTimestamp(ts Timestamp) {
	for {
		curr := m.minDeleteTimestamp.Load()
		if int64(ts) >= curr {
			return
		}
		if m.minDeleteTimestamp.CompareAndSwap(curr, int64(ts)) {
			return
		}
	}
}

// MinDeleteTimestamp returns the minimum timestamp of all deletes noted, or
// MaxTimestamp if there were none
func (m *KeyMap) MinDeleteTimestamp() Timestamp {
	return Timestamp(m.minDeleteTimestamp.Load())
}

// Range calls fn for every entry until fn returns false. Entries written
// concurrently may or may not be visited.
func (m *KeyMap) Range(fn func(key string, e Entry) bool) {
	m.data.Range(fn)
}

// Clear removes all entries. The unsafe flag and the delete timestamp are kept.
func (m *KeyMap) Clear() {
	m.data.Clear()
}
