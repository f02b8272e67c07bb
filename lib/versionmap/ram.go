package versionmap

import "unsafe"

// --------------------------------------------------------------------------
// RAM estimation constants
// --------------------------------------------------------------------------

// The estimates are calibrated once for the Go runtime with unsafe.Sizeof and
// are treated as fixed configuration. They are approximate by nature; the map
// only needs them to be stable so that every added byte is removed again.
const (
	// BaseEntryOverheadBytes is the overhead of one slot in the concurrent map
	// (entry node with key, value and hash bookkeeping).
	BaseEntryOverheadBytes = int64(unsafe.Sizeof(uintptr(0))*2 + unsafe.Sizeof(uint64(0)))

	// BaseKeyOverheadBytes is the string header that holds the key bytes
	BaseKeyOverheadBytes = int64(unsafe.Sizeof(""))

	// LiveEntryBytes is the size of an Entry value stored for a write
	LiveEntryBytes = int64(unsafe.Sizeof(Entry{}))

	// TombstoneEntryBytes is the size of an Entry value stored for a delete
	TombstoneEntryBytes = int64(unsafe.Sizeof(Entry{}))

	// LocationBytes is the size of the write-ahead log location referenced by a live entry
	LocationBytes = int64(unsafe.Sizeof(Location{}))
)

// keyOverhead is the memory used to keep the key itself
func keyOverhead(key []byte) int64 {
	return BaseKeyOverheadBytes + int64(len(key))
}

// entryOverhead is the total accounted size of key plus entry inside a map
func entryOverhead(key []byte, e Entry) int64 {
	return BaseEntryOverheadBytes + keyOverhead(key) + e.RAMBytes()
}
