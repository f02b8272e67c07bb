// Package shard implements a single-node storage shard with real-time get on
// top of the live version map.
//
// A shard consists of:
//   - An indexing buffer holding the latest unflushed operation per key
//   - The live version map (lib/versionmap) tracking versions and deletes
//     since the last refresh
//   - A searchable index: Pebble on an in-memory file system plus a
//     point-in-time snapshot that searches read from
//   - Per-key locks (lib/lockmgr) serializing writers of the same key
//
// Index and Delete write the buffer and then the version map. Refresh wraps
// the flush of the buffer into the index with BeforeRefresh/AfterRefresh, so a
// write is always visible to Get through the map, the buffer or the index:
//
//	Index/Delete --> buffer + version map --Refresh--> index (Search)
//
// Get is real-time: it consults the version map first and only falls back to
// the searchable index when the map has no entry. If writes with
// auto-generated ids skipped tracking (the map is unsafe), a miss triggers a
// synchronous refresh first.
//
// Background loops refresh on an interval or when the version map exceeds
// its RAM threshold, and prune tombstones older than the retention.
//
// Usage Example:
//
//	s, err := shard.New(common.DefaultConfig(), nil)
//	if err != nil {
//	    // handle error
//	}
//	defer s.Close()
//
//	_, _ = s.Index([]byte("doc1"), []byte("hello"), shard.IndexOptions{})
//	doc, found, _ := s.Get([]byte("doc1")) // found before any refresh
package shard
