// Package versionmap implements the live version map of a shard: the in-memory
// structure that gives a storage engine real-time get semantics although its
// searchable index only becomes visible in batches (refreshes).
//
// The package focuses on:
//   - Point lookups of the latest version or deletion of a key while writers
//     and a background refresh mutate the map concurrently
//   - Tombstones that outlive refreshes until they are pruned
//   - A never negative estimate of the retained memory
//   - Skipping version tracking for keys that can't collide (auto-generated
//     ids) until safe access is enforced
//
// Key Components:
//
//   - Entry: a live entry (version metadata and write-ahead log location) or a
//     tombstone (version metadata and deletion time).
//
//   - KeyMap: a concurrent key -> Entry map with an "unsafe" flag and the
//     minimum timestamp of all deletes it has seen.
//
//   - Generation: the current map receiving writes and, while a refresh is
//     running, the old map being handed off to the index. Generations are
//     replaced as a whole, never restructured in place.
//
//   - LiveVersionMap: holds the active Generation behind an atomic pointer and
//     the tombstone map that survives generation changes.
//
// Refresh lifecycle:
//
//	Stable --BeforeRefresh--> Transitioning --AfterRefresh--> Stable
//
// BeforeRefresh turns current into old and starts a fresh current map; it is
// called before the reader snapshot is taken. AfterRefresh drops old once the
// snapshot is open. A Get probes current, then old, then the tombstones; the
// first hit wins.
//
// Deletes:
//
// A delete writes its tombstone first and then removes the key from current
// and from old. Removing it from old matters: a get racing an in-flight refresh
// must not read the stale live entry, and once the tombstone is pruned that
// entry must not come back.
//
// A tombstone is pruned when it is older than the prune interval and older
// than every delete still tracked by the active generation, i.e. the delete is
// guaranteed to be visible in the index.
//
// Locking:
//
// The map does no per-key locking. Writers hold the engine's per-key lock
// (see lib/lockmgr); pruning takes it through a LockFunc and skips keys whose
// lock is contended.
//
// Build tags:
//
// With the invariants (or race) build tag broken invariants panic and writes
// skipped by the unsafe path are recorded in a shadow generation that
// GetForAssert consults. Without it, broken invariants are logged.
package versionmap
