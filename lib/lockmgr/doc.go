// Package lockmgr implements the per-key locks that serialize writers of the
// same document inside one shard.
//
// Every write to the live version map (index, delete, prune) holds the lock
// of its key. Different keys never contend.
//
// Core Functionality:
//   - Blocking acquisition (Acquire)
//   - Non-blocking acquisition (TryAcquire), used by tombstone pruning which
//     skips keys whose lock is contended
//   - Acquisition with a timeout (AcquireTimeout)
//
// Implementation Approach:
//
//	Each key maps to a binary semaphore (a channel with capacity one) in a
//	concurrent xsync map. The entry also counts the goroutines holding or
//	waiting for it. The count is only changed within the map's atomic
//	Compute, so the entry is deleted exactly when the last holder or waiter
//	leaves and the map only contains keys that are in use.
//
// Locks are not re-entrant: acquiring a lock that the same goroutine already
// holds deadlocks (Acquire) or fails (TryAcquire).
//
// Usage Example:
//
//	locks := lockmgr.NewLockManager()
//
//	release := locks.Acquire([]byte("doc:123"))
//	defer release()
//	// modify the document
package lockmgr
