package lockmgr

import "time"

// Releaser releases an acquired lock. It must be called exactly once.
type Releaser func()

// ILockManager defines the interface for a per-key lock provider.
type ILockManager interface {
	// Acquire blocks until the lock for key is acquired.
	// Return a Releaser that unlocks the key again.
	Acquire(key []byte) Releaser

	// TryAcquire acquires the lock for key only if it is free.
	// Return a Releaser and true on success, false if the lock is held by someone else.
	TryAcquire(key []byte) (Releaser, bool)

	// AcquireTimeout waits at most timeout for the lock for key.
	// Return a Releaser and true on success, false if the timeout elapsed.
	AcquireTimeout(key []byte, timeout time.Duration) (Releaser, bool)

	// IsHeld returns true if someone currently holds the lock for key.
	// The result may be outdated as soon as it is returned.
	IsHeld(key []byte) bool
}
