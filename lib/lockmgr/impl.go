package lockmgr

import (
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var plog = logger.GetLogger("lockmgr")

// keyLock is a binary semaphore plus the number of goroutines holding or
// waiting for it. refs is only modified inside xsync Compute calls.
type keyLock struct {
	sem  chan struct{}
	refs int
}

type lockMgrImpl struct {
	locks *xsync.MapOf[string, *keyLock]
}

// NewLockManager creates an in-process lock manager
func NewLockManager() ILockManager {
	return &lockMgrImpl{
		locks: xsync.NewMapOf[string, *keyLock](),
	}
}

// ref registers interest in the lock for key, creating it if needed
func (lm *lockMgrImpl) ref(key string) *keyLock {
	l, _ := lm.locks.Compute(key, func(l *keyLock, loaded bool) (*keyLock, bool) {
		if !loaded {
			l = &keyLock{sem: make(chan struct{}, 1)}
		}
		l.refs++
		return l, false
	})
	return l
}

// unref drops interest in the lock for key; the last one removes it
func (lm *lockMgrImpl) unref(key string) {
	lm.locks.Compute(key, func(l *keyLock, loaded bool) (*keyLock, bool) {
		if !loaded {
			plog.Errorf("lock for key %q released but not registered", key)
			return nil, true
		}
		l.refs--
		return l, l.refs <= 0
	})
}

func (lm *lockMgrImpl) releaser(key string, l *keyLock) Releaser {
	return func() {
		<-l.sem
		lm.unref(key)
	}
}

func (lm *lockMgrImpl) Acquire(key []byte) Releaser {
	k := string(key)
	l := lm.ref(k)
	l.sem <- struct{}{}
	return lm.releaser(k, l)
}

func (lm *lockMgrImpl) TryAcquire(key []byte) (Releaser, bool) {
	k := string(key)
	l := lm.ref(k)
	select {
	case l.sem <- struct{}{}:
		return lm.releaser(k, l), true
	default:
		lm.unref(k)
		return nil, false
	}
}

func (lm *lockMgrImpl) AcquireTimeout(key []byte, timeout time.Duration) (Releaser, bool) {
	if timeout <= 0 {
		return lm.TryAcquire(key)
	}
	k := string(key)
	l := lm.ref(k)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case l.sem <- struct{}{}:
		return lm.releaser(k, l), true
	case <-timer.C:
		lm.unref(k)
		plog.Debugf("lock for key %q not acquired within %s", key, timeout)
		return nil, false
	}
}

func (lm *lockMgrImpl) IsHeld(key []byte) bool {
	l, ok := lm.locks.Load(string(key))
	return ok && len(l.sem) > 0
}

// size returns the number of keys with holders or waiters
func (lm *lockMgrImpl) size() int {
	return lm.locks.Size()
}
