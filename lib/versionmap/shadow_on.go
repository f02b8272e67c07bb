//go:build invariants || race

package versionmap

import "sync/atomic"

// unsafeKeysShadow records the writes skipped by the unsafe fast path of
// MaybePut, so tests can check them against tracked writes. It rotates
// together with the active generation.
type unsafeKeysShadow struct {
	gen atomic.Pointer[Generation]
}

func newUnsafeKeysShadow() *unsafeKeysShadow {
	s := &unsafeKeysShadow{}
	s.gen.Store(newGeneration())
	return s
}

func (s *unsafeKeysShadow) put(key []byte, e Entry) {
	s.gen.Load().put(key, e)
}

func (s *unsafeKeysShadow) get(key []byte) (Entry, bool) {
	gen := s.gen.Load()
	if e, ok := gen.current.Get(key); ok {
		return e, true
	}
	return gen.old.Get(key)
}

func (s *unsafeKeysShadow) beforeRefresh() {
	s.gen.Store(s.gen.Load().buildTransition())
}

func (s *unsafeKeysShadow) afterRefresh() {
	s.gen.Store(s.gen.Load().invalidateOld())
}

func (s *unsafeKeysShadow) clear() {
	s.gen.Store(newGeneration())
}
