//go:build !invariants && !race

package versionmap

// unsafeKeysShadow is compiled out of regular builds
type unsafeKeysShadow struct{}

func newUnsafeKeysShadow() *unsafeKeysShadow { return &unsafeKeysShadow{} }

func (*unsafeKeysShadow) put([]byte, Entry) {}

func (*unsafeKeysShadow) get([]byte) (Entry, bool) { return Entry{}, false }

func (*unsafeKeysShadow) beforeRefresh() {}

func (*unsafeKeysShadow) afterRefresh() {}

func (*unsafeKeysShadow) clear() {}
