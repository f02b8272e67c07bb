//go:build invariants || race

package versionmap

import "github.com/cockroachdb/errors"

// Invariants is true when built with the invariants or race build tags. Broken
// invariants then panic and skipped unsafe writes are recorded in the shadow
// generation.
const Invariants = true

func assertionFailedf(format string, args ...interface{}) {
	panic(errors.AssertionFailedf(format, args...))
}
