//go:build !invariants && !race

package versionmap

import "github.com/cockroachdb/errors"

// Invariants is true when built with the invariants or race build tags. Broken
// invariants then panic and skipped unsafe writes are recorded in the shadow
// generation.
const Invariants = false

// assertionFailedf logs a broken invariant; the operation continues and RAM
// accounting may become approximate.
func assertionFailedf(format string, args ...interface{}) {
	plog.Errorf("%v", errors.AssertionFailedf(format, args...))
}
