package versionmap

import (
	"fmt"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/stretchr/testify/require"
)

// recordingLogger keeps the error messages logged through plog
type recordingLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *recordingLogger) SetLevel(logger.LogLevel) {}

func (l *recordingLogger) Debugf(string, ...interface{}) {}

func (l *recordingLogger) Infof(string, ...interface{}) {}

func (l *recordingLogger) Warningf(string, ...interface{}) {}

func (l *recordingLogger) Errorf(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, fmt.Sprintf(format, args...))
}

func (l *recordingLogger) Panicf(format string, args ...interface{}) {
	panic(fmt.Sprintf(format, args...))
}

func (l *recordingLogger) messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.errors...)
}

// captureLogs replaces the package logger until the test ends
func captureLogs(t *testing.T) *recordingLogger {
	t.Helper()
	rec := &recordingLogger{}
	prev := plog
	plog = rec
	t.Cleanup(func() { plog = prev })
	return rec
}

// recoverPanic runs fn and returns the value it panicked with, if any
func recoverPanic(fn func()) (r interface{}) {
	defer func() {
		r = recover()
	}()
	fn()
	return nil
}

// TestAssertions tests every checked invariant. Built with the invariants or
// race tag a broken invariant panics with an assertion failure, otherwise it
// is logged and the operation continues.
func TestAssertions(t *testing.T) {
	tests := []struct {
		name    string
		message string
		setup   func(m *LiveVersionMap)
		op      func(m *LiveVersionMap)
		check   func(t *testing.T, m *LiveVersionMap)
	}{
		{
			name:    "before refresh while refreshing",
			message: "before refresh called while a refresh is in flight",
			setup: func(m *LiveVersionMap) {
				m.Put([]byte("a"), live(1))
				m.BeforeRefresh()
			},
			op: func(m *LiveVersionMap) { m.BeforeRefresh() },
			check: func(t *testing.T, m *LiveVersionMap) {
				require.True(t, m.Stats().Refreshing)
				m.AfterRefresh(true)
				require.False(t, m.Stats().Refreshing)
			},
		},
		{
			name:    "after refresh without before refresh",
			message: "after refresh called without before refresh",
			setup: func(m *LiveVersionMap) {
				m.Put([]byte("a"), live(1))
			},
			op: func(m *LiveVersionMap) { m.AfterRefresh(true) },
			check: func(t *testing.T, m *LiveVersionMap) {
				require.False(t, m.Stats().Refreshing)
				requireVersion(t, m, "a", 1)
			},
		},
		{
			name:    "clear while refreshing",
			message: "clear called while a refresh is in flight (1 entries in old map)",
			setup: func(m *LiveVersionMap) {
				m.Put([]byte("a"), live(1))
				m.BeforeRefresh()
			},
			op: func(m *LiveVersionMap) { m.Clear() },
			check: func(t *testing.T, m *LiveVersionMap) {
				s := m.Stats()
				require.Equal(t, 0, s.CurrentEntries)
				require.Equal(t, 0, s.OldEntries)
				require.False(t, s.Refreshing)
				requireMissing(t, m, "a")
			},
		},
		{
			name:    "put tombstone with a live entry",
			message: `put tombstone called with a live entry for key "a"`,
			op:      func(m *LiveVersionMap) { m.PutTombstone([]byte("a"), live(1)) },
			check: func(t *testing.T, m *LiveVersionMap) {
				require.Equal(t, 0, m.Stats().Tombstones)
				require.Equal(t, int64(0), m.RAMBytesUsed())
			},
		},
		{
			name:    "negative generation ram",
			message: "version map ram bytes went negative: -10 (delta -10)",
			op:      func(m *LiveVersionMap) { m.Generation().adjustRAM(-10) },
			check: func(t *testing.T, m *LiveVersionMap) {
				require.Equal(t, int64(-10), m.RAMBytesUsedForRefresh())
			},
		},
		{
			name:    "negative tombstone ram",
			message: "tombstone ram bytes went negative: -10 (delta -10)",
			op:      func(m *LiveVersionMap) { m.adjustTombstoneRAM(-10) },
			check: func(t *testing.T, m *LiveVersionMap) {
				require.Equal(t, int64(-10), m.Stats().TombstoneRAMBytes)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			if tt.setup != nil {
				tt.setup(m)
			}

			if Invariants {
				r := recoverPanic(func() { tt.op(m) })
				require.NotNil(t, r, "expected a panic")
				err, ok := r.(error)
				require.True(t, ok, "expected an error, got %v", r)
				require.True(t, errors.HasAssertionFailure(err))
				require.Contains(t, err.Error(), tt.message)
				return
			}

			rec := captureLogs(t)
			tt.op(m)
			logged := rec.messages()
			require.Len(t, logged, 1)
			require.Contains(t, logged[0], tt.message)
			tt.check(t, m)
		})
	}
}
