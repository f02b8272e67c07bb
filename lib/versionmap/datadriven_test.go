package versionmap

import (
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/datadriven"
)

// TestLiveVersionMapDataDriven runs the scripts in testdata. Commands:
//
//	put key=<k> version=<n>
//	maybe-put key=<k> version=<n>
//	delete key=<k> version=<n> ts=<ms>
//	get key=<k>
//	before-refresh | after-refresh | enforce-safe-access | clear
//	prune now=<ms> interval=<ms>
//	state
func TestLiveVersionMapDataDriven(t *testing.T) {
	datadriven.Walk(t, "testdata", func(t *testing.T, path string) {
		m := New()
		datadriven.RunTest(t, path, func(t *testing.T, d *datadriven.TestData) string {
			switch d.Cmd {
			case "put", "maybe-put":
				var key string
				var version int64
				d.ScanArgs(t, "key", &key)
				d.ScanArgs(t, "version", &version)
				if d.Cmd == "put" {
					m.Put([]byte(key), live(version))
				} else {
					m.MaybePut([]byte(key), live(version))
				}
				return ""

			case "delete":
				var key string
				var version, ts int64
				d.ScanArgs(t, "key", &key)
				d.ScanArgs(t, "version", &version)
				d.ScanArgs(t, "ts", &ts)
				m.Put([]byte(key), tombstone(version, Timestamp(ts)))
				return ""

			case "get":
				var key string
				d.ScanArgs(t, "key", &key)
				e, ok := m.Get([]byte(key))
				if !ok {
					return "not found"
				}
				return e.String()

			case "before-refresh":
				m.BeforeRefresh()
				return ""

			case "after-refresh":
				m.AfterRefresh(true)
				return ""

			case "enforce-safe-access":
				m.EnforceSafeAccess()
				return ""

			case "clear":
				m.Clear()
				return ""

			case "prune":
				var now, interval int64
				d.ScanArgs(t, "now", &now)
				d.ScanArgs(t, "interval", &interval)
				n := m.PruneTombstones(noLock, Timestamp(now), time.Duration(interval)*time.Millisecond)
				return fmt.Sprintf("pruned=%d", n)

			case "state":
				s := m.Stats()
				return fmt.Sprintf("current=%d old=%d tombstones=%d unsafe=%t safe-access=%t",
					s.CurrentEntries, s.OldEntries, s.Tombstones, s.Unsafe, s.SafeAccessRequired)

			default:
				d.Fatalf(t, "unknown command: %s", d.Cmd)
				return ""
			}
		})
	})
}
