package versionmap

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func live(version int64) Entry {
	return NewLive(VersionMetadata{Version: version, SeqNo: version, PrimaryTerm: 1}, nil)
}

func tombstone(version int64, deletedAt Timestamp) Entry {
	return NewTombstone(VersionMetadata{Version: version, SeqNo: version, PrimaryTerm: 1}, deletedAt)
}

// TestKeyMapPutGetRemove tests the basic map operations
func TestKeyMapPutGetRemove(t *testing.T) {
	m := NewKeyMap(0)
	require.True(t, m.IsEmpty())

	_, replaced := m.Put([]byte("a"), live(1))
	require.False(t, replaced)

	prev, replaced := m.Put([]byte("a"), live(2))
	require.True(t, replaced)
	require.Equal(t, int64(1), prev.Meta.Version)

	e, ok := m.Get([]byte("a"))
	require.True(t, ok)
	require.Equal(t, int64(2), e.Meta.Version)
	require.Equal(t, 1, m.Size())

	removed, ok := m.Remove([]byte("a"))
	require.True(t, ok)
	require.Equal(t, int64(2), removed.Meta.Version)

	_, ok = m.Remove([]byte("a"))
	require.False(t, ok)
	require.True(t, m.IsEmpty())
}

// TestKeyMapKeysAreByteExact tests that keys are compared byte by byte
func TestKeyMapKeysAreByteExact(t *testing.T) {
	m := NewKeyMap(4)
	m.Put([]byte("a"), live(1))
	m.Put([]byte("a\x00"), live(2))
	m.Put([]byte{0xff, 0xfe}, live(3))

	require.Equal(t, 3, m.Size())
	e, ok := m.Get([]byte("a\x00"))
	require.True(t, ok)
	require.Equal(t, int64(2), e.Meta.Version)
	_, ok = m.Get([]byte("A"))
	require.False(t, ok)
	e, ok = m.Get([]byte{0xff, 0xfe})
	require.True(t, ok)
	require.Equal(t, int64(3), e.Meta.Version)
}

// TestKeyMapUnsafeFlag tests the unsafe flag
func TestKeyMapUnsafeFlag(t *testing.T) {
	m := NewKeyMap(0)
	require.False(t, m.IsUnsafe())
	m.MarkUnsafe()
	m.MarkUnsafe()
	require.True(t, m.IsUnsafe())
	m.Clear()
	require.True(t, m.IsUnsafe(), "clear keeps the unsafe flag")
}

// TestKeyMapMinDeleteTimestamp tests that the min delete timestamp never increases
func TestKeyMapMinDeleteTimestamp(t *testing.T) {
	m := NewKeyMap(0)
	require.Equal(t, MaxTimestamp, m.MinDeleteTimestamp())

	m.NoteDeleteTimestamp(10)
	require.Equal(t, Timestamp(10), m.MinDeleteTimestamp())

	m.NoteDeleteTimestamp(20)
	require.Equal(t, Timestamp(10), m.MinDeleteTimestamp(), "must never increase")

	m.NoteDeleteTimestamp(5)
	require.Equal(t, Timestamp(5), m.MinDeleteTimestamp())
}

// TestKeyMapMinDeleteTimestampConcurrent tests the min delete timestamp under concurrent updates
func TestKeyMapMinDeleteTimestampConcurrent(t *testing.T) {
	m := NewKeyMap(0)

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		w := w
		g.Go(func() error {
			for i := 1000; i > 0; i-- {
				m.NoteDeleteTimestamp(Timestamp(i*8 + w))
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, Timestamp(8), m.MinDeleteTimestamp())
}

// TestEntryKinds tests the accessors of live entries and tombstones
func TestEntryKinds(t *testing.T) {
	l := NewLive(VersionMetadata{Version: 3}, &Location{Generation: 1, Offset: 42, Size: 10})
	require.Equal(t, KindLive, l.Kind())
	require.False(t, l.IsTombstone())
	require.Equal(t, Timestamp(0), l.Timestamp())
	require.Equal(t, int64(42), l.Location().Offset)
	require.Equal(t, LiveEntryBytes+LocationBytes, l.RAMBytes())

	d := tombstone(4, 77)
	require.Equal(t, KindTombstone, d.Kind())
	require.True(t, d.IsTombstone())
	require.Equal(t, Timestamp(77), d.Timestamp())
	require.Nil(t, d.Location())
	require.Equal(t, TombstoneEntryBytes, d.RAMBytes())
	require.Equal(t, "tombstone{v=4 seq=4 term=1 deleted_at=77}", d.String())
}
