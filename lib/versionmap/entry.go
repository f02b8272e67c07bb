package versionmap

import (
	"fmt"
	"math"
)

// --------------------------------------------------------------------------
// Timestamps
// --------------------------------------------------------------------------

// Timestamp is a point in time in milliseconds on the caller's clock.
// Only differences between timestamps are interpreted by the map.
type Timestamp int64

// MaxTimestamp is larger than any real timestamp, it is the initial minimum
// delete timestamp of an empty KeyMap.
const MaxTimestamp = Timestamp(math.MaxInt64)

// --------------------------------------------------------------------------
// Version Metadata
// --------------------------------------------------------------------------

// VersionMetadata is produced by the indexing path for every write
type VersionMetadata struct {
	Version     int64 // Document version
	SeqNo       int64 // Sequence number of the operation
	PrimaryTerm int64 // Term of the primary that issued the operation
}

func (m VersionMetadata) String() string {
	return fmt.Sprintf("v=%d seq=%d term=%d", m.Version, m.SeqNo, m.PrimaryTerm)
}

// Location points to the operation in the write-ahead log
type Location struct {
	Generation int64
	Offset     int64
	Size       int32
}

// --------------------------------------------------------------------------
// Entry Type (live value or tombstone)
// --------------------------------------------------------------------------

// Kind distinguishes live entries from tombstones
type Kind uint8

const (
	KindLive Kind = iota
	KindTombstone
)

func (k Kind) String() string {
	switch k {
	case KindLive:
		return "live"
	case KindTombstone:
		return "tombstone"
	default:
		return "unknown"
	}
}

// Entry is the version state of a single key. It is either a live entry
// (NewLive) or a tombstone (NewTombstone); use Kind or IsTombstone to tell
// them apart. The zero Entry is a live entry without metadata.
type Entry struct {
	Meta VersionMetadata

	kind      Kind
	deletedAt Timestamp // tombstones only
	location  *Location // live entries only, may be nil
}

// NewLive creates a live entry. loc may be nil if the operation has no
// write-ahead log location.
func NewLive(meta VersionMetadata, loc *Location) Entry {
	return Entry{Meta: meta, kind: KindLive, location: loc}
}

// NewTombstone creates a tombstone for a delete at deletedAt
func NewTombstone(meta VersionMetadata, deletedAt Timestamp) Entry {
	return Entry{Meta: meta, kind: KindTombstone, deletedAt: deletedAt}
}

// Kind returns whether the entry is live or a tombstone
func (e Entry) Kind() Kind {
	return e.kind
}

// IsTombstone returns true for deletion records
func (e Entry) IsTombstone() bool {
	return e.kind == KindTombstone
}

// Timestamp returns the deletion time of a tombstone and 0 for live entries
func (e Entry) Timestamp() Timestamp {
	if e.kind == KindTombstone {
		return e.deletedAt
	}
	return 0
}

// Location returns the write-ahead log location of a live entry (nil for tombstones)
func (e Entry) Location() *Location {
	return e.location
}

// RAMBytes returns the approximate heap size of the entry itself (without key and map overhead)
func (e Entry) RAMBytes() int64 {
	switch e.kind {
	case KindTombstone:
		return TombstoneEntryBytes
	default:
		if e.location != nil {
			return LiveEntryBytes + LocationBytes
		}
		return LiveEntryBytes
	}
}

func (e Entry) String() string {
	if e.kind == KindTombstone {
		return fmt.Sprintf("tombstone{%s deleted_at=%d}", e.Meta, e.deletedAt)
	}
	return fmt.Sprintf("live{%s}", e.Meta)
}
