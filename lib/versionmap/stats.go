package versionmap

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// Stats is a point-in-time summary of a LiveVersionMap
type Stats struct {
	CurrentEntries     int       `json:"current_entries"`
	OldEntries         int       `json:"old_entries"`
	Tombstones         int       `json:"tombstones"`
	RAMBytes           int64     `json:"ram_bytes"`
	RAMBytesForRefresh int64     `json:"ram_bytes_for_refresh"`
	RefreshingBytes    int64     `json:"refreshing_bytes"`
	TombstoneRAMBytes  int64     `json:"tombstone_ram_bytes"`
	Refreshing         bool      `json:"refreshing"`
	Unsafe             bool      `json:"unsafe"`
	SafeAccessRequired bool      `json:"safe_access_required"`
	MinDeleteTimestamp Timestamp `json:"min_delete_timestamp"`
}

// Stats collects the current statistics. The values are read one after the
// other and may be slightly inconsistent under concurrent writes.
func (m *LiveVersionMap) Stats() Stats {
	gen := m.gen.Load()
	s := Stats{
		CurrentEntries:     gen.current.Size(),
		OldEntries:         gen.old.Size(),
		Tombstones:         m.tombstones.Size(),
		RAMBytesForRefresh: gen.RAMBytes(),
		TombstoneRAMBytes:  m.tombstoneRAMBytes.Load(),
		Refreshing:         gen.isTransitioning(),
		Unsafe:             gen.current.IsUnsafe() || gen.old.IsUnsafe(),
		SafeAccessRequired: gen.isSafeAccessMode(),
		MinDeleteTimestamp: gen.minDeleteTimestamp(),
	}
	if gen.oldRAMBytes != nil {
		s.RefreshingBytes = gen.oldRAMBytes.Load()
	}
	s.RAMBytes = s.RAMBytesForRefresh + s.TombstoneRAMBytes
	return s
}

func (s Stats) String() string {
	var sb strings.Builder
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	bytes := func(b int64) string {
		if b < 0 {
			return fmt.Sprintf("-%s", humanize.IBytes(uint64(-b)))
		}
		return humanize.IBytes(uint64(b))
	}

	addField("Current Entries", humanize.Comma(int64(s.CurrentEntries)))
	addField("Old Entries", humanize.Comma(int64(s.OldEntries)))
	addField("Tombstones", humanize.Comma(int64(s.Tombstones)))
	addField("RAM", bytes(s.RAMBytes))
	addField("RAM For Refresh", bytes(s.RAMBytesForRefresh))
	addField("Refreshing", fmt.Sprintf("%t (%s)", s.Refreshing, bytes(s.RefreshingBytes)))
	addField("Tombstone RAM", bytes(s.TombstoneRAMBytes))
	addField("Unsafe", fmt.Sprintf("%t", s.Unsafe))
	addField("Safe Access Required", fmt.Sprintf("%t", s.SafeAccessRequired))
	if s.MinDeleteTimestamp == MaxTimestamp {
		addField("Min Delete Timestamp", "none")
	} else {
		addField("Min Delete Timestamp", fmt.Sprintf("%d", s.MinDeleteTimestamp))
	}
	return sb.String()
}
