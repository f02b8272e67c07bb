package shard

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/rtget/lib/versionmap"
	"github.com/dustin/go-humanize"
	gometrics "github.com/rcrowley/go-metrics"
)

// LatencySummary summarizes a go-metrics timer
type LatencySummary struct {
	Count int64         `json:"count"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P99   time.Duration `json:"p99"`
	Max   time.Duration `json:"max"`
}

func newLatencySummary(t gometrics.Timer) LatencySummary {
	snap := t.Snapshot()
	ps := snap.Percentiles([]float64{0.5, 0.99})
	return LatencySummary{
		Count: snap.Count(),
		Mean:  time.Duration(snap.Mean()),
		P50:   time.Duration(ps[0]),
		P99:   time.Duration(ps[1]),
		Max:   time.Duration(snap.Max()),
	}
}

// SizeSummary summarizes a go-metrics histogram of byte sizes
type SizeSummary struct {
	Count  int64   `json:"count"`
	Min    int64   `json:"min"`
	Max    int64   `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
}

func newSizeSummary(h gometrics.Histogram) SizeSummary {
	snap := h.Snapshot()
	return SizeSummary{
		Count:  snap.Count(),
		Min:    snap.Min(),
		Max:    snap.Max(),
		Mean:   snap.Mean(),
		Median: snap.Percentile(0.5),
	}
}

// Info is a point-in-time summary of a shard
type Info struct {
	ShardID          uint64           `json:"shard_id"`
	VersionMap       versionmap.Stats `json:"version_map"`
	BufferedOps      int              `json:"buffered_ops"`
	SeqNo            int64            `json:"seq_no"`
	Refreshes        int64            `json:"refreshes"`
	LastRefresh      time.Time        `json:"last_refresh"`
	ReaderGeneration int64            `json:"reader_generation"`
	IndexBytes       uint64           `json:"index_bytes"`
	RefreshLatency   LatencySummary   `json:"refresh_latency"`
	PruneLatency     LatencySummary   `json:"prune_latency"`
	ValueSizes       SizeSummary      `json:"value_sizes"`
}

// Info collects the current statistics of the shard
func (s *Shard) Info() (Info, error) {
	s.opMu.RLock()
	defer s.opMu.RUnlock()
	if s.closed.Load() {
		return Info{}, ErrClosed
	}

	info := Info{
		ShardID:          s.cfg.ShardID,
		VersionMap:       s.vmap.Stats(),
		BufferedOps:      s.buffer.Size(),
		SeqNo:            s.seqNo.Load(),
		Refreshes:        s.refreshes.Load(),
		ReaderGeneration: s.index.readerGen.Load(),
		IndexBytes:       s.index.diskBytes(),
		RefreshLatency:   newLatencySummary(s.metrics.refreshTimer),
		PruneLatency:     newLatencySummary(s.metrics.pruneTimer),
		ValueSizes:       newSizeSummary(s.metrics.valueSizes),
	}
	if ms := s.lastRefresh.Load(); ms > 0 {
		info.LastRefresh = time.UnixMilli(ms)
	}
	return info, nil
}

func (i Info) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}
	latency := func(l LatencySummary) string {
		if l.Count == 0 {
			return "n/a"
		}
		return fmt.Sprintf("%s x mean %s (p50 %s, p99 %s, max %s)",
			humanize.Comma(l.Count), l.Mean, l.P50, l.P99, l.Max)
	}

	addSection("Shard")
	addField("Shard ID", fmt.Sprintf("%d", i.ShardID))
	addField("Seq No", humanize.Comma(i.SeqNo))
	addField("Buffered Ops", humanize.Comma(int64(i.BufferedOps)))
	addField("Index Size", humanize.IBytes(i.IndexBytes))

	addSection("Refresh")
	addField("Refreshes", humanize.Comma(i.Refreshes))
	addField("Reader Generation", humanize.Comma(i.ReaderGeneration))
	if i.LastRefresh.IsZero() {
		addField("Last Refresh", "never")
	} else {
		addField("Last Refresh", humanize.Time(i.LastRefresh))
	}
	addField("Refresh Latency", latency(i.RefreshLatency))
	addField("Prune Latency", latency(i.PruneLatency))

	addSection("Values")
	if i.ValueSizes.Count == 0 {
		addField("Sizes", "n/a")
	} else {
		addField("Count", humanize.Comma(i.ValueSizes.Count))
		addField("Min / Max", fmt.Sprintf("%s / %s",
			humanize.IBytes(uint64(i.ValueSizes.Min)), humanize.IBytes(uint64(i.ValueSizes.Max))))
		addField("Mean / Median", fmt.Sprintf("%s / %s",
			humanize.IBytes(uint64(i.ValueSizes.Mean)), humanize.IBytes(uint64(i.ValueSizes.Median))))
	}

	addSection("Version Map")
	sb.WriteString(i.VersionMap.String())

	return sb.String()
}
