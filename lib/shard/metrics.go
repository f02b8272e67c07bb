package shard

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

// shardMetrics holds the metrics of one shard. Counters and gauges live in a
// VictoriaMetrics set (Prometheus text format), latency and size
// distributions in a go-metrics registry.
type shardMetrics struct {
	set      *metrics.Set
	registry gometrics.Registry

	indexOps         *metrics.Counter
	deleteOps        *metrics.Counter
	getOps           *metrics.Counter
	getFallbacks     *metrics.Counter
	searchOps        *metrics.Counter
	refreshFailures  *metrics.Counter
	prunedTombstones *metrics.Counter

	refreshTimer gometrics.Timer
	pruneTimer   gometrics.Timer
	valueSizes   gometrics.Histogram
}

func newShardMetrics(s *Shard) *shardMetrics {
	set := metrics.NewSet()
	name := func(metric string) string {
		return fmt.Sprintf(`rtget_%s{shard="%d"}`, metric, s.cfg.ShardID)
	}

	m := &shardMetrics{
		set:      set,
		registry: gometrics.NewRegistry(),
	}

	m.indexOps = set.NewCounter(name("index_ops_total"))
	m.deleteOps = set.NewCounter(name("delete_ops_total"))
	m.getOps = set.NewCounter(name("get_ops_total"))
	m.getFallbacks = set.NewCounter(name("get_refresh_fallbacks_total"))
	m.searchOps = set.NewCounter(name("search_ops_total"))
	m.refreshFailures = set.NewCounter(name("refresh_failures_total"))
	m.prunedTombstones = set.NewCounter(name("pruned_tombstones_total"))

	set.NewGauge(name("version_map_ram_bytes"), func() float64 {
		return float64(s.vmap.RAMBytesUsed())
	})
	set.NewGauge(name("version_map_refresh_ram_bytes"), func() float64 {
		return float64(s.vmap.RAMBytesUsedForRefresh())
	})
	set.NewGauge(name("version_map_entries"), func() float64 {
		return float64(s.vmap.Generation().Current().Size())
	})
	set.NewGauge(name("version_map_tombstones"), func() float64 {
		return float64(s.vmap.Stats().Tombstones)
	})
	set.NewGauge(name("indexing_buffer_ops"), func() float64 {
		return float64(s.buffer.Size())
	})
	set.NewGauge(name("refreshes"), func() float64 {
		return float64(s.refreshes.Load())
	})

	m.refreshTimer = gometrics.NewRegisteredTimer("refresh", m.registry)
	m.pruneTimer = gometrics.NewRegisteredTimer("prune", m.registry)
	m.valueSizes = gometrics.NewRegisteredHistogram("value_size", m.registry, gometrics.NewExpDecaySample(1028, 0.015))
	return m
}

// WritePrometheus writes the counters and gauges of the shard in Prometheus
// text format
func (s *Shard) WritePrometheus(w io.Writer) {
	s.metrics.set.WritePrometheus(w)
}

// WriteLatencies writes the refresh and prune timers and the value size
// histogram in the go-metrics text format
func (s *Shard) WriteLatencies(w io.Writer) {
	gometrics.WriteOnce(s.metrics.registry, w)
}
