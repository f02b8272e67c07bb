package perf

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/rtget/cmd/util"
	"github.com/ValentinKolb/rtget/lib/common"
	"github.com/ValentinKolb/rtget/lib/shard"
	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var plog = logger.GetLogger("cmd")

var (
	// PerfCmd benchmarks the operations of an in-process shard
	PerfCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for rtget shards",
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfConfig     common.Config
	perfKeyPrefix  = "__test"
	perfValueSize  = 1024
	perfNumThreads = 10
	perfKeySpread  = 1000
	perfRounds     = 1
	perfSkip       = make([]string, 0)
)

func init() {
	util.SetupShardFlags(PerfCmd)

	key := "skip"
	PerfCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. index,get-realtime)"))
	key = "threads"
	PerfCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "value-size"
	PerfCmd.Flags().String(key, "1KiB", util.WrapString("Size of the indexed values"))
	key = "keys"
	PerfCmd.Flags().Int(key, 1000, util.WrapString("How many different keys to use for the tests"))
	key = "rounds"
	PerfCmd.Flags().Int(key, 1, util.WrapString("How often every benchmark is repeated, the result is the mean of all rounds"))
	key = "csv"
	PerfCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	conf, err := util.GetConfig()
	if err != nil {
		return err
	}
	perfConfig = conf
	if err := common.InitLoggers(perfConfig.LogLevel, os.Stderr); err != nil {
		return err
	}

	valueSize, err := humanize.ParseBytes(viper.GetString("value-size"))
	if err != nil {
		return errors.Wrap(err, "invalid value-size")
	}
	perfValueSize = int(valueSize)
	perfKeySpread = viper.GetInt("keys")
	perfNumThreads = viper.GetInt("threads")
	perfRounds = viper.GetInt("rounds")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	if perfKeySpread <= 0 || perfNumThreads <= 0 || perfRounds <= 0 {
		return errors.New("keys, threads and rounds must be positive")
	}
	return nil
}

// benchmark is one named benchmark. setup prepares a fresh shard, op is run
// b.N times in parallel.
type benchmark struct {
	name  string
	setup func(s *shard.Shard) error
	op    func(s *shard.Shard, counter int) error
}

// result is the outcome of all rounds of one benchmark
type result struct {
	name    string
	skipped bool
	nsPerOp roundStats
}

func benchmarks() []benchmark {
	value := make([]byte, perfValueSize)
	getKey := getKeys("doc")
	var autoID atomic.Int64

	indexAll := func(s *shard.Shard) error {
		for i := 0; i < perfKeySpread; i++ {
			if _, err := s.Index(getKey(i), value, shard.IndexOptions{}); err != nil {
				return err
			}
		}
		return nil
	}

	return []benchmark{
		{
			name: "index",
			op: func(s *shard.Shard, counter int) error {
				_, err := s.Index(getKey(counter), value, shard.IndexOptions{})
				return err
			},
		},
		{
			name: "index-auto-id",
			op: func(s *shard.Shard, _ int) error {
				key := []byte(fmt.Sprintf("%s-auto-%d", perfKeyPrefix, autoID.Add(1)))
				_, err := s.Index(key, value, shard.IndexOptions{AutoGeneratedID: true})
				return err
			},
		},
		{
			name:  "get-realtime",
			setup: indexAll,
			op: func(s *shard.Shard, counter int) error {
				_, _, err := s.Get(getKey(counter))
				return err
			},
		},
		{
			name: "get-refreshed",
			setup: func(s *shard.Shard) error {
				if err := indexAll(s); err != nil {
					return err
				}
				return s.Refresh(context.Background())
			},
			op: func(s *shard.Shard, counter int) error {
				_, _, err := s.Get(getKey(counter))
				return err
			},
		},
		{
			name:  "delete",
			setup: indexAll,
			op: func(s *shard.Shard, counter int) error {
				_, err := s.Delete(getKey(counter))
				return err
			},
		},
		{
			name:  "mixed",
			setup: indexAll,
			op: func(s *shard.Shard, counter int) error {
				key := getKey(counter)
				var err error
				switch counter % 4 {
				case 0, 1: // get
					_, _, err = s.Get(key)
				case 2: // index
					_, err = s.Index(key, value, shard.IndexOptions{})
				case 3: // delete
					_, err = s.Delete(key)
				}
				return err
			},
		},
		{
			name: "index-refresh",
			op: func(s *shard.Shard, counter int) error {
				if _, err := s.Index(getKey(counter), value, shard.IndexOptions{}); err != nil {
					return err
				}
				if counter%100 == 99 {
					return s.Refresh(context.Background())
				}
				return nil
			},
		},
	}
}

func run(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for rtget shards")

	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(perfConfig.String())
	fmt.Printf("Threads: %d, keys: %d, value size: %s, rounds: %d\n",
		perfNumThreads, perfKeySpread, humanize.IBytes(uint64(perfValueSize)), perfRounds)
	fmt.Println()

	fmt.Println("starting tests...")

	var results []result
	for _, bm := range benchmarks() {
		if shouldSkip(bm.name) {
			results = append(results, result{name: bm.name, skipped: true})
			printResult(results[len(results)-1])
			continue
		}

		nsPerOp := make([]float64, 0, perfRounds)
		for round := 0; round < perfRounds; round++ {
			res, err := runBenchmark(bm)
			if err != nil {
				return errors.Wrapf(err, "benchmark %s", bm.name)
			}
			nsPerOp = append(nsPerOp, math.Max(float64(res.NsPerOp()), 1))
		}
		results = append(results, result{name: bm.name, nsPerOp: newRoundStats(nsPerOp)})
		printResult(results[len(results)-1])
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return errors.Wrap(err, "failed to export results to CSV")
		}
		fmt.Println("Export complete")
	}

	return nil
}

// runBenchmark runs one round of bm against a fresh shard
func runBenchmark(bm benchmark) (testing.BenchmarkResult, error) {
	var benchErr atomic.Pointer[error]

	res := testing.Benchmark(func(b *testing.B) {
		s, err := shard.New(perfConfig, nil)
		if err != nil {
			benchErr.Store(&err)
			return
		}
		b.Cleanup(func() {
			if err := s.Close(); err != nil {
				plog.Warningf("(%s) - error closing shard: %v", bm.name, err)
			}
		})

		if bm.setup != nil {
			if err := bm.setup(s); err != nil {
				benchErr.Store(&err)
				return
			}
		}

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		var counter atomic.Int64
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				if err := bm.op(s, int(counter.Add(1))); err != nil {
					plog.Errorf("(%s) - error: %v", bm.name, err)
				}
			}
		})
	})

	if err := benchErr.Load(); err != nil {
		return res, *err
	}
	return res, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// getKeys creates the test keys and returns a function to get a key by
// index (with wraparound)
func getKeys(prefix string) func(int) []byte {
	keys := make([][]byte, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = []byte(fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i))
	}
	return func(i int) []byte {
		return keys[i%perfKeySpread]
	}
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(r result) {
	if r.skipped {
		fmt.Printf("%-20sskipped\n", r.name)
		return
	}

	nsPerOp := r.nsPerOp.Mean
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec", r.name, nsPerOp, time.Duration(nsPerOp), opsPerSec)
	if perfRounds > 1 {
		fmt.Printf("\t± %.0fns (min %.0f, max %.0f)", r.nsPerOp.StdDeviation, r.nsPerOp.Min, r.nsPerOp.Max)
	}
	fmt.Println()
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results []result) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return errors.Wrap(err, "failed to create CSV file")
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "StdDevNs", "DurationPerOp", "OpsPerSec", "Skipped",
		"ShardID", "RefreshInterval", "RefreshRAMThreshold",
		"Threads", "ValueSizeBytes", "Keys Count", "Rounds",
	}
	if err := writer.Write(header); err != nil {
		return errors.Wrap(err, "failed to write CSV header")
	}

	for _, r := range results {
		var opsPerSec float64
		if !r.skipped {
			opsPerSec = 1.0 / (r.nsPerOp.Mean / 1e9)
		}

		row := []string{
			r.name,
			fmt.Sprintf("%.0f", r.nsPerOp.Mean),
			fmt.Sprintf("%.0f", r.nsPerOp.StdDeviation),
			time.Duration(r.nsPerOp.Mean).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			strconv.FormatBool(r.skipped),
			strconv.FormatUint(perfConfig.ShardID, 10),
			perfConfig.RefreshInterval.String(),
			strconv.FormatInt(perfConfig.RefreshRAMThreshold, 10),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfValueSize),
			strconv.Itoa(perfKeySpread),
			strconv.Itoa(perfRounds),
		}

		if err := writer.Write(row); err != nil {
			return errors.Wrapf(err, "failed to write row for test %s", r.name)
		}
	}

	return nil
}
