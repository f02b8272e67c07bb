package simulate

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync/atomic"
	"time"

	cmdUtil "github.com/ValentinKolb/rtget/cmd/util"
	"github.com/ValentinKolb/rtget/lib/common"
	"github.com/ValentinKolb/rtget/lib/shard"
	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var plog = logger.GetLogger("cmd")

var (
	simConfig      common.Config
	simDuration    = 10 * time.Second
	simWriters     = 8
	simKeys        = 1000
	simDeleteRatio = 0.1
	simAutoIDRatio = 0.0
	simValueSize   = 1024

	// SimulateCmd runs a load simulation against an in-process shard
	SimulateCmd = &cobra.Command{
		Use:   "simulate",
		Short: "Run concurrent writers against a shard and verify real-time gets",
		Long: `Run concurrent writers against an in-process shard while the background refresh and prune loops are active. After every write the writer reads the key back and verifies that the write is visible. The configuration can be set via command line flags or environment variables. The format of the environment variables is RTGET_<flag> (e.g. RTGET_REFRESH_INTERVAL=500ms)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cmdUtil.SetupShardFlags(SimulateCmd)

	key := "duration"
	SimulateCmd.Flags().Duration(key, simDuration, cmdUtil.WrapString("How long the simulation runs"))

	key = "writers"
	SimulateCmd.Flags().Int(key, simWriters, cmdUtil.WrapString("Number of concurrent writers"))

	key = "keys"
	SimulateCmd.Flags().Int(key, simKeys, cmdUtil.WrapString("Number of distinct keys per writer"))

	key = "delete-ratio"
	SimulateCmd.Flags().Float64(key, simDeleteRatio, cmdUtil.WrapString("Fraction of operations that are deletes"))

	key = "auto-id-ratio"
	SimulateCmd.Flags().Float64(key, simAutoIDRatio, cmdUtil.WrapString("Fraction of index operations that use auto-generated ids. Auto-generated ids may skip version tracking until an explicit id is written"))

	key = "value-size"
	SimulateCmd.Flags().String(key, "1KiB", cmdUtil.WrapString("Size of the indexed values (e.g. 512B, 4KiB)"))

	key = "prometheus"
	SimulateCmd.Flags().Bool(key, false, cmdUtil.WrapString("Print the shard metrics in Prometheus format after the run"))
}

// processConfig reads the configuration from the command line flags and environment variables
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	conf, err := cmdUtil.GetConfig()
	if err != nil {
		return err
	}
	simConfig = conf

	if err := common.InitLoggers(simConfig.LogLevel, os.Stderr); err != nil {
		return err
	}

	simDuration = viper.GetDuration("duration")
	simWriters = viper.GetInt("writers")
	simKeys = viper.GetInt("keys")
	simDeleteRatio = viper.GetFloat64("delete-ratio")
	simAutoIDRatio = viper.GetFloat64("auto-id-ratio")

	valueSize, err := humanize.ParseBytes(viper.GetString("value-size"))
	if err != nil {
		return errors.Wrap(err, "invalid value-size")
	}
	simValueSize = int(valueSize)

	if simWriters <= 0 || simKeys <= 0 {
		return errors.Newf("writers and keys must be positive (got %d writers, %d keys)", simWriters, simKeys)
	}
	if simDeleteRatio < 0 || simDeleteRatio > 1 || simAutoIDRatio < 0 || simAutoIDRatio > 1 {
		return errors.New("ratios must be between 0 and 1")
	}
	return nil
}

// counters collected by all writers
type simStats struct {
	indexed    atomic.Int64
	deleted    atomic.Int64
	gets       atomic.Int64
	violations atomic.Int64
}

func run(cmd *cobra.Command, _ []string) error {
	fmt.Println("Configuration:")
	fmt.Println(simConfig.String())
	fmt.Printf("Writers: %d, keys per writer: %d, value size: %s\n\n",
		simWriters, simKeys, humanize.IBytes(uint64(simValueSize)))

	s, err := shard.New(simConfig, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), simDuration)
	defer cancel()

	stats := &simStats{}
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < simWriters; w++ {
		w := w
		g.Go(func() error {
			return runWriter(ctx, s, w, stats)
		})
	}
	g.Go(func() error {
		return reportProgress(ctx, s, stats)
	})

	start := time.Now()
	if err := g.Wait(); err != nil {
		_ = s.Close()
		return err
	}
	elapsed := time.Since(start)

	info, err := s.Info()
	if err != nil {
		return err
	}
	fmt.Println(info.String())

	ops := stats.indexed.Load() + stats.deleted.Load()
	fmt.Println("RESULT")
	fmt.Printf("  %-22s: %s (%s ops/sec)\n", "Writes", humanize.Comma(ops),
		humanize.Comma(int64(float64(ops)/elapsed.Seconds())))
	fmt.Printf("  %-22s: %s\n", "Real-time Gets", humanize.Comma(stats.gets.Load()))
	fmt.Printf("  %-22s: %s\n", "Violations", humanize.Comma(stats.violations.Load()))

	if viper.GetBool("prometheus") {
		fmt.Println()
		s.WritePrometheus(os.Stdout)
		s.WriteLatencies(os.Stdout)
	}

	if err := s.Close(); err != nil {
		return err
	}
	if v := stats.violations.Load(); v > 0 {
		return errors.Newf("%d real-time gets did not observe the preceding write", v)
	}
	return nil
}

// runWriter writes random operations until ctx is done. After every write
// the key is read back.
func runWriter(ctx context.Context, s *shard.Shard, writer int, stats *simStats) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(writer)))
	value := make([]byte, simValueSize)
	autoID := 0

	for ctx.Err() == nil {
		rng.Read(value)

		var key []byte
		var opts shard.IndexOptions
		if rng.Float64() < simAutoIDRatio {
			key = []byte(fmt.Sprintf("auto-%d-%d", writer, autoID))
			opts.AutoGeneratedID = true
			autoID++
		} else {
			key = []byte(fmt.Sprintf("doc-%d-%d", writer, rng.Intn(simKeys)))
		}

		if !opts.AutoGeneratedID && rng.Float64() < simDeleteRatio {
			if _, err := s.Delete(key); err != nil {
				return errors.Wrapf(err, "delete %s", key)
			}
			stats.deleted.Add(1)
			if _, found, err := s.Get(key); err != nil {
				return errors.Wrapf(err, "get %s", key)
			} else if found {
				stats.violations.Add(1)
				plog.Errorf("deleted key %s is still visible", key)
			}
			stats.gets.Add(1)
			continue
		}

		res, err := s.Index(key, value, opts)
		if err != nil {
			return errors.Wrapf(err, "index %s", key)
		}
		stats.indexed.Add(1)

		doc, found, err := s.Get(key)
		if err != nil {
			return errors.Wrapf(err, "get %s", key)
		}
		stats.gets.Add(1)
		if !found || doc.Version != res.Version || !bytes.Equal(doc.Value, value) {
			stats.violations.Add(1)
			plog.Errorf("key %s: expected version %d, got found=%t version=%d", key, res.Version, found, doc.Version)
		}
	}
	return nil
}

// reportProgress logs the progress once per second
func reportProgress(ctx context.Context, s *shard.Shard, stats *simStats) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		info, err := s.Info()
		if err != nil {
			return err
		}
		plog.Infof("writes=%d gets=%d violations=%d map=%s tombstones=%d refreshes=%d",
			stats.indexed.Load()+stats.deleted.Load(), stats.gets.Load(), stats.violations.Load(),
			humanize.IBytes(uint64(info.VersionMap.RAMBytes)), info.VersionMap.Tombstones, info.Refreshes)
	}
}
