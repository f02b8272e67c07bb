package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
)

// --------------------------------------------------------------------------
// Shard configuration struct
// --------------------------------------------------------------------------

// Defaults for a shard. The tombstone retention matches the common
// "gc deletes" setting of search engines (one minute).
const (
	DefaultRefreshInterval     = time.Second
	DefaultRefreshRAMThreshold = 16 << 20 // 16 MiB
	DefaultPruneInterval       = 15 * time.Second
	DefaultTombstoneRetention  = time.Minute
	DefaultLogLevel            = "info"
)

// Config holds all configuration parameters of a shard and its live version map.
type Config struct {
	// ShardID is only used to label logs and metrics
	ShardID uint64

	// RefreshInterval is the time between two scheduled refreshes (0 = only explicit refreshes)
	RefreshInterval time.Duration
	// RefreshRAMThreshold triggers an early refresh once the version map holds
	// more than this many bytes that a refresh would free (0 = disabled)
	RefreshRAMThreshold int64

	// PruneInterval is the time between two tombstone prune passes (0 = only explicit prunes)
	PruneInterval time.Duration
	// TombstoneRetention is how long a tombstone is kept after the delete
	TombstoneRetention time.Duration

	// Logging configuration
	LogLevel string
}

// DefaultConfig returns a configuration with all default values set
func DefaultConfig() Config {
	return Config{
		ShardID:             1,
		RefreshInterval:     DefaultRefreshInterval,
		RefreshRAMThreshold: DefaultRefreshRAMThreshold,
		PruneInterval:       DefaultPruneInterval,
		TombstoneRetention:  DefaultTombstoneRetention,
		LogLevel:            DefaultLogLevel,
	}
}

// Validate checks the configuration for values that can't work
func (c *Config) Validate() error {
	if c.RefreshInterval < 0 {
		return errors.Newf("refresh interval must not be negative, got %s", c.RefreshInterval)
	}
	if c.RefreshRAMThreshold < 0 {
		return errors.Newf("refresh ram threshold must not be negative, got %d", c.RefreshRAMThreshold)
	}
	if c.PruneInterval < 0 {
		return errors.Newf("prune interval must not be negative, got %s", c.PruneInterval)
	}
	if c.TombstoneRetention < 0 {
		return errors.Newf("tombstone retention must not be negative, got %s", c.TombstoneRetention)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	disabledOr := func(d time.Duration) string {
		if d == 0 {
			return "disabled"
		}
		return d.String()
	}

	addSection("Shard")
	addField("Shard ID", strconv.FormatUint(c.ShardID, 10))

	addSection("Refresh")
	addField("Interval", disabledOr(c.RefreshInterval))
	if c.RefreshRAMThreshold == 0 {
		addField("RAM Threshold", "disabled")
	} else {
		addField("RAM Threshold", humanize.IBytes(uint64(c.RefreshRAMThreshold)))
	}

	addSection("Tombstones")
	addField("Prune Interval", disabledOr(c.PruneInterval))
	addField("Retention", c.TombstoneRetention.String())

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
