package util

import (
	"strings"

	"github.com/ValentinKolb/rtget/lib/common"
	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupShardFlags adds the shard configuration flags to a command
func SetupShardFlags(cmd *cobra.Command) {
	key := "shard-id"
	cmd.PersistentFlags().Uint64(key, 1, WrapString("ID of the shard, only used to label logs and metrics"))

	key = "refresh-interval"
	cmd.PersistentFlags().Duration(key, common.DefaultRefreshInterval, WrapString("Time between two scheduled refreshes of the searchable index (0 = only explicit refreshes)"))

	key = "refresh-ram-threshold"
	cmd.PersistentFlags().String(key, humanize.IBytes(common.DefaultRefreshRAMThreshold), WrapString("Refresh early once the live version map holds more than this many bytes (e.g. 16MiB, 0 = disabled)"))

	key = "prune-interval"
	cmd.PersistentFlags().Duration(key, common.DefaultPruneInterval, WrapString("Time between two tombstone prune passes (0 = disabled)"))

	key = "tombstone-retention"
	cmd.PersistentFlags().Duration(key, common.DefaultTombstoneRetention, WrapString("How long a tombstone is kept after a delete"))

	key = "log-level"
	cmd.PersistentFlags().String(key, common.DefaultLogLevel, WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("rtget")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetConfig reads the shard configuration from viper and validates it
func GetConfig() (common.Config, error) {
	threshold, err := humanize.ParseBytes(viper.GetString("refresh-ram-threshold"))
	if err != nil {
		return common.Config{}, errors.Wrap(err, "invalid refresh-ram-threshold")
	}

	conf := common.Config{
		ShardID:             viper.GetUint64("shard-id"),
		RefreshInterval:     viper.GetDuration("refresh-interval"),
		RefreshRAMThreshold: int64(threshold),
		PruneInterval:       viper.GetDuration("prune-interval"),
		TombstoneRetention:  viper.GetDuration("tombstone-retention"),
		LogLevel:            viper.GetString("log-level"),
	}
	if err := conf.Validate(); err != nil {
		return common.Config{}, err
	}
	return conf, nil
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
