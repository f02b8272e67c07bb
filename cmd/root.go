package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/rtget/cmd/perf"
	"github.com/ValentinKolb/rtget/cmd/simulate"
	"github.com/ValentinKolb/rtget/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "rtget",
		Short: "real-time get for refresh based storage shards",
		Long: fmt.Sprintf(`rtget (v%s)

A storage shard with real-time get written in Go. Writes are visible to
gets immediately, while the searchable index only catches up on refresh.
The live version map bridges the gap between the two.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of rtget",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rtget v%s\n", Version)
		},
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(simulate.SimulateCmd)
	RootCmd.AddCommand(perf.PerfCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
