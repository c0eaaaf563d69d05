// Package main is the entry point for the growthsync CLI.
//
// Usage:
//
//	growthsync measurement update <dataId> --weight 4200 -c config.yaml
//	growthsync baby update <babyId> --gender female -c config.yaml
//	growthsync validate -c config.yaml
//	growthsync version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "growthsync",
	Short: "Save growth data and wait for recomputed percentiles",
	Long: `growthsync saves baby growth measurements and profile changes to the
growth-data API, then waits until the server has recomputed the derived
percentiles.

The server recomputes percentiles asynchronously, so a write returns before
the new values are visible. growthsync polls with exponential backoff until
the values converge or the retry budget runs out.

Example config:
  api:
    base_url: ${GROWTH_API_URL:-http://localhost:8080}
    token: ${GROWTH_API_TOKEN:-}
  polling:
    interval: 1s
    max_retries: 10`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// cobra already printed the error
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "growthsync %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config file (required)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd)
}
