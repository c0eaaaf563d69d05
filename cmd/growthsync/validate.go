package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/upnest/growthsync/config"
)

// validateCmd validates a config file without contacting the API.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a growthsync configuration file without contacting the API.

This command parses the YAML, expands environment variables, applies
defaults and validates all fields. It's useful for CI/CD pipelines or
pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  growthsync validate -c config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	if configFile == "" {
		return errors.New(`required flag "config" not set`)
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  API:            %s\n", cfg.API.BaseURL)
	fmt.Fprintf(out, "  Token:          %s\n", tokenState(cfg.API.Token))
	fmt.Fprintf(out, "  Interval:       %s\n", cfg.Polling.Interval.Duration())
	fmt.Fprintf(out, "  Max retries:    %d\n", cfg.Polling.MaxRetries)
	fmt.Fprintf(out, "  Backoff factor: %v\n", cfg.Polling.BackoffFactor)
	fmt.Fprintf(out, "  Write retries:  %d\n", cfg.Write.Retries)

	return nil
}

// tokenState never prints the token itself.
func tokenState(token string) string {
	if token == "" {
		return "not set"
	}
	return "set"
}
