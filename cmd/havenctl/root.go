package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/joshuapare/haven/mem/pool"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
	quiet   bool
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:   "havenctl",
	Short: "Inspect and exercise the haven page-backed object pool",
	Long: `havenctl reports how haven sees the host's virtual memory (page size,
cache line, loan support) and drives pools under concurrent load.

Pool behaviour follows the HAVEN_* environment variables:
  HAVEN_POISON, HAVEN_TRACE, HAVEN_NO_LOAN, HAVEN_LOG_LEVEL`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads HAVEN_* settings; --verbose forces debug logging.
func loadConfig() (pool.Config, *slog.Logger, error) {
	cfg, err := pool.LoadConfig(pool.EnvPrefix)
	if err != nil {
		return pool.Config{}, nil, err
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, cfg.Logger(os.Stderr), nil
}

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...any) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
