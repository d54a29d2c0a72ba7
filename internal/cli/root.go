// Package cli implements the command-line drivers built on the streaming
// core: compress, copy, validate, and ls.
package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kilupskalvis/stepio/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "stepio",
	Short: "Step-oriented array stream tooling",
	Long: `stepio streams multidimensional scientific arrays through a
step-oriented, file-backed storage format. The drivers copy streams,
sweep lossy compression over a list of error bounds, and validate
compressed streams against their originals.`,
}

var configPath string

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to TOML configuration file (optional)")
	rootCmd.AddCommand(compressCmd)
	rootCmd.AddCommand(copyCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(lsCmd)
}

// loadConfig returns the file at --config, or defaults when unset.
func loadConfig() *config.Config {
	if configPath == "" {
		return config.Default()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		exitError("%v", err)
	}
	return cfg
}

// groupSize reads the launcher-provided process-group cardinality. The
// drivers are serial-only: they refuse to run inside a larger group.
func groupSize() int {
	v := os.Getenv("STEPIO_SIZE")
	if v == "" {
		return 1
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		exitError("invalid STEPIO_SIZE %q", v)
	}
	return n
}

func requireSerial(driver string) {
	if n := groupSize(); n > 1 {
		exitError("%s runs single rank only, launched with group size %d", driver, n)
	}
}

// exitError prints an error and exits.
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
