// Package main implements the beamdose CLI: per-beam dose calculation and
// plan dose accumulation from YAML plan files.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version information
var version = "dev"

// globalOptions are shared by all commands
type globalOptions struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "beamdose",
		Short: "Radiotherapy beam dose calculation and accumulation",
		Long: `beamdose computes the dose of every beam of a treatment plan with a
pluggable dose engine, resamples the beam doses onto the plan's reference
grid and sums them, weighted by beam weight, into a total dose.`,
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "beamdose.yaml", "Configuration file (defaults are used when missing)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override logging.level from the configuration")

	rootCmd.AddCommand(newCalculateCmd(opts))
	rootCmd.AddCommand(newEnginesCmd(opts))
	rootCmd.AddCommand(newInitConfigCmd())
	rootCmd.AddCommand(newExamplePlanCmd())
	return rootCmd
}
