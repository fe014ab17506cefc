package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextcodebr/nxcd-apm/pkg/cli"
	"github.com/nextcodebr/nxcd-apm/pkg/config"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "apm",
	Short: "nxcd APM transaction sink",
	Long: `apm runs and maintains the sink side of the nxcd APM agent.

Instrumented services record one Transaction per traced call. The sink
batches them into the primary store, externalizes large binary payloads
into a blob store, and spools batches it cannot write to a local
dead-letter queue for later replay. Processes without store credentials
forward their batches over a broker to a bridge running here.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults and APM_* environment when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig reads the configuration for one-shot commands. Their logging
// stays quiet unless --verbose is set.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError(cfgFile, err)
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	} else {
		cfg.Telemetry.Logging.Level = "warn"
	}
	return cfg, nil
}
