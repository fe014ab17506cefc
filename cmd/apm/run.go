package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextcodebr/nxcd-apm/pkg/apm"
	"github.com/nextcodebr/nxcd-apm/pkg/cli"
	"github.com/nextcodebr/nxcd-apm/pkg/config"
)

var runFlags struct {
	listenAddress   string
	logLevel        string
	shutdownTimeout time.Duration
	watch           bool
	dryRun          bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the transaction sink",
	Long: `Start the transaction sink with the specified configuration.

In bridge mode (the default) the process owns the primary store: it runs
the worker pool, the dead-letter drain schedule and, when the broker is
enabled, a bridge that accepts batches from proxies. In proxy mode it
forwards batches to a bridge instead.

Metrics and health endpoints are served on telemetry.listen_address.

Examples:
  # Start with defaults and APM_* environment overrides
  apm run

  # Start with a config file, reloading it on change
  apm run --config /etc/nxcd/apm.yaml --watch

  # Validate config without starting
  apm run --config apm.yaml --dry-run`,
	RunE: runSink,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override telemetry listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().DurationVar(&runFlags.shutdownTimeout, "shutdown-timeout", 30*time.Second, "time allowed to flush on shutdown")
	runCmd.Flags().BoolVar(&runFlags.watch, "watch", false, "reload context and flush settings when the config file changes")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting")
}

func runSink(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if err := config.Initialize(cfgFile); err != nil {
		return cli.NewConfigError(cfgFile, err)
	}
	cfg := config.GetConfig()

	if runFlags.listenAddress != "" {
		cfg.Telemetry.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError(cfgFile, err)
	}

	if runFlags.dryRun {
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	printBanner(cmd, cfg)

	pipeline, err := apm.New(cfg, apm.Options{Version: versionInfo()})
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	fmt.Fprintf(out, "✓ Sink started (mode %s)\n", sinkMode(cfg))

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		if err := pipeline.Serve(ctx); err != nil {
			errChan <- fmt.Errorf("telemetry server error: %w", err)
		}
	}()

	if runFlags.watch && cfgFile != "" {
		watcher, err := config.NewWatcher(cfgFile, 0)
		if err != nil {
			slog.Warn("config watcher unavailable", "error", err)
		} else {
			defer watcher.Stop()
			config.OnReload(func(next *config.Config) {
				if err := pipeline.Reload(next); err != nil {
					slog.Error("failed to apply reloaded config", "error", err)
				}
			})
			go func() {
				if err := watcher.WatchAndReload(ctx); err != nil {
					slog.Error("config watcher stopped", "error", err)
				}
			}()
			fmt.Fprintf(out, "✓ Watching %s\n", cfgFile)
		}
	}

	fmt.Fprintf(out, "✓ Metrics endpoint: http://%s%s\n", cfg.Telemetry.ListenAddress, cfg.Telemetry.Metrics.Path)
	fmt.Fprintf(out, "✓ Readiness endpoint: http://%s%s\n", cfg.Telemetry.ListenAddress, cfg.Telemetry.Health.ReadinessPath)
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	var runErr error
	select {
	case runErr = <-errChan:
	case <-ctx.Done():
		fmt.Fprintln(out, "\nShutting down, flushing buffered transactions...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), runFlags.shutdownTimeout)
	defer cancel()

	if err := pipeline.Close(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
		return cli.NewCommandError("run", errors.Join(runErr, err))
	}
	if runErr != nil {
		return cli.NewCommandError("run", runErr)
	}

	fmt.Fprintln(out, "✓ Sink stopped")
	return nil
}

func sinkMode(cfg *config.Config) string {
	switch {
	case !cfg.Broker.Enabled:
		return "primary"
	case cfg.Broker.Mode == "proxy":
		return "proxy"
	default:
		return "primary+bridge"
	}
}

func printBanner(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "nxcd-apm v%s\n", Version)
	if cfgFile != "" {
		fmt.Fprintf(out, "Loading configuration from: %s\n", cfgFile)
	}
	fmt.Fprintln(out, "✓ Configuration loaded")

	slog.Debug("store configured", "backend", cfg.Store.Backend, "collection", cfg.Store.Collection)
	if cfg.Deflate.Enabled {
		slog.Debug("deflate enabled", "target", cfg.Deflate.Target, "embed_limit", cfg.Deflate.EmbedLimit)
	}
	if cfg.Broker.Enabled {
		slog.Debug("broker enabled", "transport", cfg.Broker.Transport, "subject", cfg.Broker.Subject)
	}
}
