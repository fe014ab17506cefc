package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nextcodebr/nxcd-apm/pkg/config"
	"github.com/nextcodebr/nxcd-apm/pkg/telemetry/health"
	"github.com/nextcodebr/nxcd-apm/pkg/telemetry/logging"
	"github.com/nextcodebr/nxcd-apm/pkg/telemetry/metrics"
)

// Telemetry owns the logger, metrics and health checks of a process.
type Telemetry struct {
	cfg     *config.TelemetryConfig
	logger  *slog.Logger
	metrics *metrics.Collector
	health  *health.Checker
	mux     *http.ServeMux
}

// New installs the configured logger as the slog default and builds the
// collector and checker.
func New(cfg *config.TelemetryConfig, version health.VersionInfo) (*Telemetry, error) {
	logger, err := logging.Install(cfg.Logging, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	t := &Telemetry{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewCollector(&cfg.Metrics, nil),
		health:  health.New(cfg.Health.CheckTimeout),
		mux:     http.NewServeMux(),
	}

	if cfg.Metrics.Enabled {
		t.mux.Handle(cfg.Metrics.Path, t.metrics.Handler())
	}
	health.Mount(t.mux, t.health, cfg.Health, version)

	return t, nil
}

// Logger returns the process logger.
func (t *Telemetry) Logger() *slog.Logger { return t.logger }

// Metrics returns the Prometheus collector.
func (t *Telemetry) Metrics() *metrics.Collector { return t.metrics }

// Health returns the readiness checker.
func (t *Telemetry) Health() *health.Checker { return t.health }

// Handler returns the mux serving metrics and health endpoints.
func (t *Telemetry) Handler() http.Handler { return t.mux }

// Serve listens on the configured address until ctx is cancelled.
func (t *Telemetry) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", t.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", t.cfg.ListenAddress, err)
	}
	return t.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is cancelled, then shuts down.
func (t *Telemetry) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           t.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	t.logger.Info("Telemetry listener started", "address", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
