package apm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nextcodebr/nxcd-apm/pkg/codec"
	"github.com/nextcodebr/nxcd-apm/pkg/config"
	"github.com/nextcodebr/nxcd-apm/pkg/docstore"
	"github.com/nextcodebr/nxcd-apm/pkg/sink"
	"github.com/nextcodebr/nxcd-apm/pkg/sink/broker"
	"github.com/nextcodebr/nxcd-apm/pkg/sink/dlq"
	"github.com/nextcodebr/nxcd-apm/pkg/sink/primary"
	"github.com/nextcodebr/nxcd-apm/pkg/telemetry"
	"github.com/nextcodebr/nxcd-apm/pkg/telemetry/health"
	"github.com/nextcodebr/nxcd-apm/pkg/transaction"
)

// ProxySpoolPrefix is the queue namespace of batches a proxy could not
// deliver.
const ProxySpoolPrefix = "proxy"

// Options holds collaborators that are not described by the configuration.
type Options struct {
	// Registry receives the sink. Default: transaction.Default()
	Registry *transaction.Registry

	// Version is reported by the version endpoint.
	Version health.VersionInfo

	// Conn replaces the broker connection built from the configuration,
	// for example to share one broker.Local between pipelines.
	Conn broker.Conn
}

// Pipeline is the sink side of one process. In proxy mode completed
// Transactions are forwarded over the broker; otherwise they go to a
// primary-store sink, which a bridge may also feed.
type Pipeline struct {
	cfg       *config.Config
	registry  *transaction.Registry
	telemetry *telemetry.Telemetry
	logger    *slog.Logger

	master *primary.Master
	proxy  *broker.Proxy[*transaction.Transaction]
	bridge *broker.Bridge[*transaction.Transaction]
	spool  *dlq.DLQ
	replay *sink.Flusher
	conn   broker.Conn
	owned  bool

	// replayMu keeps timer and manual replays of the spool apart.
	replayMu sync.Mutex
}

// New builds the pipeline described by cfg and installs its sink in the
// registry.
func New(cfg *config.Config, opts Options) (*Pipeline, error) {
	registry := opts.Registry
	if registry == nil {
		registry = transaction.Default()
	}
	if err := config.ApplyToRegistry(cfg, registry); err != nil {
		return nil, err
	}

	tel, err := telemetry.New(&cfg.Telemetry, opts.Version)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:       cfg,
		registry:  registry,
		telemetry: tel,
		logger:    slog.Default().With("component", "apm.pipeline"),
		conn:      opts.Conn,
	}

	if cfg.Broker.Enabled && p.conn == nil {
		if p.conn, err = broker.Dial(cfg.Broker); err != nil {
			return nil, err
		}
		p.owned = true
	}
	if p.conn != nil {
		tel.Health().RegisterCheck("broker", health.PingCheck(p.conn))
	}

	if cfg.Broker.Enabled && cfg.Broker.Mode == "proxy" {
		err = p.buildProxy()
	} else {
		err = p.buildPrimary()
	}
	if err != nil {
		if p.master != nil {
			_ = p.master.Close(context.Background())
		}
		_ = p.closeConn()
		return nil, err
	}

	p.logger.Info("pipeline ready",
		"broker", cfg.Broker.Enabled,
		"mode", cfg.Broker.Mode,
		"store", cfg.Store.Backend,
	)
	return p, nil
}

func (p *Pipeline) buildPrimary() error {
	pc, err := primary.ConfigFrom(p.cfg, p.telemetry.Metrics())
	if err != nil {
		return err
	}
	master, err := primary.New(pc)
	if err != nil {
		return err
	}
	p.master = master

	p.telemetry.Health().RegisterCheck("store", storeCheck(pc.Connector))
	p.telemetry.Health().RegisterCheck("dlq", health.BacklogCheck(master.Pending, 0))

	if p.cfg.Broker.Enabled {
		serializer, err := codec.Lookup(p.cfg.Broker.Codec)
		if err != nil {
			return err
		}
		bc := broker.BridgeConfig[*transaction.Transaction]{
			Conn:       p.conn,
			Subject:    p.cfg.Broker.Subject,
			Queue:      p.cfg.Broker.Queue,
			Serializer: serializer,
			Sink:       master,
			Metrics:    p.telemetry.Metrics(),
		}
		if p.cfg.Broker.Deflate {
			bc.Revive = broker.InflateEnvelope(serializer, p.cfg.Deflate.HandleKey)
		}
		if p.bridge, err = broker.NewBridge(bc); err != nil {
			return err
		}
		if err := p.bridge.Start(); err != nil {
			return err
		}
	}

	p.registry.Use(master)
	return nil
}

func (p *Pipeline) buildProxy() error {
	serializer, err := codec.Lookup(p.cfg.Broker.Codec)
	if err != nil {
		return err
	}
	dlqSerializer, err := codec.Lookup(p.cfg.DLQ.Codec)
	if err != nil {
		return err
	}
	p.spool, err = dlq.New(dlq.Config{Base: p.cfg.DLQ.Path, Prefix: ProxySpoolPrefix, Serializer: dlqSerializer})
	if err != nil {
		return err
	}

	pc := broker.ProxyConfig[*transaction.Transaction]{
		Conn:          p.conn,
		Subject:       p.cfg.Broker.Subject,
		Timeout:       p.cfg.Broker.Timeout,
		FlushInterval: p.cfg.Flush.Interval,
		Serializer:    serializer,
		Spool: func(batch []*transaction.Transaction) error {
			return p.spool.Accept(batch...)
		},
		Metrics: p.telemetry.Metrics(),
	}
	if p.cfg.Broker.Deflate {
		pc.Transform = broker.DeflateEnvelope(p.cfg.Deflate.HandleKey, p.cfg.Deflate.EmbedLimit)
	}
	if p.proxy, err = broker.NewProxy(pc); err != nil {
		return err
	}

	p.telemetry.Health().RegisterCheck("dlq", health.BacklogCheck(p.spool.Len, 0))
	p.registry.Use(p.proxy)
	p.replay = sink.StartFlusher(p.replaySpool, p.cfg.Broker.ReplayInterval, p.logger)
	return nil
}

// replaySpool resends spooled batches when there are any.
func (p *Pipeline) replaySpool(ctx context.Context) error {
	if n, err := p.spool.Len(); err != nil || n == 0 {
		return err
	}
	n, err := p.Drain(ctx)
	if n > 0 {
		p.logger.Info("spooled batches resent", "count", n)
	}
	return err
}

// storeCheck opens a short-lived connection and pings it.
func storeCheck(connect docstore.Connector) health.CheckFunc {
	return func(ctx context.Context) error {
		store, err := connect(ctx)
		if err != nil {
			return err
		}
		defer store.Close(ctx)
		return store.Ping(ctx)
	}
}

// Registry returns the registry the sink is installed in.
func (p *Pipeline) Registry() *transaction.Registry { return p.registry }

// Telemetry returns the logging, metrics and health owner.
func (p *Pipeline) Telemetry() *telemetry.Telemetry { return p.telemetry }

// Master returns the primary-store sink, or nil in proxy mode.
func (p *Pipeline) Master() *primary.Master { return p.master }

// Proxy returns the broker proxy, or nil outside proxy mode.
func (p *Pipeline) Proxy() *broker.Proxy[*transaction.Transaction] { return p.proxy }

// Flush hands buffered Transactions on.
func (p *Pipeline) Flush(ctx context.Context) error {
	if p.proxy != nil {
		return p.proxy.Flush(ctx)
	}
	return p.master.Flush(ctx)
}

// Drain replays dead-letter entries and returns the number of Transactions
// moved. In proxy mode spooled batches are resent to the bridge, stopping
// at the first one that is not acknowledged. A proxy also does this on its
// own every broker.replay_interval.
func (p *Pipeline) Drain(ctx context.Context) (int, error) {
	if p.master != nil {
		return p.master.Drain(ctx)
	}

	p.replayMu.Lock()
	defer p.replayMu.Unlock()

	total := 0
	for entry, err := range p.spool.List(ctx) {
		if err != nil {
			if ctx.Err() != nil {
				return total, err
			}
			p.logger.Warn("skipping unreadable spool entry", "file", entry.File, "error", err)
			continue
		}
		if err := p.proxy.Deliver(ctx, entry.Transactions); err != nil {
			return total, err
		}
		if err := p.spool.Prune(entry.File); err != nil {
			p.logger.Warn("spool prune failed, entry may be resent", "error", err)
		}
		total += len(entry.Transactions)
	}
	return total, nil
}

// Reload applies the settings that can change at runtime: the registry
// knobs and the flush interval.
func (p *Pipeline) Reload(cfg *config.Config) error {
	if err := config.ApplyToRegistry(cfg, p.registry); err != nil {
		return err
	}
	if p.proxy != nil && p.proxy.FlushInterval() != cfg.Flush.Interval {
		p.proxy.SetFlushInterval(cfg.Flush.Interval)
	}
	if p.master != nil && p.master.FlushInterval() != cfg.Flush.Interval {
		p.master.SetFlushInterval(cfg.Flush.Interval)
	}
	if p.replay != nil && p.replay.Interval() != cfg.Broker.ReplayInterval {
		p.replay.Reset(cfg.Broker.ReplayInterval)
	}
	p.logger.Info("configuration reloaded", "flush_interval", cfg.Flush.Interval)
	return nil
}

// Serve exposes the metrics and health endpoints until ctx is cancelled.
func (p *Pipeline) Serve(ctx context.Context) error {
	return p.telemetry.Serve(ctx)
}

// Close uninstalls the sink, flushes it and releases the broker
// connection when the pipeline opened it.
func (p *Pipeline) Close(ctx context.Context) error {
	p.registry.Use(nil)

	var errs []error
	if p.bridge != nil {
		errs = append(errs, p.bridge.Stop())
	}
	if p.replay != nil {
		p.replay.Stop()
	}
	if p.proxy != nil {
		errs = append(errs, p.proxy.Close(ctx))
	}
	if p.master != nil {
		errs = append(errs, p.master.Close(ctx))
	}
	errs = append(errs, p.closeConn())

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("pipeline close: %w", err)
	}
	return nil
}

func (p *Pipeline) closeConn() error {
	if p.conn == nil || !p.owned {
		return nil
	}
	return p.conn.Close()
}
