package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextcodebr/nxcd-apm/pkg/codec"
	"github.com/nextcodebr/nxcd-apm/pkg/config"
	"github.com/nextcodebr/nxcd-apm/pkg/sink"
	"github.com/nextcodebr/nxcd-apm/pkg/telemetry/metrics"
)

// Transform turns a batch into the value sent on the wire.
type Transform[T any] func(ctx context.Context, batch []T) (any, error)

// SpoolFunc keeps a batch the proxy could not deliver.
type SpoolFunc[T any] func(batch []T) error

// ProxyConfig configures a Proxy.
type ProxyConfig[T any] struct {
	// Conn carries the requests.
	Conn Conn

	// Subject the bridge listens on.
	// Default: "apm.transactions"
	Subject string

	// Timeout bounds each request.
	// Default: 5 seconds
	Timeout time.Duration

	// FlushInterval is the buffering timer period.
	// Default: 1 second
	FlushInterval time.Duration

	// Serializer encodes batches and decodes acks.
	// Default: codec.JSON
	Serializer codec.Serializer

	// Transform optionally rewrites a batch before encoding, for example
	// DeflateEnvelope.
	Transform Transform[T]

	// Spool optionally keeps batches that got no acknowledgement. Without
	// it such batches are dropped and counted.
	Spool SpoolFunc[T]

	// Metrics is optional.
	Metrics *metrics.Collector
}

// Proxy is a buffering sink that forwards its batches to a Bridge over a
// broker, for processes that do not hold store credentials.
type Proxy[T any] struct {
	cfg     ProxyConfig[T]
	logger  *slog.Logger
	buffer  *sink.Buffering[T]
	flusher *sink.Flusher

	mu     sync.RWMutex
	closed bool
}

var (
	_ sink.Sink[int]    = (*Proxy[int])(nil)
	_ sink.Batcher[int] = (*Proxy[int])(nil)
)

// NewProxy creates a proxy and starts its flush timer.
func NewProxy[T any](cfg ProxyConfig[T]) (*Proxy[T], error) {
	if cfg.Conn == nil {
		return nil, errors.New("proxy requires a broker connection")
	}
	if cfg.Subject == "" {
		cfg.Subject = config.DefaultBrokerSubject
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultBrokerTimeout
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = config.DefaultFlushInterval
	}
	if cfg.Serializer == nil {
		cfg.Serializer = codec.JSON
	}

	p := &Proxy[T]{
		cfg:    cfg,
		logger: slog.Default().With("component", "apm.broker.proxy", "subject", cfg.Subject),
	}
	p.buffer = sink.NewBuffering(p.Ingest)
	p.flusher = sink.StartFlusher(p.buffer.Flush, cfg.FlushInterval, p.logger)
	return p, nil
}

// Accept buffers item. After Close it goes straight to Spool.
func (p *Proxy[T]) Accept(item T) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		p.fallback([]T{item}, ErrProxyClosed)
		return
	}
	p.buffer.Accept(item)
	p.mu.RUnlock()
}

// Len returns the number of buffered items.
func (p *Proxy[T]) Len() int {
	return p.buffer.Len()
}

// Flush sends the buffered items.
func (p *Proxy[T]) Flush(ctx context.Context) error {
	return p.buffer.Flush(ctx)
}

// Ingest sends batch as one request and checks the acknowledgement.
//
// A batch that got no acknowledgement is handed to Spool, or dropped when
// there is none. A batch the bridge acknowledged with an error is not
// spooled, since the bridge has already taken it.
func (p *Proxy[T]) Ingest(ctx context.Context, batch []T) error {
	err := p.Deliver(ctx, batch)
	if err == nil {
		return nil
	}

	var remote *RemoteError
	if errors.As(err, &remote) {
		p.logger.Warn("bridge rejected batch", "count", len(batch), "error", remote.Message)
		return err
	}
	p.fallback(batch, err)
	return err
}

// Deliver sends batch as one request and checks the acknowledgement. It
// never spools; a failed batch stays with the caller.
func (p *Proxy[T]) Deliver(ctx context.Context, batch []T) error {
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	err := p.send(ctx, batch)

	var timeout *TimeoutError
	result := metrics.ResultOK
	switch {
	case err == nil:
	case errors.As(err, &timeout):
		result = metrics.ResultTimeout
	default:
		result = metrics.ResultError
	}
	p.cfg.Metrics.RecordBrokerRequest(metrics.RoleProxy, result, time.Since(start))
	return err
}

func (p *Proxy[T]) send(ctx context.Context, batch []T) error {
	var payload any = batch
	if p.cfg.Transform != nil {
		var err error
		if payload, err = p.cfg.Transform(ctx, batch); err != nil {
			return &Error{Subject: p.cfg.Subject, Cause: fmt.Errorf("transform: %w", err)}
		}
	}

	data, err := p.cfg.Serializer.Marshal(payload)
	if err != nil {
		return &Error{Subject: p.cfg.Subject, Cause: fmt.Errorf("encode: %w", err)}
	}

	rctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	reply, err := p.cfg.Conn.Request(rctx, p.cfg.Subject, data)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return &TimeoutError{Subject: p.cfg.Subject, Timeout: p.cfg.Timeout}
		}
		return &Error{Subject: p.cfg.Subject, Cause: err}
	}

	var ack Ack
	if err := p.cfg.Serializer.Unmarshal(reply, &ack); err != nil {
		return &Error{Subject: p.cfg.Subject, Cause: fmt.Errorf("decode ack: %w", err)}
	}
	if ack.Err != "" {
		return &RemoteError{Subject: p.cfg.Subject, Message: ack.Err}
	}
	return nil
}

func (p *Proxy[T]) fallback(batch []T, cause error) {
	if p.cfg.Spool != nil {
		err := p.cfg.Spool(batch)
		if err == nil {
			p.cfg.Metrics.RecordSpooled(metrics.SpoolBroker, len(batch))
			p.logger.Warn("batch not delivered, spooled", "count", len(batch), "error", cause)
			return
		}
		p.logger.Error("spool failed", "count", len(batch), "error", err)
	}
	p.cfg.Metrics.RecordProxyDropped(len(batch))
	p.logger.Error("batch not delivered, dropped", "count", len(batch), "error", cause)
}

// SetFlushInterval restarts the flush timer with a new period.
func (p *Proxy[T]) SetFlushInterval(d time.Duration) {
	p.flusher.Reset(d)
}

// FlushInterval returns the flush timer period.
func (p *Proxy[T]) FlushInterval() time.Duration {
	return p.flusher.Interval()
}

// Close stops the timer and sends what is buffered. Items accepted from
// then on are spooled. The connection is left open.
func (p *Proxy[T]) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.flusher.Stop()
	err := p.buffer.Flush(ctx)
	if rest := p.buffer.Drain(); len(rest) > 0 {
		p.fallback(rest, ErrProxyClosed)
	}
	return err
}
