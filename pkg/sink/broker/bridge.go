package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nextcodebr/nxcd-apm/pkg/codec"
	"github.com/nextcodebr/nxcd-apm/pkg/config"
	"github.com/nextcodebr/nxcd-apm/pkg/sink"
	"github.com/nextcodebr/nxcd-apm/pkg/telemetry/metrics"
)

// Revive turns a request payload back into items.
type Revive[T any] func(ctx context.Context, data []byte) ([]T, error)

// BridgeConfig configures a Bridge.
type BridgeConfig[T any] struct {
	// Conn receives the requests.
	Conn Conn

	// Subject to listen on.
	// Default: "apm.transactions"
	Subject string

	// Queue is the queue group shared by bridge replicas.
	// Default: "apm-bridge"
	Queue string

	// Serializer encodes acks, and decodes batches when Revive is unset.
	// Default: codec.JSON
	Serializer codec.Serializer

	// Revive decodes a request payload.
	// Default: Decode[T](Serializer)
	Revive Revive[T]

	// Sink receives the revived items. A sink.Batcher gets the whole
	// batch; any other sink gets the items one by one.
	Sink sink.Sink[T]

	// Metrics is optional.
	Metrics *metrics.Collector
}

// Bridge serves proxy requests in the process that owns the store sink.
type Bridge[T any] struct {
	cfg    BridgeConfig[T]
	logger *slog.Logger

	mu  sync.Mutex
	sub Subscription
}

// NewBridge creates a bridge. Call Start to begin listening.
func NewBridge[T any](cfg BridgeConfig[T]) (*Bridge[T], error) {
	if cfg.Conn == nil {
		return nil, errors.New("bridge requires a broker connection")
	}
	if cfg.Sink == nil {
		return nil, errors.New("bridge requires a sink")
	}
	if cfg.Subject == "" {
		cfg.Subject = config.DefaultBrokerSubject
	}
	if cfg.Queue == "" {
		cfg.Queue = config.DefaultBrokerQueue
	}
	if cfg.Serializer == nil {
		cfg.Serializer = codec.JSON
	}
	if cfg.Revive == nil {
		cfg.Revive = Decode[T](cfg.Serializer)
	}

	return &Bridge[T]{
		cfg:    cfg,
		logger: slog.Default().With("component", "apm.broker.bridge", "subject", cfg.Subject),
	}, nil
}

// Start subscribes to the subject. Starting a started bridge is a no-op.
func (b *Bridge[T]) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sub != nil {
		return nil
	}
	sub, err := b.cfg.Conn.QueueSubscribe(b.cfg.Subject, b.cfg.Queue, b.Handle)
	if err != nil {
		return err
	}
	b.sub = sub
	b.logger.Info("bridge listening", "queue", b.cfg.Queue)
	return nil
}

// Stop unsubscribes. Requests in flight are still answered.
func (b *Bridge[T]) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sub == nil {
		return nil
	}
	err := b.sub.Unsubscribe()
	b.sub = nil
	b.logger.Info("bridge stopped")
	return err
}

// Handle serves one request: it revives the payload, feeds the sink and
// returns the encoded Ack.
func (b *Bridge[T]) Handle(ctx context.Context, data []byte) []byte {
	start := time.Now()

	items, err := b.cfg.Revive(ctx, data)
	if err == nil && len(items) > 0 {
		if batcher, ok := b.cfg.Sink.(sink.Batcher[T]); ok {
			err = batcher.Ingest(ctx, items)
		} else {
			for _, item := range items {
				b.cfg.Sink.Accept(item)
			}
		}
	}

	ack := Ack{OK: len(items)}
	result := metrics.ResultOK
	if err != nil {
		ack.Err = err.Error()
		result = metrics.ResultError
		b.logger.Warn("batch handling failed", "count", len(items), "error", err)
	}
	b.cfg.Metrics.RecordBrokerRequest(metrics.RoleBridge, result, time.Since(start))

	reply, err := b.cfg.Serializer.Marshal(ack)
	if err != nil {
		b.logger.Error("ack encoding failed", "error", err)
		return nil
	}
	return reply
}
