package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const natsPingTimeout = 5 * time.Second

// NATS is a Conn backed by a NATS server.
type NATS struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// ConnectNATS connects to the server at url. The connection reconnects
// forever; requests fail while it is down.
func ConnectNATS(url, name string, opts ...nats.Option) (*NATS, error) {
	logger := slog.Default().With("component", "apm.broker.nats")

	base := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from broker", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to broker", "url", nc.ConnectedUrlRedacted())
		}),
	}

	nc, err := nats.Connect(url, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	logger.Info("connected to broker", "url", nc.ConnectedUrlRedacted(), "name", name)

	return &NATS{nc: nc, logger: logger}, nil
}

// Request implements Conn.
func (n *NATS) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	msg, err := n.nc.RequestWithContext(ctx, subject, data)
	switch {
	case errors.Is(err, nats.ErrNoResponders):
		return nil, ErrNoResponders
	case errors.Is(err, nats.ErrConnectionClosed):
		return nil, ErrClosed
	case err != nil:
		return nil, err
	}
	return msg.Data, nil
}

// QueueSubscribe implements Conn. Messages without a reply subject are
// ignored.
func (n *NATS) QueueSubscribe(subject, queue string, handler Handler) (Subscription, error) {
	sub, err := n.nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(handler(context.Background(), msg.Data)); err != nil {
			n.logger.Warn("reply failed", "subject", subject, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %q: %w", subject, err)
	}
	return sub, nil
}

// Ping implements Conn with a server round trip.
func (n *NATS) Ping(ctx context.Context) error {
	if n.nc.IsClosed() {
		return ErrClosed
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, natsPingTimeout)
		defer cancel()
	}
	return n.nc.FlushWithContext(ctx)
}

// Close drains subscriptions and closes the connection.
func (n *NATS) Close() error {
	if n.nc.IsClosed() {
		return nil
	}
	return n.nc.Drain()
}
