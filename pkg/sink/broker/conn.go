package broker

import (
	"context"
	"fmt"

	"github.com/nextcodebr/nxcd-apm/pkg/config"
)

// Handler serves one request and returns the reply payload.
type Handler func(ctx context.Context, data []byte) []byte

// Subscription is an active queue-group listener.
type Subscription interface {
	Unsubscribe() error
}

// Conn is a request/reply message broker connection.
type Conn interface {
	// Request sends data to subject and waits for one reply. The wait is
	// bounded by ctx.
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)

	// QueueSubscribe serves requests on subject. Listeners sharing a queue
	// name split the requests between them.
	QueueSubscribe(subject, queue string, handler Handler) (Subscription, error)

	// Ping checks the connection is usable.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close() error
}

// Dial opens the connection selected by cfg.Transport.
func Dial(cfg config.BrokerConfig) (Conn, error) {
	switch cfg.Transport {
	case "", "nats":
		return ConnectNATS(cfg.URL, cfg.Name)
	case "local":
		return NewLocal(), nil
	default:
		return nil, fmt.Errorf("unknown broker transport: %q", cfg.Transport)
	}
}
