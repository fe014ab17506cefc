package docstore

import (
	"context"
	"fmt"
	"time"

	"github.com/nextcodebr/nxcd-apm/pkg/blob"
	"github.com/nextcodebr/nxcd-apm/pkg/transaction"
)

// Store persists batches of Transactions.
type Store interface {
	// InsertMany writes the batch as one operation. Either every
	// Transaction is written or an error is returned.
	InsertMany(ctx context.Context, batch []*transaction.Transaction) error
	// Ping checks the store is reachable.
	Ping(ctx context.Context) error
	// Close releases the connection.
	Close(ctx context.Context) error
}

// BlobProvider is implemented by stores that keep externalized blobs in
// the same database.
type BlobProvider interface {
	Blobs(ctx context.Context) (blob.Store, error)
}

// Connector opens a new Store connection.
type Connector func(ctx context.Context) (Store, error)

// Config selects and addresses a backend.
type Config struct {
	// Backend is "sqlite", "sqlite-pure", "mongo" or "memory".
	Backend string
	// URL is the SQLite file path or the MongoDB connection string.
	URL string
	// Database is the MongoDB database name.
	Database string
	// Collection is the table or collection Transactions go to.
	Collection string
	// BlobCollection is the table or collection blobs go to.
	BlobCollection string
	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration
	// OperationTimeout bounds server selection and socket operations.
	OperationTimeout time.Duration
}

// NewConnector returns a Connector for cfg. The memory backend returns the
// same shared Memory store on every call.
func NewConnector(cfg Config) (Connector, error) {
	if cfg.Collection == "" {
		cfg.Collection = "transactions"
	}
	if cfg.BlobCollection == "" {
		cfg.BlobCollection = "blobs"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = time.Second
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = 5 * time.Second
	}

	switch cfg.Backend {
	case "", "sqlite":
		return func(ctx context.Context) (Store, error) {
			return OpenSQLite(ctx, SQLiteConfig{Driver: DriverCGO, Path: cfg.URL, Table: cfg.Collection, BlobTable: cfg.BlobCollection, BusyTimeout: cfg.OperationTimeout})
		}, nil
	case "sqlite-pure":
		return func(ctx context.Context) (Store, error) {
			return OpenSQLite(ctx, SQLiteConfig{Driver: DriverPure, Path: cfg.URL, Table: cfg.Collection, BlobTable: cfg.BlobCollection, BusyTimeout: cfg.OperationTimeout})
		}, nil
	case "mongo":
		return func(ctx context.Context) (Store, error) {
			return OpenMongo(ctx, cfg)
		}, nil
	case "memory":
		mem := NewMemory()
		return func(ctx context.Context) (Store, error) {
			return mem, nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown store backend: %q", cfg.Backend)
	}
}

// Error is a failure of a store operation.
type Error struct {
	Backend   string
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("store error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(backend, op string, cause error) *Error {
	return &Error{Backend: backend, Operation: op, Cause: cause}
}
