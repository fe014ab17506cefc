package docstore

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/nextcodebr/nxcd-apm/pkg/blob"
	"github.com/nextcodebr/nxcd-apm/pkg/transaction"
)

// Mongo inserts each batch into a collection with a single InsertMany.
type Mongo struct {
	client   *mongo.Client
	coll     *mongo.Collection
	blobColl string
}

// OpenMongo connects with a single-connection pool and short timeouts, so
// an unreachable server fails a flush quickly and the batch goes to the
// dead-letter queue.
func OpenMongo(ctx context.Context, cfg Config) (*Mongo, error) {
	opts := options.Client().
		ApplyURI(cfg.URL).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.OperationTimeout).
		SetSocketTimeout(cfg.OperationTimeout).
		SetMinPoolSize(1).
		SetMaxPoolSize(1)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, newError("mongo", "connect", err)
	}

	db := client.Database(cfg.Database)
	return &Mongo{
		client:   client,
		coll:     db.Collection(cfg.Collection),
		blobColl: cfg.BlobCollection,
	}, nil
}

// InsertMany implements Store.
func (m *Mongo) InsertMany(ctx context.Context, batch []*transaction.Transaction) error {
	if len(batch) == 0 {
		return nil
	}
	docs := make([]any, len(batch))
	for i, txn := range batch {
		docs[i] = txn
	}
	if _, err := m.coll.InsertMany(ctx, docs); err != nil {
		return newError("mongo", "insert", err)
	}
	return nil
}

// Blobs returns a blob store backed by a collection of the same database.
func (m *Mongo) Blobs(ctx context.Context) (blob.Store, error) {
	return blob.NewMongo(m.coll.Database().Collection(m.blobColl)), nil
}

// Ping implements Store.
func (m *Mongo) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return newError("mongo", "ping", err)
	}
	return nil
}

// Close implements Store.
func (m *Mongo) Close(ctx context.Context) error {
	if err := m.client.Disconnect(ctx); err != nil {
		return newError("mongo", "close", err)
	}
	return nil
}
