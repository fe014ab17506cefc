package primary

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/nextcodebr/nxcd-apm/pkg/blob"
	"github.com/nextcodebr/nxcd-apm/pkg/config"
	"github.com/nextcodebr/nxcd-apm/pkg/docstore"
)

// BlobResolver returns the blob store a worker writes externalized payloads
// to. It receives the worker's current store connection so that blobs can
// live in the same database.
type BlobResolver func(ctx context.Context, store docstore.Store) (blob.Store, error)

// StoreBlobs resolves to the blob collection of the primary store itself.
func StoreBlobs(ctx context.Context, store docstore.Store) (blob.Store, error) {
	bp, ok := store.(docstore.BlobProvider)
	if !ok {
		return nil, fmt.Errorf("store %T does not keep blobs", store)
	}
	return bp.Blobs(ctx)
}

// FixedBlobs resolves to bs regardless of the store connection.
func FixedBlobs(bs blob.Store) BlobResolver {
	return func(context.Context, docstore.Store) (blob.Store, error) {
		return bs, nil
	}
}

// lazyBlobs opens a blob store on first use and shares it afterwards. A
// failed open is retried on the next call.
func lazyBlobs(open func(ctx context.Context) (blob.Store, error)) BlobResolver {
	var (
		mu sync.Mutex
		bs blob.Store
	)
	return func(ctx context.Context, _ docstore.Store) (blob.Store, error) {
		mu.Lock()
		defer mu.Unlock()
		if bs != nil {
			return bs, nil
		}
		opened, err := open(ctx)
		if err != nil {
			return nil, err
		}
		bs = opened
		return bs, nil
	}
}

// NewBlobResolver builds the resolver for the configured deflate target.
// It returns nil when externalization is disabled.
func NewBlobResolver(cfg config.DeflateConfig) (BlobResolver, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Target {
	case "", "store":
		return StoreBlobs, nil

	case "filesystem":
		fs, err := blob.NewFS(cfg.Filesystem.Path)
		if err != nil {
			return nil, err
		}
		return FixedBlobs(fs), nil

	case "objectstore":
		osCfg := blob.ObjectStoreConfig{
			Endpoint:  cfg.ObjectStore.Endpoint,
			AccessKey: cfg.ObjectStore.AccessKey,
			SecretKey: cfg.ObjectStore.SecretKey,
			Bucket:    cfg.ObjectStore.Bucket,
			Prefix:    cfg.ObjectStore.Prefix,
			Secure:    cfg.ObjectStore.Secure,
		}
		return lazyBlobs(func(ctx context.Context) (blob.Store, error) {
			return blob.NewObjectStore(ctx, osCfg)
		}), nil

	case "redis":
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return FixedBlobs(blob.NewRedis(client, cfg.Redis.Prefix, cfg.Redis.TTL)), nil

	default:
		return nil, fmt.Errorf("unknown deflate target: %q", cfg.Target)
	}
}
