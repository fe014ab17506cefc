package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStoreConfig addresses an S3-compatible bucket.
type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Secure    bool
}

// ObjectStore stores each blob as an object named <prefix>/<hash>.
type ObjectStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewObjectStore connects to the endpoint and creates the bucket when it
// does not exist.
func NewObjectStore(ctx context.Context, cfg ObjectStoreConfig) (*ObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, &Error{Backend: "objectstore", Cause: err}
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, &Error{Backend: "objectstore", Cause: err}
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, &Error{Backend: "objectstore", Cause: err}
		}
	}
	return &ObjectStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *ObjectStore) object(hash string) string {
	if s.prefix == "" {
		return hash
	}
	return path.Join(s.prefix, hash)
}

// Accept stats each object before uploading it.
func (s *ObjectStore) Accept(ctx context.Context, blobs map[string][]byte) ([]string, error) {
	var stored []string
	var errs []error
	for _, hash := range sortedKeys(blobs) {
		name := s.object(hash)

		_, err := s.client.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{})
		if err == nil {
			stored = append(stored, hash)
			continue
		}
		if minio.ToErrorResponse(err).Code != "NoSuchKey" {
			errs = append(errs, &Error{Backend: "objectstore", Hash: hash, Cause: err})
			continue
		}

		data := blobs[hash]
		_, err = s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: "application/octet-stream"})
		if err != nil {
			errs = append(errs, &Error{Backend: "objectstore", Hash: hash, Cause: err})
			continue
		}
		stored = append(stored, hash)
	}
	return stored, errors.Join(errs...)
}

// Fetch implements Store.
func (s *ObjectStore) Fetch(ctx context.Context, hash string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.object(hash), minio.GetObjectOptions{})
	if err != nil {
		return nil, &Error{Backend: "objectstore", Hash: hash, Cause: err}
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, &Error{Backend: "objectstore", Hash: hash, Cause: ErrNotFound}
		}
		return nil, &Error{Backend: "objectstore", Hash: hash, Cause: err}
	}
	return data, nil
}
