package blob

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores blobs as base64 strings, optionally expiring after TTL.
// Writing an existing blob refreshes its TTL.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedis wraps a client. A zero ttl keeps blobs forever.
func NewRedis(client redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (s *Redis) key(hash string) string {
	return s.prefix + hash
}

// Accept writes every blob in one pipeline.
func (s *Redis) Accept(ctx context.Context, blobs map[string][]byte) ([]string, error) {
	keys := sortedKeys(blobs)
	if len(keys) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.StatusCmd, len(keys))
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, hash := range keys {
			cmds[i] = p.Set(ctx, s.key(hash), base64.StdEncoding.EncodeToString(blobs[hash]), s.ttl)
		}
		return nil
	})

	var stored []string
	var errs []error
	for i, hash := range keys {
		if cmds[i] == nil {
			continue
		}
		if cerr := cmds[i].Err(); cerr != nil {
			errs = append(errs, &Error{Backend: "redis", Hash: hash, Cause: cerr})
			continue
		}
		stored = append(stored, hash)
	}
	if len(errs) == 0 && err != nil {
		errs = append(errs, &Error{Backend: "redis", Cause: err})
	}
	return stored, errors.Join(errs...)
}

// Fetch implements Store.
func (s *Redis) Fetch(ctx context.Context, hash string) ([]byte, error) {
	encoded, err := s.client.Get(ctx, s.key(hash)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, &Error{Backend: "redis", Hash: hash, Cause: ErrNotFound}
	}
	if err != nil {
		return nil, &Error{Backend: "redis", Hash: hash, Cause: err}
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &Error{Backend: "redis", Hash: hash, Cause: err}
	}
	return data, nil
}
