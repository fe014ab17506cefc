package broker

import (
	"context"

	"github.com/nextcodebr/nxcd-apm/pkg/codec"
	"github.com/nextcodebr/nxcd-apm/pkg/deflate"
	"github.com/nextcodebr/nxcd-apm/pkg/transaction"
)

// Ack is the bridge reply to a batch. OK counts the items received; Err
// is set when reviving or ingesting them failed. Items ingested before a
// failure are not rolled back.
type Ack struct {
	OK  int    `json:"ok"`
	Err string `json:"err,omitempty"`
}

// Envelope carries a deflated batch together with the blobs its handles
// point to.
type Envelope[T any] struct {
	Items []T               `json:"items"`
	Blobs map[string][]byte `json:"blobs,omitempty"`
}

// DeflateEnvelope returns a proxy transform that externalizes binary
// payloads of a Transaction batch into an Envelope.
func DeflateEnvelope(handleKey string, embedLimit int) Transform[*transaction.Transaction] {
	return func(_ context.Context, batch []*transaction.Transaction) (any, error) {
		trap := make(map[string][]byte)
		items := deflate.Transactions(batch, handleKey, trap, embedLimit)
		return Envelope[*transaction.Transaction]{Items: items, Blobs: trap}, nil
	}
}

// InflateEnvelope returns a bridge revive function that decodes an
// Envelope and resolves its handles from the shipped blobs. Handles with
// no matching blob are kept.
func InflateEnvelope(s codec.Serializer, handleKey string) Revive[*transaction.Transaction] {
	return func(ctx context.Context, data []byte) ([]*transaction.Transaction, error) {
		var env Envelope[*transaction.Transaction]
		if err := s.Unmarshal(data, &env); err != nil {
			return nil, err
		}
		return deflate.InflateTransactions(ctx, env.Items, handleKey, env.Blobs, nil)
	}
}

// Decode returns the default revive function: the payload is the encoded
// batch itself.
func Decode[T any](s codec.Serializer) Revive[T] {
	return func(_ context.Context, data []byte) ([]T, error) {
		var items []T
		if err := s.Unmarshal(data, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
}
