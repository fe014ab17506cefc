package deflate

import (
	"context"

	"github.com/nextcodebr/nxcd-apm/pkg/blob"
	"github.com/nextcodebr/nxcd-apm/pkg/transaction"
)

// Transactions deflates the payload fields (input, output, error and
// transitions) of every Transaction in batch into copies. The batch itself
// is left untouched so it can still be spooled verbatim on failure.
func Transactions(batch []*transaction.Transaction, handleKey string, trap map[string][]byte, embedLimit int) []*transaction.Transaction {
	return mapBatch(batch, func(v any) any {
		return Deflate(v, handleKey, trap, embedLimit)
	})
}

// EmbedTransactions puts the bytes of blobs back into a deflated batch, in
// place. It is the degraded path for blobs the store could not take.
func EmbedTransactions(batch []*transaction.Transaction, handleKey string, blobs map[string][]byte) {
	for _, txn := range batch {
		apply(txn, func(v any) any { return Embed(v, handleKey, blobs) })
	}
}

// InflateTransactions resolves handles in the payload fields of batch into
// copies, preferring trap over source.
func InflateTransactions(ctx context.Context, batch []*transaction.Transaction, handleKey string, trap map[string][]byte, source blob.Store) ([]*transaction.Transaction, error) {
	var firstErr error
	out := mapBatch(batch, func(v any) any {
		if firstErr != nil {
			return v
		}
		d, err := Inflate(ctx, v, handleKey, trap, source)
		if err != nil {
			firstErr = err
			return v
		}
		return d
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func mapBatch(batch []*transaction.Transaction, fn func(any) any) []*transaction.Transaction {
	out := make([]*transaction.Transaction, len(batch))
	for i, txn := range batch {
		cp := txn.Copy()
		apply(cp, fn)
		out[i] = cp
	}
	return out
}

func apply(txn *transaction.Transaction, fn func(any) any) {
	txn.Input = fn(txn.Input)
	txn.Output = fn(txn.Output)
	txn.Error = fn(txn.Error)

	if len(txn.Transitions) == 0 {
		return
	}
	transitions := make([]transaction.Transition, len(txn.Transitions))
	for i, tr := range txn.Transitions {
		next := make(transaction.Transition, len(tr))
		for field, change := range tr {
			next[field] = transaction.FieldChange{
				Before: fn(change.Before),
				After:  fn(change.After),
			}
		}
		transitions[i] = next
	}
	txn.Transitions = transitions
}
