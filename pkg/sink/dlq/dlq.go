// Package dlq implements the local dead-letter queue: a directory of files,
// each holding one serialized batch of Transactions that could not be
// written to the primary store.
package dlq

import (
	"context"
	"errors"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/nextcodebr/nxcd-apm/pkg/codec"
	"github.com/nextcodebr/nxcd-apm/pkg/transaction"
)

const tmpSuffix = ".tmp"

// Config configures a DLQ.
type Config struct {
	// Base is the root directory. Defaults to <tmp>/nxcd-apm/dlq.
	Base string
	// Prefix is an optional subdirectory, used to give each worker its
	// own namespace.
	Prefix string
	// Serializer encodes batches. Defaults to codec.JSON.
	Serializer codec.Serializer
}

// Entry is one spooled batch.
type Entry struct {
	File         string
	Transactions []*transaction.Transaction
}

// DLQ is a directory-backed dead-letter queue. It is safe for concurrent
// use; files are written under a temporary name and renamed into place, so
// List never observes a partial batch.
type DLQ struct {
	dir        string
	serializer codec.Serializer
}

// New creates the queue directory if needed.
func New(cfg Config) (*DLQ, error) {
	base := cfg.Base
	if base == "" {
		base = filepath.Join(os.TempDir(), "nxcd-apm", "dlq")
	}
	dir := base
	if cfg.Prefix != "" {
		dir = filepath.Join(base, cfg.Prefix)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, newError("init", dir, err)
	}

	s := cfg.Serializer
	if s == nil {
		s = codec.JSON
	}
	return &DLQ{dir: dir, serializer: s}, nil
}

// Dir returns the directory holding the entries.
func (q *DLQ) Dir() string {
	return q.dir
}

// Accept writes txns as a new entry. An empty batch writes nothing.
func (q *DLQ) Accept(txns ...*transaction.Transaction) error {
	if len(txns) == 0 {
		return nil
	}

	target := filepath.Join(q.dir, uuid.NewString())
	data, err := q.serializer.Marshal(txns)
	if err != nil {
		return newError("write", target, err)
	}

	tmp := target + tmpSuffix
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return newError("write", target, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return newError("write", target, err)
	}
	return nil
}

// List yields every entry currently in the queue. An entry that cannot be
// read or decoded is yielded with its path and a non-nil error; iteration
// continues unless the consumer stops it.
func (q *DLQ) List(ctx context.Context) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		files, err := q.files()
		if err != nil {
			yield(Entry{File: q.dir}, err)
			return
		}

		for _, file := range files {
			if ctx.Err() != nil {
				yield(Entry{File: file}, ctx.Err())
				return
			}

			data, err := os.ReadFile(file)
			if errors.Is(err, fs.ErrNotExist) {
				// Pruned by another reader since the directory was listed.
				continue
			}
			if err != nil {
				if !yield(Entry{File: file}, newError("read", file, err)) {
					return
				}
				continue
			}

			var txns []*transaction.Transaction
			if err := q.serializer.Unmarshal(data, &txns); err != nil {
				if !yield(Entry{File: file}, newError("decode", file, err)) {
					return
				}
				continue
			}
			if !yield(Entry{File: file, Transactions: txns}, nil) {
				return
			}
		}
	}
}

// Len returns the number of entries in the queue.
func (q *DLQ) Len() (int, error) {
	files, err := q.files()
	return len(files), err
}

// Prune deletes the given entry files. Files already gone are ignored.
func (q *DLQ) Prune(files ...string) error {
	var errs []error
	for _, file := range files {
		if err := os.Remove(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, newError("prune", file, err))
		}
	}
	return errors.Join(errs...)
}

func (q *DLQ) files() ([]string, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, newError("read", q.dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), tmpSuffix) {
			continue
		}
		files = append(files, filepath.Join(q.dir, e.Name()))
	}
	return files, nil
}
