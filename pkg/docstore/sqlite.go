package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver "sqlite3" (cgo)
	_ "modernc.org/sqlite"          // SQLite driver "sqlite" (pure Go)

	"github.com/nextcodebr/nxcd-apm/pkg/blob"
	"github.com/nextcodebr/nxcd-apm/pkg/codec"
	"github.com/nextcodebr/nxcd-apm/pkg/transaction"
)

// Driver is a database/sql SQLite driver name.
type Driver string

const (
	// DriverCGO is github.com/mattn/go-sqlite3.
	DriverCGO Driver = "sqlite3"
	// DriverPure is modernc.org/sqlite.
	DriverPure Driver = "sqlite"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS %[1]s (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    req_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    module TEXT NOT NULL,
    type TEXT NOT NULL,
    method TEXT NOT NULL,
    status TEXT,
    started TEXT,
    finished TEXT,
    took INTEGER,
    document TEXT NOT NULL,
    recorded_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_req ON %[1]s(req_id, seq);
CREATE INDEX IF NOT EXISTS idx_%[1]s_started ON %[1]s(started);
`

// SQLiteConfig configures a SQLite store.
type SQLiteConfig struct {
	// Driver selects the database/sql driver. Default: DriverCGO.
	Driver Driver

	// Path is the database file path. Default: data/apm.db
	Path string

	// Table receives Transactions. Default: transactions
	Table string

	// BlobTable receives externalized blobs. Default: blobs
	BlobTable string

	// BusyTimeout is how long to wait on a locked database.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// SQLite stores each Transaction as a row with its JSON document and a few
// indexed columns.
type SQLite struct {
	db     *sql.DB
	config SQLiteConfig
	logger *slog.Logger

	mu    sync.Mutex
	blobs *blob.SQLite
}

// OpenSQLite opens the database, creating the file, its directory and the
// schema as needed.
func OpenSQLite(ctx context.Context, cfg SQLiteConfig) (*SQLite, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverCGO
	}
	if cfg.Path == "" {
		cfg.Path = "data/apm.db"
	}
	if cfg.Table == "" {
		cfg.Table = "transactions"
	}
	if cfg.BlobTable == "" {
		cfg.BlobTable = "blobs"
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	backend := "sqlite"
	if cfg.Driver == DriverPure {
		backend = "sqlite-pure"
	}
	if !identifier.MatchString(cfg.Table) {
		return nil, newError(backend, "open", fmt.Errorf("invalid table name %q", cfg.Table))
	}
	logger := slog.Default().With("component", "apm.docstore."+backend)

	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, newError(backend, "open", err)
		}
	}

	db, err := sql.Open(string(cfg.Driver), cfg.Path)
	if err != nil {
		return nil, newError(backend, "open", err)
	}
	// One connection per store, so ":memory:" databases stay consistent.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db, config: cfg, logger: logger}
	if err := s.initialize(ctx, backend); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("SQLite store opened", "path", cfg.Path, "table", cfg.Table)
	return s, nil
}

func (s *SQLite) initialize(ctx context.Context, backend string) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", s.config.BusyTimeout.Milliseconds())); err != nil {
		return newError(backend, "set_busy_timeout", err)
	}
	if s.config.Path != ":memory:" {
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return newError(backend, "enable_wal", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(sqliteSchema, s.config.Table)); err != nil {
		return newError(backend, "create_schema", err)
	}
	return nil
}

func (s *SQLite) backend() string {
	if s.config.Driver == DriverPure {
		return "sqlite-pure"
	}
	return "sqlite"
}

// DB returns the underlying database handle.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// InsertMany writes the batch in one database transaction.
func (s *SQLite) InsertMany(ctx context.Context, batch []*transaction.Transaction) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return newError(s.backend(), "begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s
    (req_id, seq, module, type, method, status, started, finished, took, document, recorded_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.config.Table))
	if err != nil {
		return newError(s.backend(), "prepare", err)
	}
	defer stmt.Close()

	recorded := time.Now().UTC().Format(time.RFC3339Nano)
	for _, txn := range batch {
		doc, err := codec.JSON.Marshal(txn)
		if err != nil {
			return newError(s.backend(), "marshal", err)
		}
		var took any
		if txn.Took != nil {
			took = *txn.Took
		}
		_, err = stmt.ExecContext(ctx,
			txn.ReqID, txn.Seq, txn.Module, txn.Type, txn.Method, string(txn.Status),
			formatTime(txn.Started), formatTime(txn.Finished), took,
			string(doc), recorded,
		)
		if err != nil {
			return newError(s.backend(), "insert", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return newError(s.backend(), "commit", err)
	}
	return nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// Count returns the number of stored Transactions.
func (s *SQLite) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.config.Table)).Scan(&n); err != nil {
		return 0, newError(s.backend(), "count", err)
	}
	return n, nil
}

// ByReqID returns the Transactions of one chain ordered by seq.
func (s *SQLite) ByReqID(ctx context.Context, reqID string) ([]*transaction.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT document FROM %s WHERE req_id = ? ORDER BY seq, id", s.config.Table), reqID)
	if err != nil {
		return nil, newError(s.backend(), "query", err)
	}
	defer rows.Close()

	var out []*transaction.Transaction
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, newError(s.backend(), "scan", err)
		}
		txn := &transaction.Transaction{}
		if err := codec.JSON.Unmarshal([]byte(doc), txn); err != nil {
			return nil, newError(s.backend(), "unmarshal", err)
		}
		out = append(out, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, newError(s.backend(), "query", err)
	}
	return out, nil
}

// Blobs returns a blob store backed by a table of this database.
func (s *SQLite) Blobs(ctx context.Context) (blob.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.blobs == nil {
		b, err := blob.NewSQLite(ctx, s.db, s.config.BlobTable)
		if err != nil {
			return nil, err
		}
		s.blobs = b
	}
	return s.blobs, nil
}

// Ping implements Store.
func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return newError(s.backend(), "ping", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLite) Close(ctx context.Context) error {
	if err := s.db.Close(); err != nil {
		return newError(s.backend(), "close", err)
	}
	return nil
}
