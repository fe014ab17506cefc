package blob

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLite stores blobs in a table of the primary database. The driver is
// whichever one opened db.
type SQLite struct {
	db    *sql.DB
	table string
}

// NewSQLite creates the blob table if needed.
func NewSQLite(ctx context.Context, db *sql.DB, table string) (*SQLite, error) {
	if table == "" {
		table = "blobs"
	}
	if !tableName.MatchString(table) {
		return nil, &Error{Backend: "sqlite", Cause: fmt.Errorf("invalid table name %q", table)}
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    key TEXT PRIMARY KEY,
    buffer BLOB NOT NULL
)`, table)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, &Error{Backend: "sqlite", Cause: err}
	}
	return &SQLite{db: db, table: table}, nil
}

// Accept queries which hashes are already present and inserts the rest in
// a single transaction.
func (s *SQLite) Accept(ctx context.Context, blobs map[string][]byte) ([]string, error) {
	keys := sortedKeys(blobs)
	if len(keys) == 0 {
		return nil, nil
	}

	existing, err := s.existing(ctx, keys)
	if err != nil {
		return nil, &Error{Backend: "sqlite", Cause: err}
	}

	stored := make([]string, 0, len(keys))
	var missing []string
	for _, k := range keys {
		if existing[k] {
			stored = append(stored, k)
		} else {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return stored, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stored, &Error{Backend: "sqlite", Cause: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT OR IGNORE INTO %s (key, buffer) VALUES (?, ?)", s.table))
	if err != nil {
		return stored, &Error{Backend: "sqlite", Cause: err}
	}
	defer stmt.Close()

	for _, k := range missing {
		if _, err := stmt.ExecContext(ctx, k, blobs[k]); err != nil {
			return stored, &Error{Backend: "sqlite", Hash: k, Cause: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return stored, &Error{Backend: "sqlite", Cause: err}
	}
	return append(stored, missing...), nil
}

func (s *SQLite) existing(ctx context.Context, keys []string) (map[string]bool, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT key FROM %s WHERE key IN (%s)", s.table, placeholders), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make(map[string]bool, len(keys))
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		found[k] = true
	}
	return found, rows.Err()
}

// Fetch implements Store.
func (s *SQLite) Fetch(ctx context.Context, hash string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT buffer FROM %s WHERE key = ?", s.table), hash).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &Error{Backend: "sqlite", Hash: hash, Cause: ErrNotFound}
	}
	if err != nil {
		return nil, &Error{Backend: "sqlite", Hash: hash, Cause: err}
	}
	return data, nil
}
