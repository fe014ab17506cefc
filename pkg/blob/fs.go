package blob

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// FS stores each blob as a file named by its hash.
type FS struct {
	dir string
}

// NewFS creates dir if needed.
func NewFS(dir string) (*FS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &Error{Backend: "fs", Cause: err}
	}
	return &FS{dir: dir}, nil
}

// Dir returns the blob directory.
func (s *FS) Dir() string {
	return s.dir
}

// Accept writes blobs whose file does not exist yet. Each file is written
// under a temporary name and renamed into place.
func (s *FS) Accept(ctx context.Context, blobs map[string][]byte) ([]string, error) {
	var stored []string
	var errs []error
	for _, hash := range sortedKeys(blobs) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.write(hash, blobs[hash]); err != nil {
			errs = append(errs, &Error{Backend: "fs", Hash: hash, Cause: err})
			continue
		}
		stored = append(stored, hash)
	}
	return stored, errors.Join(errs...)
}

func (s *FS) write(hash string, data []byte) error {
	target := filepath.Join(s.dir, hash)
	if _, err := os.Stat(target); err == nil {
		return nil
	}

	tmp, err := os.CreateTemp(s.dir, hash+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// Fetch implements Store.
func (s *FS) Fetch(ctx context.Context, hash string) ([]byte, error) {
	if filepath.Base(hash) != hash {
		return nil, &Error{Backend: "fs", Hash: hash, Cause: ErrNotFound}
	}
	data, err := os.ReadFile(filepath.Join(s.dir, hash))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &Error{Backend: "fs", Hash: hash, Cause: ErrNotFound}
	}
	if err != nil {
		return nil, &Error{Backend: "fs", Hash: hash, Cause: err}
	}
	return data, nil
}
