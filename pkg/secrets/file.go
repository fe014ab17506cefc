package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Dir reads secrets from one file per secret, as mounted by container
// orchestrators. Surrounding whitespace is trimmed from the value.
type Dir struct {
	path string
}

// NewDir creates a directory provider. The directory must exist.
func NewDir(path string) (*Dir, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat secrets directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("secrets path is not a directory: %s", path)
	}
	return &Dir{path: path}, nil
}

// Get implements Provider. Names containing a path separator are
// rejected, and so are files writable by group or others.
func (p *Dir) Get(ctx context.Context, name string) (string, error) {
	if name == "" || filepath.Base(name) != name || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid secret name %q", name)
	}

	path := filepath.Join(p.path, name)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s (file: %s)", ErrNotFound, name, path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to stat secret file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("secret path is not a regular file: %s", name)
	}
	if perm := info.Mode().Perm(); perm&0o022 != 0 {
		return "", fmt.Errorf("insecure permissions on %s: %o", path, perm)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Name implements Provider.
func (p *Dir) Name() string {
	return "file"
}
