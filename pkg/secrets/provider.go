// Package secrets resolves ${secret:name} references in configuration
// values from environment variables or a directory of secret files, so
// that store and broker credentials stay out of the YAML file.
package secrets

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no provider holds a secret.
var ErrNotFound = errors.New("secret not found")

// Provider retrieves secrets from one backend.
type Provider interface {
	// Get returns the secret value or an error wrapping ErrNotFound.
	Get(ctx context.Context, name string) (string, error)

	// Name identifies the backend in logs ("env", "file").
	Name() string
}
