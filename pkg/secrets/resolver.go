package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
)

var refPattern = regexp.MustCompile(`\$\{secret:([^}]+)\}`)

// Resolver tries its providers in order.
type Resolver struct {
	providers []Provider
	logger    *slog.Logger
}

// NewResolver creates a resolver over providers, first match wins.
func NewResolver(providers ...Provider) *Resolver {
	return &Resolver{
		providers: providers,
		logger:    slog.Default().With("component", "apm.secrets"),
	}
}

// Get returns the value of the first provider that has the secret.
func (r *Resolver) Get(ctx context.Context, name string) (string, error) {
	for _, p := range r.providers {
		value, err := p.Get(ctx, name)
		if err == nil {
			r.logger.Debug("secret resolved", "name", redact(name), "provider", p.Name())
			return value, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("secret %q from %s: %w", name, p.Name(), err)
		}
	}
	return "", fmt.Errorf("%w: %q", ErrNotFound, name)
}

// HasRefs reports whether s contains a ${secret:name} reference.
func HasRefs(s string) bool {
	return refPattern.MatchString(s)
}

// Expand replaces every ${secret:name} in s. The first failure is
// returned and s is left unchanged.
func (r *Resolver) Expand(ctx context.Context, s string) (string, error) {
	var firstErr error
	out := refPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		name := refPattern.FindStringSubmatch(match)[1]
		value, err := r.Get(ctx, name)
		if err != nil {
			firstErr = err
			return match
		}
		return value
	})
	if firstErr != nil {
		return s, firstErr
	}
	return out, nil
}

// redact keeps the first and last two characters of a secret name.
func redact(name string) string {
	if len(name) <= 4 {
		return "***"
	}
	return name[:2] + "..." + name[len(name)-2:]
}
