package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Env reads secrets from environment variables. The secret
// "store-password" is read from <Prefix>STORE_PASSWORD.
type Env struct {
	Prefix string
}

// NewEnv creates an environment provider.
func NewEnv(prefix string) *Env {
	return &Env{Prefix: prefix}
}

// Get implements Provider.
func (p *Env) Get(ctx context.Context, name string) (string, error) {
	envVar := p.envVar(name)
	value, ok := os.LookupEnv(envVar)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s (env var: %s)", ErrNotFound, name, envVar)
	}
	return value, nil
}

// Name implements Provider.
func (p *Env) Name() string {
	return "env"
}

func (p *Env) envVar(name string) string {
	return p.Prefix + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}
