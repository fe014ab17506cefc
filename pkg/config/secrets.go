package config

import (
	"context"

	"github.com/nextcodebr/nxcd-apm/pkg/secrets"
)

// credentialFields lists the values that may carry ${secret:name}
// references, keyed by their YAML path.
func credentialFields(cfg *Config) map[string]*string {
	return map[string]*string{
		"store.url":                      &cfg.Store.URL,
		"broker.url":                     &cfg.Broker.URL,
		"deflate.objectstore.access_key": &cfg.Deflate.ObjectStore.AccessKey,
		"deflate.objectstore.secret_key": &cfg.Deflate.ObjectStore.SecretKey,
		"deflate.redis.password":         &cfg.Deflate.Redis.Password,
	}
}

// ResolveSecrets expands ${secret:name} references in the credential
// fields, looking in Secrets.Dir first and then in the environment. Every
// unresolved field is reported; resolved fields are updated in place.
func ResolveSecrets(ctx context.Context, cfg *Config) error {
	fields := credentialFields(cfg)

	pending := false
	for _, v := range fields {
		if secrets.HasRefs(*v) {
			pending = true
			break
		}
	}
	if !pending {
		return nil
	}

	var providers []secrets.Provider
	if cfg.Secrets.Dir != "" {
		dir, err := secrets.NewDir(cfg.Secrets.Dir)
		if err != nil {
			return ValidationError{Errors: []FieldError{{Field: "secrets.dir", Message: err.Error()}}}
		}
		providers = append(providers, dir)
	}
	providers = append(providers, secrets.NewEnv(cfg.Secrets.EnvPrefix))
	resolver := secrets.NewResolver(providers...)

	var errs []FieldError
	for field, v := range fields {
		if !secrets.HasRefs(*v) {
			continue
		}
		value, err := resolver.Expand(ctx, *v)
		if err != nil {
			errs = append(errs, FieldError{Field: field, Message: err.Error()})
			continue
		}
		*v = value
	}
	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}
