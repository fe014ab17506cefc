package config

import (
	"fmt"

	"github.com/nextcodebr/nxcd-apm/pkg/transaction"
)

// ApplyToRegistry pushes the context settings into r. Nothing is changed
// when any setting fails to parse.
func ApplyToRegistry(cfg *Config, r *transaction.Registry) error {
	policy, err := transaction.ParseUnboundPolicy(cfg.Context.UnboundPolicy)
	if err != nil {
		return fmt.Errorf("context.unbound_policy: %w", err)
	}
	mapping, err := transaction.ParseErrorMapping(cfg.Context.ErrorMapping)
	if err != nil {
		return fmt.Errorf("context.error_mapping: %w", err)
	}

	r.SetPolicy(policy)
	r.SetErrorMapping(mapping)
	if cfg.Context.NoiseFrames != nil {
		r.SetNoiseFrames(cfg.Context.NoiseFrames)
	} else {
		r.SetNoiseFrames(transaction.DefaultNoiseFrames)
	}
	return nil
}
