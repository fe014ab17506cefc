package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/nextcodebr/nxcd-apm/pkg/codec"
	"github.com/nextcodebr/nxcd-apm/pkg/transaction"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "store.url").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. All validation errors are collected and
// returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateContext(&cfg.Context)...)
	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validateDeflate(&cfg.Deflate)...)
	errs = append(errs, validateWorkers(&cfg.Workers)...)

	if cfg.Flush.Interval <= 0 {
		errs = append(errs, FieldError{Field: "flush.interval", Message: "must be positive"})
	}

	errs = append(errs, validateCodec("dlq.codec", cfg.DLQ.Codec)...)
	if cfg.DLQ.Path == "" {
		errs = append(errs, FieldError{Field: "dlq.path", Message: "field is required"})
	}

	errs = append(errs, validateBroker(&cfg.Broker)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateContext(cfg *ContextConfig) []FieldError {
	var errs []FieldError

	if _, err := transaction.ParseUnboundPolicy(cfg.UnboundPolicy); err != nil {
		errs = append(errs, FieldError{
			Field:   "context.unbound_policy",
			Message: fmt.Sprintf("invalid policy %q: must be 'continue' or 'error'", cfg.UnboundPolicy),
		})
	}
	if _, err := transaction.ParseErrorMapping(cfg.ErrorMapping); err != nil {
		errs = append(errs, FieldError{Field: "context.error_mapping", Message: err.Error()})
	}

	return errs
}

func validateStore(cfg *StoreConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "sqlite", "sqlite-pure":
		if cfg.URL == "" {
			errs = append(errs, FieldError{Field: "store.url", Message: "database path is required for sqlite"})
		}
	case "mongo":
		if cfg.URL == "" {
			errs = append(errs, FieldError{Field: "store.url", Message: "connection string is required for mongo"})
		}
		if cfg.Database == "" {
			errs = append(errs, FieldError{Field: "store.database", Message: "database name is required for mongo"})
		}
	case "memory":
	default:
		errs = append(errs, FieldError{
			Field:   "store.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'sqlite', 'sqlite-pure', 'mongo', or 'memory'", cfg.Backend),
		})
	}

	if cfg.Collection == "" {
		errs = append(errs, FieldError{Field: "store.collection", Message: "field is required"})
	}
	if cfg.ConnectTimeout <= 0 {
		errs = append(errs, FieldError{Field: "store.connect_timeout", Message: "must be positive"})
	}
	if cfg.OperationTimeout <= 0 {
		errs = append(errs, FieldError{Field: "store.operation_timeout", Message: "must be positive"})
	}

	return errs
}

func validateDeflate(cfg *DeflateConfig) []FieldError {
	var errs []FieldError

	if cfg.HandleKey == "" {
		errs = append(errs, FieldError{Field: "deflate.handle_key", Message: "field is required"})
	}
	if cfg.EmbedLimit < 0 {
		errs = append(errs, FieldError{Field: "deflate.embed_limit", Message: "must be non-negative"})
	}
	if cfg.KnownHashes <= 0 {
		errs = append(errs, FieldError{Field: "deflate.known_hashes", Message: "must be positive"})
	}

	switch cfg.Target {
	case "store":
	case "filesystem":
		if cfg.Enabled && cfg.Filesystem.Path == "" {
			errs = append(errs, FieldError{Field: "deflate.filesystem.path", Message: "path is required for the filesystem target"})
		}
	case "objectstore":
		if cfg.Enabled && cfg.ObjectStore.Endpoint == "" {
			errs = append(errs, FieldError{Field: "deflate.objectstore.endpoint", Message: "endpoint is required for the objectstore target"})
		}
		if cfg.Enabled && cfg.ObjectStore.Bucket == "" {
			errs = append(errs, FieldError{Field: "deflate.objectstore.bucket", Message: "bucket is required for the objectstore target"})
		}
	case "redis":
		if cfg.Enabled && cfg.Redis.Addr == "" {
			errs = append(errs, FieldError{Field: "deflate.redis.addr", Message: "address is required for the redis target"})
		}
		if cfg.Redis.TTL < 0 {
			errs = append(errs, FieldError{Field: "deflate.redis.ttl", Message: "must be non-negative"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "deflate.target",
			Message: fmt.Sprintf("invalid target %q: must be 'store', 'filesystem', 'objectstore', or 'redis'", cfg.Target),
		})
	}

	return errs
}

func validateWorkers(cfg *WorkersConfig) []FieldError {
	var errs []FieldError

	if cfg.Size <= 0 {
		errs = append(errs, FieldError{Field: "workers.size", Message: "must be positive"})
	}
	if cfg.MaxQueued <= 0 {
		errs = append(errs, FieldError{Field: "workers.max_queued", Message: "must be positive"})
	}
	if cfg.AdmissionTimeout <= 0 {
		errs = append(errs, FieldError{Field: "workers.admission_timeout", Message: "must be positive"})
	}
	if cfg.DrainEvery <= 0 {
		errs = append(errs, FieldError{Field: "workers.drain_every", Message: "must be positive"})
	}
	if cfg.DrainBatch <= 0 {
		errs = append(errs, FieldError{Field: "workers.drain_batch", Message: "must be positive"})
	}
	if cfg.DrainSchedule != "" {
		if _, err := cron.ParseStandard(cfg.DrainSchedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "workers.drain_schedule",
				Message: fmt.Sprintf("invalid cron expression %q: %v", cfg.DrainSchedule, err),
			})
		}
	}

	return errs
}

func validateCodec(field, name string) []FieldError {
	if _, err := codec.Lookup(name); err != nil {
		return []FieldError{{Field: field, Message: err.Error()}}
	}
	return nil
}

func validateBroker(cfg *BrokerConfig) []FieldError {
	if !cfg.Enabled {
		return nil
	}

	var errs []FieldError

	if cfg.Mode != "bridge" && cfg.Mode != "proxy" {
		errs = append(errs, FieldError{
			Field:   "broker.mode",
			Message: fmt.Sprintf("invalid mode %q: must be 'bridge' or 'proxy'", cfg.Mode),
		})
	}
	switch cfg.Transport {
	case "nats":
		if cfg.URL == "" {
			errs = append(errs, FieldError{Field: "broker.url", Message: "url is required for the nats transport"})
		}
	case "local":
	default:
		errs = append(errs, FieldError{
			Field:   "broker.transport",
			Message: fmt.Sprintf("invalid transport %q: must be 'nats' or 'local'", cfg.Transport),
		})
	}
	if cfg.Subject == "" {
		errs = append(errs, FieldError{Field: "broker.subject", Message: "field is required"})
	}
	if cfg.Timeout <= 0 {
		errs = append(errs, FieldError{Field: "broker.timeout", Message: "must be positive"})
	}
	if cfg.Mode == "proxy" && cfg.ReplayInterval <= 0 {
		errs = append(errs, FieldError{Field: "broker.replay_interval", Message: "must be positive"})
	}
	errs = append(errs, validateCodec("broker.codec", cfg.Codec)...)

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json' or 'text'", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Path == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path is required when metrics are enabled",
		})
	}

	if cfg.Health.Enabled {
		if cfg.Health.LivenessPath == "" {
			errs = append(errs, FieldError{
				Field:   "telemetry.health.liveness_path",
				Message: "liveness path is required when health checks are enabled",
			})
		}
		if cfg.Health.ReadinessPath == "" {
			errs = append(errs, FieldError{
				Field:   "telemetry.health.readiness_path",
				Message: "readiness path is required when health checks are enabled",
			})
		}
		if cfg.Health.CheckTimeout <= 0 {
			errs = append(errs, FieldError{
				Field:   "telemetry.health.check_timeout",
				Message: "check timeout must be positive",
			})
		}
	}

	return errs
}
