package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "APM_"

// LoadConfig loads configuration from a YAML file at the specified path.
// Fields the file omits keep their defaults. The result is validated.
// Environment variables are not consulted; use LoadConfigWithEnvOverrides
// for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML on top of the defaults without validating.
func Parse(data []byte) (*Config, error) {
	cfg := NewDefault()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention APM_SECTION_FIELD (e.g., APM_STORE_URL) and always take
// precedence over the file.
//
// The loading sequence is:
// 1. Load YAML from file on top of defaults
// 2. Apply environment variable overrides
// 3. Resolve ${secret:name} references
// 4. Validate final configuration
//
// An empty path skips step 1.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = NewDefault()
	} else {
		var err error
		if cfg, err = LoadConfig(path); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := ResolveSecrets(context.Background(), cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

func envString(name string, dst *string) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		*dst = val
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func envList(name string, dst *[]string) {
	if val, ok := os.LookupEnv(EnvPrefix + name); ok {
		var out []string
		for _, part := range strings.Split(val, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*dst = out
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Context overrides
	envString("CONTEXT_UNBOUND_POLICY", &cfg.Context.UnboundPolicy)
	envList("CONTEXT_ERROR_MAPPING", &cfg.Context.ErrorMapping)

	// Store overrides
	envString("STORE_BACKEND", &cfg.Store.Backend)
	envString("STORE_URL", &cfg.Store.URL)
	envString("STORE_DATABASE", &cfg.Store.Database)
	envString("STORE_COLLECTION", &cfg.Store.Collection)
	envDuration("STORE_CONNECT_TIMEOUT", &cfg.Store.ConnectTimeout)
	envDuration("STORE_OPERATION_TIMEOUT", &cfg.Store.OperationTimeout)

	// Deflate overrides
	envBool("DEFLATE_ENABLED", &cfg.Deflate.Enabled)
	envString("DEFLATE_TARGET", &cfg.Deflate.Target)
	envInt("DEFLATE_EMBED_LIMIT", &cfg.Deflate.EmbedLimit)
	envString("DEFLATE_FILESYSTEM_PATH", &cfg.Deflate.Filesystem.Path)
	envString("DEFLATE_OBJECTSTORE_ENDPOINT", &cfg.Deflate.ObjectStore.Endpoint)
	envString("DEFLATE_OBJECTSTORE_ACCESS_KEY", &cfg.Deflate.ObjectStore.AccessKey)
	envString("DEFLATE_OBJECTSTORE_SECRET_KEY", &cfg.Deflate.ObjectStore.SecretKey)
	envString("DEFLATE_OBJECTSTORE_BUCKET", &cfg.Deflate.ObjectStore.Bucket)
	envString("DEFLATE_REDIS_ADDR", &cfg.Deflate.Redis.Addr)
	envString("DEFLATE_REDIS_PASSWORD", &cfg.Deflate.Redis.Password)
	envDuration("DEFLATE_REDIS_TTL", &cfg.Deflate.Redis.TTL)

	// Worker overrides
	envInt("WORKERS_SIZE", &cfg.Workers.Size)
	envInt("WORKERS_MAX_QUEUED", &cfg.Workers.MaxQueued)
	envDuration("WORKERS_ADMISSION_TIMEOUT", &cfg.Workers.AdmissionTimeout)
	envString("WORKERS_DRAIN_SCHEDULE", &cfg.Workers.DrainSchedule)

	// Flush overrides
	envDuration("FLUSH_INTERVAL", &cfg.Flush.Interval)

	// DLQ overrides
	envString("DLQ_PATH", &cfg.DLQ.Path)
	envString("DLQ_CODEC", &cfg.DLQ.Codec)

	// Broker overrides
	envBool("BROKER_ENABLED", &cfg.Broker.Enabled)
	envString("BROKER_MODE", &cfg.Broker.Mode)
	envString("BROKER_TRANSPORT", &cfg.Broker.Transport)
	envString("BROKER_URL", &cfg.Broker.URL)
	envString("BROKER_SUBJECT", &cfg.Broker.Subject)
	envString("BROKER_QUEUE", &cfg.Broker.Queue)
	envDuration("BROKER_TIMEOUT", &cfg.Broker.Timeout)
	envString("BROKER_CODEC", &cfg.Broker.Codec)
	envBool("BROKER_DEFLATE", &cfg.Broker.Deflate)
	envDuration("BROKER_REPLAY_INTERVAL", &cfg.Broker.ReplayInterval)

	// Telemetry overrides
	envString("TELEMETRY_LISTEN_ADDRESS", &cfg.Telemetry.ListenAddress)
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envBool("TELEMETRY_HEALTH_ENABLED", &cfg.Telemetry.Health.Enabled)

	// Secrets overrides
	envString("SECRETS_DIR", &cfg.Secrets.Dir)
}
