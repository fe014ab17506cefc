package config

import "time"

// Config is the root configuration of the APM agent and of the process
// that owns the primary store.
type Config struct {
	// Context controls chain propagation and error snapshots.
	Context ContextConfig `yaml:"context"`

	// Store addresses the primary store.
	Store StoreConfig `yaml:"store"`

	// Deflate controls payload externalization into a blob store.
	Deflate DeflateConfig `yaml:"deflate"`

	// Workers sizes the primary sink worker pool.
	Workers WorkersConfig `yaml:"workers"`

	// Flush controls the buffering sink timer.
	Flush FlushConfig `yaml:"flush"`

	// DLQ controls the local dead-letter queue.
	DLQ DLQConfig `yaml:"dlq"`

	// Broker controls the proxy/bridge sinks.
	Broker BrokerConfig `yaml:"broker"`

	// Telemetry contains logging, metrics and health settings.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Secrets resolves ${secret:name} references in credentials.
	Secrets SecretsConfig `yaml:"secrets"`
}

// ContextConfig contains the settings read by the transaction Registry.
// All of them can be changed at runtime through the Watcher.
type ContextConfig struct {
	// UnboundPolicy is what happens when chain state is used outside a
	// bound chain.
	// Options: "continue", "error"
	// Default: "continue"
	UnboundPolicy string `yaml:"unbound_policy"`

	// ErrorMapping lists the flags applied to failures.
	// Options: "keep_stack", "stack_as_array", "trim_stack", "filter_frames"
	// Default: all four
	ErrorMapping []string `yaml:"error_mapping"`

	// NoiseFrames are substrings of stack lines dropped by filter_frames.
	// Default: runtime and test runner frames
	NoiseFrames []string `yaml:"noise_frames"`
}

// StoreConfig addresses the primary store.
type StoreConfig struct {
	// Backend selects the store.
	// Options: "sqlite", "sqlite-pure", "mongo", "memory"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// URL is the SQLite file path or the MongoDB connection string.
	// Default: "data/apm.db"
	URL string `yaml:"url"`

	// Database is the MongoDB database name.
	Database string `yaml:"database"`

	// Collection receives Transactions.
	// Default: "transactions"
	Collection string `yaml:"collection"`

	// BlobCollection receives blobs when deflate.target is "store".
	// Default: "blobs"
	BlobCollection string `yaml:"blob_collection"`

	// ConnectTimeout bounds connection establishment.
	// Default: 1s
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// OperationTimeout bounds server selection and socket operations.
	// Default: 5s
	OperationTimeout time.Duration `yaml:"operation_timeout"`
}

// DeflateConfig controls payload externalization.
type DeflateConfig struct {
	// Enabled turns externalization on.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Target selects the blob store.
	// Options: "store", "filesystem", "objectstore", "redis"
	// Default: "store"
	Target string `yaml:"target"`

	// HandleKey is the map key marking an externalized handle.
	// Default: "__blob"
	HandleKey string `yaml:"handle_key"`

	// EmbedLimit is the largest payload, in bytes, kept inline.
	// Default: 1024
	EmbedLimit int `yaml:"embed_limit"`

	// KnownHashes is the size of each worker's cache of hashes already
	// written.
	// Default: 4096
	KnownHashes int `yaml:"known_hashes"`

	// Filesystem configures the "filesystem" target.
	Filesystem FilesystemBlobConfig `yaml:"filesystem"`

	// ObjectStore configures the "objectstore" target.
	ObjectStore ObjectStoreBlobConfig `yaml:"objectstore"`

	// Redis configures the "redis" target.
	Redis RedisBlobConfig `yaml:"redis"`
}

// FilesystemBlobConfig configures a directory blob store.
type FilesystemBlobConfig struct {
	// Path is the blob directory.
	// Default: "data/blobs"
	Path string `yaml:"path"`
}

// ObjectStoreBlobConfig configures an S3-compatible blob store.
type ObjectStoreBlobConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Secure    bool   `yaml:"secure"`
}

// RedisBlobConfig configures a Redis blob store.
type RedisBlobConfig struct {
	// Addr is host:port of the Redis server.
	// Default: "127.0.0.1:6379"
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Prefix is prepended to every key.
	// Default: "apm:blob:"
	Prefix string `yaml:"prefix"`

	// TTL expires blobs; zero keeps them forever.
	// Default: 24h
	TTL time.Duration `yaml:"ttl"`
}

// WorkersConfig sizes the primary sink worker pool.
type WorkersConfig struct {
	// Size is the number of workers, each with its own connection.
	// Default: 1
	Size int `yaml:"size"`

	// MaxQueued bounds the batches waiting for a worker.
	// Default: 1
	MaxQueued int `yaml:"max_queued"`

	// AdmissionTimeout is how long a flush waits for queue space before
	// its batch is spooled to the dead-letter queue.
	// Default: 5s
	AdmissionTimeout time.Duration `yaml:"admission_timeout"`

	// DrainEvery triggers a dead-letter drain every N successful flushes.
	// Default: 60
	DrainEvery int `yaml:"drain_every"`

	// DrainBatch is the number of records accumulated per drain insert.
	// Default: 50
	DrainBatch int `yaml:"drain_batch"`

	// DrainSchedule is an optional cron expression requesting a drain on
	// every worker.
	// Example: "*/5 * * * *"
	DrainSchedule string `yaml:"drain_schedule"`
}

// FlushConfig controls the buffering sink timer.
type FlushConfig struct {
	// Interval between flushes.
	// Default: 1s
	Interval time.Duration `yaml:"interval"`
}

// DLQConfig controls the local dead-letter queue.
type DLQConfig struct {
	// Path is the base directory; each worker uses a subdirectory.
	// Default: "data/dlq"
	Path string `yaml:"path"`

	// Codec serializes spooled batches.
	// Options: "json", "cbor", optionally suffixed "+zstd" or "+lz4"
	// Default: "json"
	Codec string `yaml:"codec"`
}

// BrokerConfig controls the broker proxy and bridge.
type BrokerConfig struct {
	// Enabled turns the broker on.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Mode is "bridge" for the store-owning process and "proxy" for
	// processes that forward to it.
	// Default: "bridge"
	Mode string `yaml:"mode"`

	// Transport selects the broker implementation.
	// Options: "nats", "local"
	// Default: "nats"
	Transport string `yaml:"transport"`

	// URL is the NATS server URL.
	// Default: "nats://127.0.0.1:4222"
	URL string `yaml:"url"`

	// Name identifies the connection to the server.
	// Default: "nxcd-apm"
	Name string `yaml:"name"`

	// Subject carries transaction batches.
	// Default: "apm.transactions"
	Subject string `yaml:"subject"`

	// Queue is the bridge queue group.
	// Default: "apm-bridge"
	Queue string `yaml:"queue"`

	// Timeout bounds each proxy request.
	// Default: 5s
	Timeout time.Duration `yaml:"timeout"`

	// Codec encodes batches on the wire.
	// Options: "json", "cbor"
	// Default: "json"
	Codec string `yaml:"codec"`

	// Deflate ships binary payloads as a blob trap next to the batch.
	// Default: false
	Deflate bool `yaml:"deflate"`

	// ReplayInterval is how often a proxy resends the batches it spooled.
	// Default: 30s
	ReplayInterval time.Duration `yaml:"replay_interval"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// ListenAddress serves the metrics and health endpoints.
	// Default: "127.0.0.1:9464"
	ListenAddress string `yaml:"listen_address"`

	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Health contains health check configuration.
	Health HealthConfig `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "nxcd"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem name.
	// Default: "apm"
	Subsystem string `yaml:"subsystem"`

	// FlushDurationBuckets defines histogram buckets for flush duration
	// (seconds).
	// Default: [0.005, 0.01, 0.05, 0.1, 0.5, 1, 5]
	FlushDurationBuckets []float64 `yaml:"flush_duration_buckets"`
}

// HealthConfig contains health check endpoint configuration.
type HealthConfig struct {
	// Enabled controls whether health check endpoints are enabled.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// LivenessPath is the path for the liveness probe endpoint.
	// Default: "/health"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the path for the readiness probe endpoint.
	// Default: "/ready"
	ReadinessPath string `yaml:"readiness_path"`

	// CheckTimeout is the timeout for individual component health checks.
	// Default: 5s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}

// SecretsConfig locates the values of ${secret:name} references found in
// store.url, broker.url and the blob store credentials.
type SecretsConfig struct {
	// EnvPrefix prefixes the environment variable holding a secret; the
	// secret "db-password" is read from APM_SECRET_DB_PASSWORD.
	// Default: "APM_SECRET_"
	EnvPrefix string `yaml:"env_prefix"`

	// Dir holds one file per secret and is consulted before the
	// environment. Empty disables it.
	Dir string `yaml:"dir"`
}
