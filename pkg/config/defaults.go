package config

import "time"

// Default values for configuration fields.
const (
	// Context defaults
	DefaultUnboundPolicy = "continue"

	// Store defaults
	DefaultStoreBackend          = "sqlite"
	DefaultStoreURL              = "data/apm.db"
	DefaultStoreCollection       = "transactions"
	DefaultStoreBlobCollection   = "blobs"
	DefaultStoreConnectTimeout   = time.Second
	DefaultStoreOperationTimeout = 5 * time.Second

	// Deflate defaults
	DefaultDeflateTarget      = "store"
	DefaultDeflateHandleKey   = "__blob"
	DefaultDeflateEmbedLimit  = 1024
	DefaultDeflateKnownHashes = 4096
	DefaultDeflateFSPath      = "data/blobs"
	DefaultRedisAddr          = "127.0.0.1:6379"
	DefaultRedisPrefix        = "apm:blob:"
	DefaultRedisTTL           = 24 * time.Hour

	// Worker defaults
	DefaultWorkersSize             = 1
	DefaultWorkersMaxQueued        = 1
	DefaultWorkersAdmissionTimeout = 5 * time.Second
	DefaultWorkersDrainEvery       = 60
	DefaultWorkersDrainBatch       = 50

	// Flush defaults
	DefaultFlushInterval = time.Second

	// DLQ defaults
	DefaultDLQPath  = "data/dlq"
	DefaultDLQCodec = "json"

	// Broker defaults
	DefaultBrokerMode      = "bridge"
	DefaultBrokerTransport = "nats"
	DefaultBrokerURL       = "nats://127.0.0.1:4222"
	DefaultBrokerName      = "nxcd-apm"
	DefaultBrokerSubject   = "apm.transactions"
	DefaultBrokerQueue     = "apm-bridge"
	DefaultBrokerTimeout   = 5 * time.Second
	DefaultBrokerCodec     = "json"
	DefaultBrokerReplay    = 30 * time.Second

	// Secrets defaults
	DefaultSecretsEnvPrefix = "APM_SECRET_"

	// Telemetry defaults
	DefaultTelemetryListenAddress = "127.0.0.1:9464"
	DefaultLoggingLevel           = "info"
	DefaultLoggingFormat          = "json"
	DefaultMetricsEnabled         = true
	DefaultMetricsPath            = "/metrics"
	DefaultMetricsNamespace       = "nxcd"
	DefaultMetricsSubsystem       = "apm"
	DefaultHealthEnabled          = true
	DefaultHealthLivenessPath     = "/health"
	DefaultHealthReadinessPath    = "/ready"
	DefaultHealthCheckTimeout     = 5 * time.Second
)

// DefaultErrorMapping keeps a trimmed, filtered stack as a list of lines.
var DefaultErrorMapping = []string{"keep_stack", "stack_as_array", "trim_stack", "filter_frames"}

// DefaultFlushDurationBuckets are the flush histogram buckets in seconds.
var DefaultFlushDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}

// NewDefault returns a configuration with every field at its default.
// Booleans whose default is true are only set here, so a YAML file
// decoded on top of it can still turn them off.
func NewDefault() *Config {
	cfg := &Config{}
	cfg.Telemetry.Metrics.Enabled = DefaultMetricsEnabled
	cfg.Telemetry.Health.Enabled = DefaultHealthEnabled
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Context defaults
	if cfg.Context.UnboundPolicy == "" {
		cfg.Context.UnboundPolicy = DefaultUnboundPolicy
	}
	if cfg.Context.ErrorMapping == nil {
		cfg.Context.ErrorMapping = append([]string(nil), DefaultErrorMapping...)
	}

	// Store defaults
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = DefaultStoreBackend
	}
	if cfg.Store.URL == "" && (cfg.Store.Backend == "sqlite" || cfg.Store.Backend == "sqlite-pure") {
		cfg.Store.URL = DefaultStoreURL
	}
	if cfg.Store.Collection == "" {
		cfg.Store.Collection = DefaultStoreCollection
	}
	if cfg.Store.BlobCollection == "" {
		cfg.Store.BlobCollection = DefaultStoreBlobCollection
	}
	if cfg.Store.ConnectTimeout == 0 {
		cfg.Store.ConnectTimeout = DefaultStoreConnectTimeout
	}
	if cfg.Store.OperationTimeout == 0 {
		cfg.Store.OperationTimeout = DefaultStoreOperationTimeout
	}

	// Deflate defaults
	if cfg.Deflate.Target == "" {
		cfg.Deflate.Target = DefaultDeflateTarget
	}
	if cfg.Deflate.HandleKey == "" {
		cfg.Deflate.HandleKey = DefaultDeflateHandleKey
	}
	if cfg.Deflate.EmbedLimit == 0 {
		cfg.Deflate.EmbedLimit = DefaultDeflateEmbedLimit
	}
	if cfg.Deflate.KnownHashes == 0 {
		cfg.Deflate.KnownHashes = DefaultDeflateKnownHashes
	}
	if cfg.Deflate.Filesystem.Path == "" {
		cfg.Deflate.Filesystem.Path = DefaultDeflateFSPath
	}
	if cfg.Deflate.Redis.Addr == "" {
		cfg.Deflate.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Deflate.Redis.Prefix == "" {
		cfg.Deflate.Redis.Prefix = DefaultRedisPrefix
	}
	if cfg.Deflate.Redis.TTL == 0 {
		cfg.Deflate.Redis.TTL = DefaultRedisTTL
	}

	// Worker defaults
	if cfg.Workers.Size == 0 {
		cfg.Workers.Size = DefaultWorkersSize
	}
	if cfg.Workers.MaxQueued == 0 {
		cfg.Workers.MaxQueued = DefaultWorkersMaxQueued
	}
	if cfg.Workers.AdmissionTimeout == 0 {
		cfg.Workers.AdmissionTimeout = DefaultWorkersAdmissionTimeout
	}
	if cfg.Workers.DrainEvery == 0 {
		cfg.Workers.DrainEvery = DefaultWorkersDrainEvery
	}
	if cfg.Workers.DrainBatch == 0 {
		cfg.Workers.DrainBatch = DefaultWorkersDrainBatch
	}

	// Flush defaults
	if cfg.Flush.Interval == 0 {
		cfg.Flush.Interval = DefaultFlushInterval
	}

	// DLQ defaults
	if cfg.DLQ.Path == "" {
		cfg.DLQ.Path = DefaultDLQPath
	}
	if cfg.DLQ.Codec == "" {
		cfg.DLQ.Codec = DefaultDLQCodec
	}

	// Broker defaults
	if cfg.Broker.Mode == "" {
		cfg.Broker.Mode = DefaultBrokerMode
	}
	if cfg.Broker.Transport == "" {
		cfg.Broker.Transport = DefaultBrokerTransport
	}
	if cfg.Broker.URL == "" {
		cfg.Broker.URL = DefaultBrokerURL
	}
	if cfg.Broker.Name == "" {
		cfg.Broker.Name = DefaultBrokerName
	}
	if cfg.Broker.Subject == "" {
		cfg.Broker.Subject = DefaultBrokerSubject
	}
	if cfg.Broker.Queue == "" {
		cfg.Broker.Queue = DefaultBrokerQueue
	}
	if cfg.Broker.Timeout == 0 {
		cfg.Broker.Timeout = DefaultBrokerTimeout
	}
	if cfg.Broker.Codec == "" {
		cfg.Broker.Codec = DefaultBrokerCodec
	}
	if cfg.Broker.ReplayInterval == 0 {
		cfg.Broker.ReplayInterval = DefaultBrokerReplay
	}

	// Secrets defaults
	if cfg.Secrets.EnvPrefix == "" {
		cfg.Secrets.EnvPrefix = DefaultSecretsEnvPrefix
	}

	// Telemetry defaults
	if cfg.Telemetry.ListenAddress == "" {
		cfg.Telemetry.ListenAddress = DefaultTelemetryListenAddress
	}
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Telemetry.Metrics.Subsystem == "" {
		cfg.Telemetry.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	if len(cfg.Telemetry.Metrics.FlushDurationBuckets) == 0 {
		cfg.Telemetry.Metrics.FlushDurationBuckets = append([]float64(nil), DefaultFlushDurationBuckets...)
	}
	if cfg.Telemetry.Health.LivenessPath == "" {
		cfg.Telemetry.Health.LivenessPath = DefaultHealthLivenessPath
	}
	if cfg.Telemetry.Health.ReadinessPath == "" {
		cfg.Telemetry.Health.ReadinessPath = DefaultHealthReadinessPath
	}
	if cfg.Telemetry.Health.CheckTimeout == 0 {
		cfg.Telemetry.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
}
