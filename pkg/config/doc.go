// Package config provides configuration management for the APM agent.
//
// Configuration is read from a YAML file decoded on top of defaults, then
// environment variable overrides are applied, then the result is validated.
//
//	cfg, err := config.LoadConfigWithEnvOverrides("apm.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention APM_SECTION_FIELD:
//
//   - APM_STORE_URL overrides store.url
//   - APM_WORKERS_SIZE overrides workers.size
//   - APM_CONTEXT_UNBOUND_POLICY overrides context.unbound_policy
//   - APM_CONTEXT_ERROR_MAPPING overrides context.error_mapping (comma separated)
//
// # Runtime Changes
//
// The context section can change while the process runs. A Watcher reloads
// the file when it changes and hooks registered with OnReload receive the
// new configuration; ApplyToRegistry pushes it into a transaction Registry:
//
//	config.OnReload(func(c *config.Config) {
//	    _ = config.ApplyToRegistry(c, transaction.Default())
//	})
//
// Sizing settings (workers, store, broker) are read once at startup.
//
// # Example Configuration
//
//	context:
//	  unbound_policy: continue
//	  error_mapping: [keep_stack, stack_as_array, trim_stack, filter_frames]
//
//	store:
//	  backend: sqlite
//	  url: data/apm.db
//
//	deflate:
//	  enabled: true
//	  target: filesystem
//	  filesystem:
//	    path: data/blobs
//
//	workers:
//	  size: 2
//	  max_queued: 4
//	  drain_schedule: "*/5 * * * *"
//
//	telemetry:
//	  logging:
//	    level: info
//	    format: json
package config
