// Package health provides liveness and readiness endpoints.
//
// Readiness aggregates the checks registered by the pipeline: a ping of the
// primary store, the dead-letter backlog and, when enabled, the broker
// connection.
//
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	checker.RegisterCheck("store", health.PingCheck(store))
//	health.Mount(mux, checker, cfg.Telemetry.Health, health.VersionInfo{Version: version})
package health
