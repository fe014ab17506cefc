// Package telemetry assembles the observability stack of an APM process:
// the slog logger, the Prometheus collector and the health checker, served
// together on one HTTP listener.
//
//	tel, err := telemetry.New(&cfg.Telemetry, health.VersionInfo{Version: version})
//	go tel.Serve(ctx)
//	tel.Health().RegisterCheck("store", health.PingCheck(store))
package telemetry
