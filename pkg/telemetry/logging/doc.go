// Package logging builds the process slog.Logger from configuration.
//
// Loggers created by New tag records with the request id of the transaction
// chain bound to the logging context and mask credentials such as store
// passwords or object store secrets:
//
//	logger, err := logging.Install(cfg.Telemetry.Logging, nil)
//	logger.InfoContext(ctx, "flushed", "count", n)
//	// {"level":"INFO","msg":"flushed","count":3,"req_id":"abc"}
package logging
