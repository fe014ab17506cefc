// Command apm operates the transaction sink of the nxcd APM agent.
//
// It runs the process that owns the primary store, optionally fed by a
// broker bridge, and offers maintenance commands for the dead-letter
// queues and the blob store.
//
// Usage:
//
//	# Start the primary sink with metrics and health endpoints
//	apm run --config /etc/nxcd/apm.yaml
//
//	# Show dead-letter queue backlog
//	apm dlq list
//
//	# Replay spooled batches into the primary store
//	apm dlq drain
//
//	# Print an externalized payload
//	apm blob get 9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08
//
//	# Show version information
//	apm version
package main

func main() {
	Execute()
}
