package primary

import "errors"

var (
	// ErrQueueFull is returned by Ingest when no worker accepted the batch
	// within the admission timeout. The batch has been spooled.
	ErrQueueFull = errors.New("worker queue full")

	// ErrMasterClosed is returned by operations on a closed Master.
	ErrMasterClosed = errors.New("primary sink closed")
)
