package engine

import "errors"

var (
	// ErrEngineClosed is returned by every operation after Close.
	ErrEngineClosed = errors.New("engine is closed")
	// ErrBatchInFlight reports a cancel attempt after the batch was handed
	// to the transport. Past that point only the server decides its fate.
	ErrBatchInFlight = errors.New("batch already handed to transport")
	// ErrWriteCanceled completes the pending write of a canceled batch.
	ErrWriteCanceled = errors.New("write canceled before submission")
	// ErrBatchRejected completes the pending write of a server-rejected
	// batch. The rejection cause is attached to the wrapped error.
	ErrBatchRejected = errors.New("batch rejected by server")
	// ErrNoUpdates reports an update call with nothing to change.
	ErrNoUpdates = errors.New("update carries no field changes")
)
