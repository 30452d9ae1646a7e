package protocol

import "errors"

// Transport-level errors
var (
	ErrTransportClosed = errors.New("transport is closed")
	ErrNotConnected    = errors.New("transport is not connected")
)
