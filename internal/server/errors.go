package server

import "errors"

// Server-specific errors
var (
	ErrServerClosed         = errors.New("server is closed")
	ErrServerAlreadyRunning = errors.New("server is already running")
	ErrInvalidBatch         = errors.New("batch targets an invalid document key")
	ErrUnexpectedFrame      = errors.New("client sent a non-submit frame")
	ErrInvalidConfig        = errors.New("invalid server configuration")
)
