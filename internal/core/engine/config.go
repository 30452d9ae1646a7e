package engine

import (
	"github.com/driftsync/driftsync/internal/core/observability/log"
	"github.com/driftsync/driftsync/internal/core/storage"
)

// Config carries the engine's collaborators and limits.
type Config struct {
	// QueueLimit bounds the number of pending batches. Zero or less means
	// unbounded; writes past the limit fail synchronously.
	QueueLimit int
	// NetworkEnabled is the initial transport state. When false, writes
	// accumulate in the queue until SetNetworkEnabled(true).
	NetworkEnabled bool
	// Store persists acknowledged base documents. Optional; without it the
	// base survives only for the engine's lifetime.
	Store storage.BaseStore
	// Logger defaults to the process logger when nil.
	Logger log.Log
}

// DefaultConfig returns the settings used by the SDK client.
func DefaultConfig() Config {
	return Config{
		QueueLimit:     512,
		NetworkEnabled: true,
	}
}
