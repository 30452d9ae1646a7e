// Package client is the high-level SDK for driftsync: it dials the relay,
// wires up the local engine and exposes the write and listen surface.
package client

import (
	"context"
	"time"

	"github.com/driftsync/driftsync/internal/core/document"
	"github.com/driftsync/driftsync/internal/core/engine"
	"github.com/driftsync/driftsync/internal/core/events/bus"
	"github.com/driftsync/driftsync/internal/core/mutation"
	"github.com/driftsync/driftsync/internal/core/observability/log"
	"github.com/driftsync/driftsync/internal/core/protocol"
	quictransport "github.com/driftsync/driftsync/internal/core/protocol/quic"
	wstransport "github.com/driftsync/driftsync/internal/core/protocol/websocket"
	"github.com/driftsync/driftsync/internal/core/storage"
	"github.com/driftsync/driftsync/internal/core/storage/bolt"
	"github.com/driftsync/driftsync/internal/core/value"
)

// TransportKind selects the wire protocol to the relay.
type TransportKind string

const (
	TransportWebSocket TransportKind = "websocket"
	TransportQUIC      TransportKind = "quic"
)

// Config holds configuration for the client.
type Config struct {
	// Connection settings
	ServerAddr  string
	Transport   TransportKind
	DialTimeout time.Duration

	// Message settings
	MaxMessageSize  int64
	EventBufferSize int

	// Write queue
	QueueLimit     int
	NetworkEnabled bool

	// StorePath enables durable base documents when non-empty.
	StorePath string

	// Logging
	LogLevel log.Level
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		ServerAddr:      "localhost:8632",
		Transport:       TransportWebSocket,
		DialTimeout:     10 * time.Second,
		MaxMessageSize:  4 * 1024 * 1024, // 4MB
		EventBufferSize: 256,
		QueueLimit:      512,
		NetworkEnabled:  true,
		LogLevel:        log.LevelInfo,
	}
}

// Client is a connected driftsync client.
type Client struct {
	engine *engine.Engine
	config Config
	logger log.Log
}

// Connect dials the relay and starts the engine. The client owns the
// transport and the optional store; Close releases everything.
func Connect(ctx context.Context, config Config) (*Client, error) {
	logger := log.New(config.LogLevel)

	transportConfig := protocol.Config{
		ServerAddr:      config.ServerAddr,
		DialTimeout:     config.DialTimeout,
		WriteTimeout:    config.DialTimeout,
		MaxMessageSize:  config.MaxMessageSize,
		EventBufferSize: config.EventBufferSize,
	}

	var transport protocol.Transport
	var err error
	switch config.Transport {
	case TransportWebSocket, "":
		transport, err = wstransport.Dial(ctx, transportConfig, logger)
	case TransportQUIC:
		transport, err = quictransport.Dial(ctx, transportConfig, nil, logger)
	default:
		return nil, ErrUnknownTransport
	}
	if err != nil {
		return nil, err
	}

	var store storage.BaseStore
	if config.StorePath != "" {
		store, err = bolt.Open(config.StorePath)
		if err != nil {
			_ = transport.Close()
			return nil, err
		}
	}

	e := engine.New(transport, engine.Config{
		QueueLimit:     config.QueueLimit,
		NetworkEnabled: config.NetworkEnabled,
		Store:          store,
		Logger:         logger,
	})

	return &Client{engine: e, config: config, logger: logger}, nil
}

// Set replaces the whole document.
func (c *Client) Set(key document.Key, fields map[string]value.Value) (*engine.PendingWrite, error) {
	return c.engine.Set(key, fields)
}

// SetMerge merges the top-level fields into the document.
func (c *Client) SetMerge(key document.Key, fields map[string]value.Value) (*engine.PendingWrite, error) {
	return c.engine.SetMerge(key, fields)
}

// Update applies sparse field changes and transforms.
func (c *Client) Update(key document.Key, updates ...engine.Update) (*engine.PendingWrite, error) {
	return c.engine.Update(key, updates...)
}

// Write submits mutations against multiple documents as one atomic batch.
func (c *Client) Write(mutations ...mutation.Mutation) (*engine.PendingWrite, error) {
	return c.engine.Write(mutations...)
}

// Batch starts a multi-document write batch.
func (c *Client) Batch() *engine.WriteBatch {
	return c.engine.NewWriteBatch()
}

// Subscribe registers a snapshot listener for the document.
func (c *Client) Subscribe(key document.Key, opts bus.Options, handler bus.Handler) (*bus.Subscription, error) {
	return c.engine.Subscribe(key, opts, handler)
}

// Snapshot returns the current local view of the document.
func (c *Client) Snapshot(key document.Key, timestamps bus.TimestampBehavior) (bus.Snapshot, error) {
	return c.engine.Snapshot(key, timestamps)
}

// Cancel withdraws a batch not yet handed to the transport.
func (c *Client) Cancel(batchID int64) error {
	return c.engine.Cancel(batchID)
}

// SetNetworkEnabled toggles submission; enabling flushes queued writes.
func (c *Client) SetNetworkEnabled(enabled bool) error {
	return c.engine.SetNetworkEnabled(enabled)
}

// PendingCount returns the number of unacknowledged batches.
func (c *Client) PendingCount() (int, error) {
	return c.engine.PendingCount()
}

// Close stops the engine and releases the transport and store.
func (c *Client) Close() error {
	return c.engine.Close()
}
