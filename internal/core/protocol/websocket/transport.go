// Package websocket implements the batch transport over a WebSocket
// connection to the relay server.
package websocket

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/driftsync/driftsync/internal/core/mutation"
	"github.com/driftsync/driftsync/internal/core/observability/log"
	"github.com/driftsync/driftsync/internal/core/protocol"
)

var _ protocol.Transport = (*Transport)(nil)

// Transport is a WebSocket client carrying submit frames upstream and
// streaming ack/reject frames back in server order.
type Transport struct {
	conn   *websocket.Conn
	config protocol.Config
	logger log.Log

	events chan protocol.ServerEvent
	closed int32 // atomic bool

	// Write mutex to ensure thread-safe writes
	writeMu sync.Mutex
}

// Dial connects to the relay server's /sync endpoint and starts the read
// loop.
func Dial(ctx context.Context, config protocol.Config, logger log.Log) (*Transport, error) {
	u := url.URL{Scheme: "ws", Host: config.ServerAddr, Path: "/sync"}

	dialer := websocket.Dialer{HandshakeTimeout: config.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", u.String())
	}
	if config.MaxMessageSize > 0 {
		conn.SetReadLimit(config.MaxMessageSize)
	}

	t := &Transport{
		conn:   conn,
		config: config,
		logger: logger.With(log.String("transport", "websocket")),
		events: make(chan protocol.ServerEvent, config.EventBufferSize),
	}

	go t.readLoop()

	t.logger.Info("connected", log.String("addr", config.ServerAddr))
	return t, nil
}

// Submit writes one batch frame to the server.
func (t *Transport) Submit(_ context.Context, batch *mutation.Batch) error {
	if atomic.LoadInt32(&t.closed) == 1 {
		return protocol.ErrTransportClosed
	}

	data, err := protocol.EncodeSubmit(batch)
	if err != nil {
		return errors.Wrap(err, "failed to encode batch")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.config.WriteTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrap(err, "failed to write batch frame")
	}

	t.logger.Debug("batch submitted", log.Int64("batch_id", batch.ID))
	return nil
}

// Events returns the server event stream. The channel closes when the
// connection drops or Close is called.
func (t *Transport) Events() <-chan protocol.ServerEvent { return t.events }

// Close tears the connection down.
func (t *Transport) Close() error {
	if !atomic.CompareAndSwapInt32(&t.closed, 0, 1) {
		return nil
	}
	return t.conn.Close()
}

func (t *Transport) readLoop() {
	defer close(t.events)
	for {
		if t.config.ReadTimeout > 0 {
			_ = t.conn.SetReadDeadline(time.Now().Add(t.config.ReadTimeout))
		}
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if atomic.LoadInt32(&t.closed) == 0 {
				t.logger.Warn("connection lost", log.Error(err))
			}
			return
		}

		frame, err := protocol.DecodeFrame(data)
		if err != nil {
			t.logger.Error("dropping malformed frame", log.Error(err))
			continue
		}
		event, err := frame.Event()
		if err != nil {
			t.logger.Error("dropping unexpected frame", log.Error(err))
			continue
		}
		t.events <- event
	}
}
