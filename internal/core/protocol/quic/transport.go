// Package quic implements the batch transport over a single bidirectional
// QUIC stream. Frames are newline-delimited JSON, identical to the
// websocket payloads.
package quic

import (
	"bufio"
	"context"
	"crypto/tls"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/driftsync/driftsync/internal/core/mutation"
	"github.com/driftsync/driftsync/internal/core/observability/log"
	"github.com/driftsync/driftsync/internal/core/protocol"
)

var _ protocol.Transport = (*Transport)(nil)

// ALPN protocol id spoken by client and relay server.
const NextProto = "driftsync-quic"

// Transport is a QUIC client. One stream carries submits upstream and
// acks back; QUIC stream ordering gives the in-order delivery the
// reconciler relies on.
type Transport struct {
	conn   *quic.Conn
	stream *quic.Stream
	config protocol.Config
	logger log.Log

	events chan protocol.ServerEvent
	closed int32 // atomic bool

	writeMu sync.Mutex
}

// ClientTLSConfig returns the development TLS config used against
// self-signed relay certificates.
func ClientTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true, // For development only
		NextProtos:         []string{NextProto},
		MinVersion:         tls.VersionTLS13, // QUIC requires TLS 1.3
	}
}

// Dial connects to the relay server and opens the sync stream.
func Dial(ctx context.Context, config protocol.Config, tlsConf *tls.Config, logger log.Log) (*Transport, error) {
	if tlsConf == nil {
		tlsConf = ClientTLSConfig()
	}

	conn, err := quic.DialAddr(ctx, config.ServerAddr, tlsConf, &quic.Config{})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", config.ServerAddr)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "no stream")
		return nil, errors.Wrap(err, "failed to open sync stream")
	}

	t := &Transport{
		conn:   conn,
		stream: stream,
		config: config,
		logger: logger.With(log.String("transport", "quic")),
		events: make(chan protocol.ServerEvent, config.EventBufferSize),
	}

	go t.readLoop()

	t.logger.Info("connected", log.String("addr", config.ServerAddr))
	return t, nil
}

// Submit writes one batch frame to the stream.
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

	if _, err := t.stream.Write(append(data, '\n')); err != nil {
		return errors.Wrap(err, "failed to write batch frame")
	}

	t.logger.Debug("batch submitted", log.Int64("batch_id", batch.ID))
	return nil
}

// Events returns the server event stream.
func (t *Transport) Events() <-chan protocol.ServerEvent { return t.events }

// Close tears the connection down.
func (t *Transport) Close() error {
	if !atomic.CompareAndSwapInt32(&t.closed, 0, 1) {
		return nil
	}
	_ = t.stream.Close()
	return t.conn.CloseWithError(0, "client closed")
}

func (t *Transport) readLoop() {
	defer close(t.events)

	scanner := bufio.NewScanner(t.stream)
	if t.config.MaxMessageSize > 0 {
		scanner.Buffer(make([]byte, 64*1024), int(t.config.MaxMessageSize))
	}

	for scanner.Scan() {
		frame, err := protocol.DecodeFrame(scanner.Bytes())
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

	if err := scanner.Err(); err != nil && atomic.LoadInt32(&t.closed) == 0 {
		t.logger.Warn("connection lost", log.Error(err))
	}
}
