package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/quic-go/quic-go"
	"golang.org/x/sync/errgroup"

	"github.com/driftsync/driftsync/internal/core/observability/log"
	"github.com/driftsync/driftsync/internal/core/protocol"
)

// Server accepts sync clients over WebSocket (and optionally QUIC) and
// routes their batches into the authoritative core. Responses go back on
// the same connection in processing order, which preserves the in-order
// acknowledgement contract.
type Server struct {
	core   *Core
	config Config
	logger log.Log

	httpServer *http.Server
	upgrader   websocket.Upgrader

	quicMu       sync.Mutex
	quicListener *quic.Listener

	addrMu    sync.Mutex
	boundAddr string

	running int32 // atomic bool
	group   errgroup.Group
	cancel  context.CancelFunc
}

// New creates a server around an authoritative core.
func New(core *Core, config Config, logger log.Log) *Server {
	return &Server{
		core:   core,
		config: config,
		logger: logger.With(log.String("component", "server")),
	}
}

// Start begins accepting connections. It returns once the listeners are
// bound; serving continues in the background until Stop.
func (s *Server) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return ErrServerAlreadyRunning
	}

	ctx, s.cancel = context.WithCancel(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/sync", s.handleSync)
	s.httpServer = &http.Server{Handler: mux}

	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		atomic.StoreInt32(&s.running, 0)
		return err
	}
	s.addrMu.Lock()
	s.boundAddr = ln.Addr().String()
	s.addrMu.Unlock()

	s.group.Go(func() error {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	s.logger.Info("websocket listener started", log.String("addr", s.config.ListenAddr))

	if s.config.EnableQUIC {
		if err := s.startQUIC(ctx); err != nil {
			_ = s.httpServer.Close()
			atomic.StoreInt32(&s.running, 0)
			return err
		}
	}

	return nil
}

// Stop shuts the listeners down and waits for connection handlers.
func (s *Server) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return ErrServerClosed
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	_ = s.httpServer.Shutdown(ctx)

	s.stopQUIC()

	return s.group.Wait()
}

// Addr returns the bound websocket address, useful when listening on :0.
func (s *Server) Addr() string {
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	if s.boundAddr != "" {
		return s.boundAddr
	}
	return s.config.ListenAddr
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", log.Error(err))
		return
	}
	if s.config.MaxMessageSize > 0 {
		conn.SetReadLimit(s.config.MaxMessageSize)
	}

	sessionID := uuid.NewString()
	logger := s.logger.With(log.String("session", sessionID))
	logger.Info("client connected", log.String("remote", conn.RemoteAddr().String()))

	defer func() {
		_ = conn.Close()
		logger.Info("client disconnected")
	}()

	var writeMu sync.Mutex
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		response, err := s.process(data, logger)
		if err != nil {
			logger.Warn("dropping client after bad frame", log.Error(err))
			return
		}

		writeMu.Lock()
		err = conn.WriteMessage(websocket.TextMessage, response)
		writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

// process applies one submit frame and renders the ack or reject bytes.
// Shared by the websocket and QUIC handlers.
func (s *Server) process(data []byte, logger log.Log) ([]byte, error) {
	frame, err := protocol.DecodeFrame(data)
	if err != nil {
		return nil, err
	}
	if frame.Type != protocol.FrameSubmit {
		return nil, ErrUnexpectedFrame
	}

	batch := frame.Submit.Batch
	res, err := s.core.Apply(batch)
	if err != nil {
		logger.Warn("batch rejected",
			log.Int64("batch_id", batch.ID),
			log.Error(err))
		return protocol.EncodeReject(batch.ID, err.Error())
	}
	return protocol.EncodeAck(res)
}
