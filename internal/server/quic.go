package server

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/driftsync/driftsync/internal/core/observability/log"
	quictransport "github.com/driftsync/driftsync/internal/core/protocol/quic"
)

func (s *Server) startQUIC(ctx context.Context) error {
	listener, err := quic.ListenAddr(s.config.QUICAddr, generateTLSConfig(), &quic.Config{})
	if err != nil {
		return err
	}
	s.quicMu.Lock()
	s.quicListener = listener
	s.quicMu.Unlock()

	s.group.Go(func() error {
		s.acceptQUIC(ctx, listener)
		return nil
	})
	s.logger.Info("quic listener started", log.String("addr", s.config.QUICAddr))
	return nil
}

func (s *Server) stopQUIC() {
	s.quicMu.Lock()
	defer s.quicMu.Unlock()
	if s.quicListener != nil {
		_ = s.quicListener.Close()
		s.quicListener = nil
	}
}

func (s *Server) acceptQUIC(ctx context.Context, listener *quic.Listener) {
	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			return
		}
		s.group.Go(func() error {
			s.handleQUICConn(ctx, conn)
			return nil
		})
	}
}

func (s *Server) handleQUICConn(ctx context.Context, conn *quic.Conn) {
	logger := s.logger.With(log.String("remote", conn.RemoteAddr().String()))
	logger.Info("quic client connected")
	defer logger.Info("quic client disconnected")

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return
	}
	defer func() { _ = stream.Close() }()

	var writeMu sync.Mutex
	scanner := bufio.NewScanner(stream)
	if s.config.MaxMessageSize > 0 {
		scanner.Buffer(make([]byte, 64*1024), int(s.config.MaxMessageSize))
	}

	for scanner.Scan() {
		response, err := s.process(scanner.Bytes(), logger)
		if err != nil {
			logger.Warn("dropping client after bad frame", log.Error(err))
			return
		}

		writeMu.Lock()
		_, err = stream.Write(append(response, '\n'))
		writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

// generateTLSConfig builds a self-signed TLS config for development use.
func generateTLSConfig() *tls.Config {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"driftsync"},
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:    x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses: []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		DNSNames:    []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		panic(err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		panic(err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   []string{quictransport.NextProto},
		MinVersion:   tls.VersionTLS13, // QUIC requires TLS 1.3
	}
}
