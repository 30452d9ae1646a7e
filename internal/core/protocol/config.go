package protocol

import "time"

// Config holds transport configuration shared by the websocket and QUIC
// clients.
type Config struct {
	// Network settings
	ServerAddr     string
	DialTimeout    time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64

	// Event delivery
	EventBufferSize int
}

// DefaultConfig returns the defaults used by the SDK client.
func DefaultConfig() Config {
	return Config{
		ServerAddr:      "localhost:8632",
		DialTimeout:     10 * time.Second,
		ReadTimeout:     0, // block until the server speaks
		WriteTimeout:    10 * time.Second,
		MaxMessageSize:  4 * 1024 * 1024, // 4MB
		EventBufferSize: 256,
	}
}
