package server

import (
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds relay server configuration.
type Config struct {
	// Network settings
	ListenAddr string `yaml:"listen_addr"`
	QUICAddr   string `yaml:"quic_addr"`
	EnableQUIC bool   `yaml:"enable_quic"`

	// Message settings
	MaxMessageSize int64 `yaml:"max_message_size"`

	// Lifecycle
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the defaults used when no config file is given.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      "127.0.0.1:8632",
		QUICAddr:        "127.0.0.1:8633",
		EnableQUIC:      false,
		MaxMessageSize:  4 * 1024 * 1024, // 4MB
		ShutdownTimeout: 5 * time.Second,
		LogLevel:        "info",
	}
}

// LoadConfig reads a YAML config file, overlaying the defaults.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer func() { _ = f.Close() }()
	return LoadYAML(f)
}

// LoadYAML decodes config from a YAML reader, overlaying the defaults.
func LoadYAML(r io.Reader) (Config, error) {
	c := DefaultConfig()
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&c); err != nil {
		return Config{}, err
	}
	if c.ListenAddr == "" {
		return Config{}, ErrInvalidConfig
	}
	return c, nil
}
