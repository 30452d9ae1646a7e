// syncd is the driftsync relay daemon: it accepts client batches over
// WebSocket (and optionally QUIC), applies them to the authoritative store
// and answers with commit acknowledgements.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/driftsync/driftsync/internal/core/observability/log"
	"github.com/driftsync/driftsync/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	listenAddr := flag.String("listen", "", "websocket listen address, overrides config")
	enableQUIC := flag.Bool("quic", false, "also listen for QUIC clients")
	flag.Parse()

	config := server.DefaultConfig()
	if *configPath != "" {
		loaded, err := server.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error loading config:", err)
			os.Exit(1)
		}
		config = loaded
	}
	if *listenAddr != "" {
		config.ListenAddr = *listenAddr
	}
	if *enableQUIC {
		config.EnableQUIC = true
	}

	logger := log.New(parseLevel(config.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	core := server.NewCore(logger)
	srv := server.New(core, config, logger)

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	if err := srv.Start(ctx); err != nil {
		logger.Error("failed to start server", log.Error(err))
		os.Exit(1)
	}

	<-stopCh
	cancel()
	if err := srv.Stop(); err != nil {
		logger.Error("error stopping server", log.Error(err))
	}
}

func parseLevel(s string) log.Level {
	switch s {
	case "debug":
		return log.LevelDebug
	case "warn":
		return log.LevelWarn
	case "error":
		return log.LevelError
	default:
		return log.LevelInfo
	}
}
