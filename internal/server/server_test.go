package server_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/internal/core/document"
	"github.com/driftsync/driftsync/internal/core/engine"
	"github.com/driftsync/driftsync/internal/core/events/bus"
	"github.com/driftsync/driftsync/internal/core/observability/log"
	"github.com/driftsync/driftsync/internal/core/protocol"
	"github.com/driftsync/driftsync/internal/core/protocol/websocket"
	"github.com/driftsync/driftsync/internal/core/value"
	"github.com/driftsync/driftsync/internal/server"
)

func startTestServer(t *testing.T) (*server.Server, *server.Core) {
	t.Helper()
	core := server.NewCore(log.Nop())
	config := server.DefaultConfig()
	config.ListenAddr = "127.0.0.1:0"

	s := server.New(core, config, log.Nop())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })
	return s, core
}

func TestWebSocketRoundTrip(t *testing.T) {
	s, core := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	transportConfig := protocol.DefaultConfig()
	transportConfig.ServerAddr = s.Addr()
	tr, err := websocket.Dial(ctx, transportConfig, log.Nop())
	require.NoError(t, err)

	config := engine.DefaultConfig()
	config.Logger = log.Nop()
	e := engine.New(tr, config)
	t.Cleanup(func() { _ = e.Close() })

	key := document.Key{Collection: "rooms", ID: "eros"}
	pw, err := e.Update(key,
		engine.SetValue("name", value.String("eros")),
		engine.Increment("count", value.Integer(3)),
	)
	require.NoError(t, err)
	require.NoError(t, pw.Await(ctx))

	snap, err := e.Snapshot(key, bus.TimestampNull)
	require.NoError(t, err)
	require.False(t, snap.HasPendingWrites)
	require.True(t, value.Integer(3).Equal(snap.Fields["count"]))

	remote, ok := core.Document(key)
	require.True(t, ok)
	require.True(t, value.Map(remote.Fields).Equal(value.Map(snap.Fields)))
}

func TestWebSocketRejectionReachesClient(t *testing.T) {
	s, _ := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	transportConfig := protocol.DefaultConfig()
	transportConfig.ServerAddr = s.Addr()
	tr, err := websocket.Dial(ctx, transportConfig, log.Nop())
	require.NoError(t, err)

	config := engine.DefaultConfig()
	config.Logger = log.Nop()
	e := engine.New(tr, config)
	t.Cleanup(func() { _ = e.Close() })

	pw, err := e.Set(document.Key{}, map[string]value.Value{"x": value.Integer(1)})
	require.NoError(t, err)
	require.ErrorIs(t, pw.Await(ctx), engine.ErrBatchRejected)
}
