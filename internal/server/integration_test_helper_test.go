package server_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nfrund/relay/internal/app"
	"github.com/nfrund/relay/internal/config"
	"github.com/nfrund/relay/internal/protocol"
	"github.com/nfrund/relay/internal/server"
	"github.com/stretchr/testify/require"
)

// setupIntegrationTest boots the full application the way cmd/server does,
// backed by an in-memory SQLite store, and serves it from an httptest server.
func setupIntegrationTest(t *testing.T) (*server.Server, *httptest.Server) {
	t.Helper()

	cfg := &config.Config{
		Addr:               "127.0.0.1:0",
		HeartbeatInterval:  time.Hour,
		AuthTimeout:        5 * time.Second,
		SendBuffer:         64,
		StoreDriver:        config.StoreSQLite,
		SQLitePath:         ":memory:",
		RecentLimit:        50,
		NotifyTimeout:      time.Second,
		RateLimitPerMinute: 600,
	}

	ctx := context.Background()
	injector, err := app.NewContainer(ctx, cfg)
	require.NoError(t, err)

	s := server.New(cfg, injector)
	require.NoError(t, s.InitModules(ctx, app.NewModules()))

	testServer := httptest.NewServer(s.E)
	t.Cleanup(func() {
		testServer.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	})
	return s, testServer
}

func wsURL(testServer *httptest.Server) string {
	return "ws" + strings.TrimPrefix(testServer.URL, "http") + "/ws"
}

// rawClient is a bare gorilla connection speaking the relay.v1 subprotocol.
type rawClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialRaw(t *testing.T, testServer *httptest.Server) *rawClient {
	t.Helper()
	dialer := websocket.Dialer{Subprotocols: []string{"relay.v1"}}
	conn, _, err := dialer.Dial(wsURL(testServer), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &rawClient{t: t, conn: conn}
}

func (c *rawClient) send(f protocol.Frame) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, protocol.MustEncode(f)))
}

// next reads frames until one of type T arrives.
func next[T protocol.Frame](c *rawClient) T {
	c.t.Helper()
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err)
		f, err := protocol.DecodeServer(data)
		require.NoError(c.t, err)
		if typed, ok := f.(T); ok {
			return typed
		}
	}
}

func (c *rawClient) auth(userID string) {
	c.t.Helper()
	c.send(protocol.Auth{UserID: userID})
	ok := next[protocol.AuthSuccess](c)
	require.Equal(c.t, userID, ok.UserID)
}

func decodeJSON(t *testing.T, body string, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(body), v))
}
