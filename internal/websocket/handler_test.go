package websocket_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/presence"
	"github.com/nfrund/relay/internal/protocol"
	"github.com/nfrund/relay/internal/router"
	ws "github.com/nfrund/relay/internal/websocket"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []domain.Notification
}

func (n *recordingNotifier) Notify(note domain.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, note)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

// testFixture holds all the components needed for testing the endpoint.
type testFixture struct {
	registry *presence.Registry
	notifier *recordingNotifier
	server   *httptest.Server
	wsURL    string
}

func newFixture(t *testing.T, cfg ws.Config) *testFixture {
	t.Helper()

	registry := presence.NewRegistry()
	notifier := &recordingNotifier{}
	handler := ws.NewHandler(registry, router.New(registry, notifier), cfg)

	e := echo.New()
	e.GET("/ws", handler.Serve)
	server := httptest.NewServer(e)
	t.Cleanup(server.Close)

	return &testFixture{
		registry: registry,
		notifier: notifier,
		server:   server,
		wsURL:    "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
	}
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (f *testFixture) dial(t *testing.T) *testClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, f.wsURL, &websocket.DialOptions{Subprotocols: []string{"relay.v2"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	assert.Equal(t, "relay.v2", conn.Subprotocol())
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(raw string) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(c.t, c.conn.Write(ctx, websocket.MessageText, []byte(raw)))
}

// next reads frames until one of the wanted type arrives.
func (c *testClient) next(want protocol.Type) map[string]any {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		_, data, err := c.conn.Read(ctx)
		require.NoError(c.t, err, "waiting for %s", want)
		var out map[string]any
		require.NoError(c.t, json.Unmarshal(data, &out))
		if out["type"] == string(want) {
			return out
		}
	}
}

func (c *testClient) auth(userID string) {
	c.t.Helper()
	c.send(`{"type":"auth","userId":"` + userID + `"}`)
	ok := c.next(protocol.TypeAuthSuccess)
	assert.Equal(c.t, userID, ok["userId"])
	c.next(protocol.TypeOnlineUsers)
}

func TestHandler_AuthAndPresence(t *testing.T) {
	f := newFixture(t, ws.Config{})

	alice := f.dial(t)
	alice.send(`{"type":"auth","userId":"alice"}`)
	alice.next(protocol.TypeAuthSuccess)
	online := alice.next(protocol.TypeOnlineUsers)
	assert.Equal(t, []any{"alice"}, online["users"])

	bob := f.dial(t)
	bob.auth("bob")

	joined := alice.next(protocol.TypeUserConnected)
	assert.Equal(t, "bob", joined["userId"])

	bob.send(`{"type":"get_online_users"}`)
	online = bob.next(protocol.TypeOnlineUsers)
	assert.ElementsMatch(t, []any{"alice", "bob"}, online["users"])

	require.NoError(t, bob.conn.Close(websocket.StatusNormalClosure, "bye"))
	left := alice.next(protocol.TypeUserDisconnected)
	assert.Equal(t, "bob", left["userId"])
	assert.Eventually(t, func() bool { return f.registry.Len() == 1 }, time.Second, 10*time.Millisecond)
}

func TestHandler_ChatDeliveryAndAck(t *testing.T) {
	f := newFixture(t, ws.Config{})

	alice, bob := f.dial(t), f.dial(t)
	alice.auth("alice")
	bob.auth("bob")

	alice.send(`{"type":"message","senderId":"alice","receiverId":"bob","message":"hello"}`)

	ack := alice.next(protocol.TypeMessageSent)
	assert.Equal(t, true, ack["sent"])

	msg := bob.next(protocol.TypeMessage)
	assert.Equal(t, ack["messageId"], msg["id"])
	assert.Equal(t, "hello", msg["message"])
	assert.Equal(t, "alice", msg["senderId"])

	alice.send(`{"type":"typing","senderId":"alice","receiverId":"bob","isTyping":"true"}`)
	typing := bob.next(protocol.TypeTyping)
	assert.Equal(t, true, typing["isTyping"])

	assert.Eventually(t, func() bool { return f.notifier.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestHandler_UndeliveredChat(t *testing.T) {
	f := newFixture(t, ws.Config{})

	alice := f.dial(t)
	alice.auth("alice")

	alice.send(`{"type":"message","senderId":"alice","receiverId":"bob","message":"anyone?"}`)
	ack := alice.next(protocol.TypeMessageSent)
	assert.Equal(t, false, ack["sent"])
	assert.NotEmpty(t, ack["messageId"])
	assert.Eventually(t, func() bool { return f.notifier.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestHandler_ErrorFrames(t *testing.T) {
	f := newFixture(t, ws.Config{})
	c := f.dial(t)

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"malformed", `{"type":`, protocol.ErrTextInvalidFormat},
		{"unknown type", `{"type":"subscribe"}`, protocol.ErrTextUnknownType},
		{"empty user", `{"type":"auth","userId":"  "}`, protocol.ErrTextUserRequired},
		{"chat before auth", `{"type":"message","senderId":"a","receiverId":"b","message":"x"}`, protocol.ErrTextNotAuthed},
	}
	for _, tt := range tests {
		c.send(tt.raw)
		got := c.next(protocol.TypeError)
		assert.Equal(t, tt.want, got["error"], tt.name)
	}

	c.auth("alice")
	c.send(`{"type":"message","senderId":"alice","receiverId":"","message":"x"}`)
	assert.Equal(t, protocol.ErrTextInvalidChat, c.next(protocol.TypeError)["error"])

	c.send(`{"type":"typing","senderId":"alice","receiverId":"","isTyping":true}`)
	assert.Equal(t, protocol.ErrTextInvalidTyping, c.next(protocol.TypeError)["error"])

	// The connection survived every error.
	assert.Equal(t, []string{"alice"}, f.registry.ListOnline())
	assert.Zero(t, f.notifier.count())
}

func TestHandler_ReconnectReplacesOldConnection(t *testing.T) {
	f := newFixture(t, ws.Config{})

	first := f.dial(t)
	first.auth("alice")

	second := f.dial(t)
	second.auth("alice")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		_, _, err := first.conn.Read(ctx)
		if err != nil {
			assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
			break
		}
	}
	assert.Equal(t, []string{"alice"}, f.registry.ListOnline())
}

func TestHandler_DisconnectFrame(t *testing.T) {
	f := newFixture(t, ws.Config{})

	c := f.dial(t)
	c.auth("alice")
	c.send(`{"type":"disconnect"}`)

	assert.Eventually(t, func() bool { return f.registry.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHandler_AuthTimeout(t *testing.T) {
	f := newFixture(t, ws.Config{AuthTimeout: 50 * time.Millisecond})
	c := f.dial(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := c.conn.Read(ctx)
	assert.Error(t, err)
}
