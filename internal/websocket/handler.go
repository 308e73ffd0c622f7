// Package websocket serves the realtime endpoint: it accepts connections,
// binds them to users through the presence registry and dispatches their
// frames to the router.
package websocket

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"
	"github.com/nfrund/relay/internal/presence"
	"github.com/nfrund/relay/internal/router"
)

// Subprotocols accepted on the realtime endpoint, newest first.
var Subprotocols = []string{"relay.v2", "relay.v1"}

// Config tunes per-connection behaviour.
type Config struct {
	// AuthTimeout closes connections that have not sent a valid auth frame. Zero disables it.
	AuthTimeout time.Duration
	SendBuffer  int
	// ProbeTimeout bounds a single liveness ping.
	ProbeTimeout time.Duration
}

// Handler upgrades HTTP requests and runs one session per connection.
type Handler struct {
	registry *presence.Registry
	router   *router.Router
	cfg      Config
	logger   *slog.Logger
}

// NewHandler creates the realtime endpoint handler.
func NewHandler(registry *presence.Registry, r *router.Router, cfg Config) *Handler {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = presence.DefaultHeartbeatInterval
	}
	return &Handler{
		registry: registry,
		router:   r,
		cfg:      cfg,
		logger:   slog.Default().With("component", "websocket"),
	}
}

// Serve is the echo handler for the realtime endpoint.
func (h *Handler) Serve(c echo.Context) error {
	ws, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		Subprotocols:       Subprotocols,
		InsecureSkipVerify: true, // Identity is verified upstream; origin checks belong there too.
	})
	if err != nil {
		h.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
		return err
	}

	conn := newConn(ws, h.cfg.SendBuffer, h.cfg.ProbeTimeout)
	sess := &session{
		conn:     conn,
		registry: h.registry,
		router:   h.router,
		logger:   conn.logger,
	}
	conn.logger.Info("WebSocket connection accepted",
		"remote", c.Request().RemoteAddr,
		"subprotocol", conn.Subprotocol())

	go conn.writePump()
	go sess.readPump(h.cfg.AuthTimeout)

	return nil
}

// readPump pumps frames from the socket into the session until the peer goes away.
func (s *session) readPump(authTimeout time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if authTimeout > 0 {
		timer := time.AfterFunc(authTimeout, func() {
			if !s.authenticated() {
				s.logger.Info("Closing connection that never authenticated", "timeout", authTimeout)
				s.conn.Terminate()
			}
		})
		defer timer.Stop()
	}

	defer func() {
		if userID, ok := s.registry.Unregister(s.conn); ok {
			s.logger.Info("Connection closed", "user_id", userID)
		}
		_ = s.conn.Close()
	}()

	for {
		_, data, err := s.conn.ws.Read(ctx)
		if err != nil {
			if isClosedErr(err) {
				s.logger.Info("WebSocket closed by client", "user_id", s.userID())
			} else {
				s.logger.Debug("WebSocket read error", "user_id", s.userID(), "error", err)
			}
			return
		}
		if stop := s.dispatch(ctx, data); stop {
			return
		}
	}
}
