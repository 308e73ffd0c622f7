// Package relay wires the realtime presence and messaging relay into the app.
package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/relay/internal/config"
	"github.com/nfrund/relay/internal/handlers"
	"github.com/nfrund/relay/internal/history"
	"github.com/nfrund/relay/internal/module"
	"github.com/nfrund/relay/internal/notify"
	"github.com/nfrund/relay/internal/presence"
	"github.com/nfrund/relay/internal/pubsub"
	"github.com/nfrund/relay/internal/router"
	"github.com/nfrund/relay/internal/websocket"
	"github.com/samber/do/v2"
)

// RelayModule owns the connection registry, heartbeat and realtime endpoint.
type RelayModule struct {
	module.BaseModule

	heartbeat *presence.Heartbeat
	registry  *presence.Registry
	cancel    context.CancelFunc
}

// New creates the relay module.
func New() *RelayModule {
	return &RelayModule{}
}

// Name returns the module name.
func (m *RelayModule) Name() string {
	return "relay"
}

// Register provides the registry, router and websocket handler.
func (m *RelayModule) Register(i do.Injector) error {
	do.Provide(i, func(i do.Injector) (*presence.Registry, error) {
		bus := do.MustInvoke[pubsub.Bus](i)
		return presence.NewRegistry(presence.WithPublisher(bus)), nil
	})

	do.Provide(i, func(i do.Injector) (*router.Router, error) {
		reg := do.MustInvoke[*presence.Registry](i)
		ids := do.MustInvoke[*router.IDGenerator](i)
		v := do.MustInvoke[*handlers.CustomValidator](i)
		var notifier notify.Notifier
		if trigger := do.MustInvoke[*notify.Trigger](i); trigger.Enabled() {
			notifier = trigger
		}
		return router.New(reg, notifier, router.WithIDGenerator(ids), router.WithValidator(v.Engine())), nil
	})

	do.Provide(i, func(i do.Injector) (*websocket.Handler, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return websocket.NewHandler(
			do.MustInvoke[*presence.Registry](i),
			do.MustInvoke[*router.Router](i),
			websocket.Config{
				AuthTimeout:  cfg.AuthTimeout,
				SendBuffer:   cfg.SendBuffer,
				ProbeTimeout: cfg.HeartbeatInterval,
			},
		), nil
	})

	do.Provide(i, func(i do.Injector) (*presence.Tracker, error) {
		return presence.NewTracker(), nil
	})

	do.Provide(i, func(i do.Injector) (*presence.Heartbeat, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return presence.NewHeartbeat(do.MustInvoke[*presence.Registry](i), cfg.HeartbeatInterval), nil
	})

	slog.Info("RelayModule registered")
	return nil
}

// Boot mounts the realtime and presence endpoints, starts the heartbeat, feeds
// the presence tracker and forwards messages stored through the REST path to
// connected receivers.
func (m *RelayModule) Boot(ctx context.Context, g *echo.Group, i do.Injector) error {
	slog.Info("Booting RelayModule: Setting up routes...")

	m.registry = do.MustInvoke[*presence.Registry](i)
	m.heartbeat = do.MustInvoke[*presence.Heartbeat](i)
	ws := do.MustInvoke[*websocket.Handler](i)
	rt := do.MustInvoke[*router.Router](i)
	bus := do.MustInvoke[pubsub.Bus](i)
	tracker := do.MustInvoke[*presence.Tracker](i)

	g.GET("/ws", ws.Serve)
	ph := handlers.NewPresenceHandler(m.registry, tracker)
	g.GET("/api/presence", ph.GetPresence)
	g.GET("/api/presence/:userId", ph.GetUserPresence)

	ctx, m.cancel = context.WithCancel(ctx)
	m.heartbeat.Start(ctx)

	if err := tracker.Follow(ctx, bus); err != nil {
		return fmt.Errorf("follow presence events: %w", err)
	}

	return pubsub.Subscribe(ctx, bus, history.TopicMessageStored, func(_ context.Context, stored history.StoredMessage) error {
		if stored.Relayed {
			return nil
		}
		if rt.Forward(stored.Message) {
			slog.Debug("Forwarded stored message", "message_id", stored.Message.ID, "receiver_id", stored.Message.ReceiverID)
		}
		return nil
	})
}

// Shutdown stops the heartbeat and closes every live connection.
func (m *RelayModule) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down RelayModule...")
	if m.cancel != nil {
		m.cancel()
	}
	if m.heartbeat != nil {
		m.heartbeat.Stop()
	}
	if m.registry != nil {
		for _, h := range m.registry.Handles() {
			if _, ok := m.registry.Unregister(h); ok {
				_ = h.Close()
			}
		}
	}
	return nil
}
