// Package history wires the message store and its REST API into the app.
package history

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/relay/internal/config"
	"github.com/nfrund/relay/internal/history"
	"github.com/nfrund/relay/internal/middleware"
	"github.com/nfrund/relay/internal/module"
	"github.com/nfrund/relay/internal/notify"
	"github.com/nfrund/relay/internal/pubsub"
	"github.com/nfrund/relay/internal/router"
	"github.com/samber/do/v2"
)

// HistoryModule mounts the REST fallback and history endpoints under /api/chat.
type HistoryModule struct {
	module.BaseModule
}

// New creates the history module.
func New() *HistoryModule {
	return &HistoryModule{}
}

// Name returns the module name.
func (m *HistoryModule) Name() string {
	return "history"
}

// Register provides the history service.
func (m *HistoryModule) Register(i do.Injector) error {
	do.Provide(i, func(i do.Injector) (*history.Service, error) {
		cfg := do.MustInvoke[*config.Config](i)
		var notifier notify.Notifier
		if trigger := do.MustInvoke[*notify.Trigger](i); trigger.Enabled() {
			notifier = trigger
		}
		return history.NewService(
			do.MustInvoke[history.Store](i),
			do.MustInvoke[*router.IDGenerator](i),
			do.MustInvoke[pubsub.Bus](i),
			notifier,
			cfg.RecentLimit,
		), nil
	})
	return nil
}

// Boot sets up the routes. Only the send route is rate limited.
func (m *HistoryModule) Boot(ctx context.Context, g *echo.Group, i do.Injector) error {
	slog.Info("Booting HistoryModule: Setting up routes...")
	cfg := do.MustInvoke[*config.Config](i)
	svc := do.MustInvoke[*history.Service](i)

	history.NewHandler(svc).Register(g.Group("/api/chat"), middleware.RateLimiter(cfg.RateLimitPerMinute))
	return nil
}
