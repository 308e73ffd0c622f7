package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nfrund/relay/internal/config"
	"github.com/nfrund/relay/internal/database"
	"github.com/nfrund/relay/internal/handlers"
	"github.com/nfrund/relay/internal/history"
	"github.com/nfrund/relay/internal/notify"
	"github.com/nfrund/relay/internal/pubsub"
	"github.com/nfrund/relay/internal/router"
	"github.com/samber/do/v2"
	"go.opentelemetry.io/otel/trace"
)

// Tracing is the bus tracer plus the function that flushes and stops it.
type Tracing struct {
	Tracer  trace.Tracer
	Cleanup func()
}

// NewContainer provides the services shared by all modules and resolves them
// eagerly, so a store that cannot be opened fails startup instead of the first request.
func NewContainer(ctx context.Context, cfg *config.Config) (do.Injector, error) {
	i := do.New()

	do.ProvideValue(i, cfg)
	do.ProvideValue(i, handlers.NewValidator())
	do.ProvideValue(i, router.NewIDGenerator())

	do.Provide(i, func(i do.Injector) (*Tracing, error) {
		tracer, cleanup, err := pubsub.SetupOTel(ctx, pubsub.TracingConfig{
			Enabled:     cfg.Tracing.Enabled,
			ServiceName: cfg.Tracing.ServiceName,
			ZipkinURL:   cfg.Tracing.ZipkinURL,
		})
		if err != nil {
			return nil, fmt.Errorf("setup tracing: %w", err)
		}
		return &Tracing{Tracer: tracer, Cleanup: cleanup}, nil
	})

	do.Provide[pubsub.Bus](i, func(i do.Injector) (pubsub.Bus, error) {
		tracing := do.MustInvoke[*Tracing](i)
		return pubsub.NewWatermillBridgeWithTracer(tracing.Tracer), nil
	})

	do.Provide(i, func(i do.Injector) (*notify.Trigger, error) {
		return notify.New(cfg.NotifyURL, notify.WithTimeout(cfg.NotifyTimeout)), nil
	})

	do.Provide[history.Store](i, func(i do.Injector) (history.Store, error) {
		return openStore(ctx, cfg)
	})

	if _, err := do.Invoke[*Tracing](i); err != nil {
		return nil, err
	}
	if _, err := do.Invoke[pubsub.Bus](i); err != nil {
		return nil, err
	}
	if _, err := do.Invoke[*notify.Trigger](i); err != nil {
		return nil, err
	}
	if _, err := do.Invoke[history.Store](i); err != nil {
		return nil, err
	}
	return i, nil
}

func openStore(ctx context.Context, cfg *config.Config) (history.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreSurreal:
		db, err := database.NewDB(ctx, cfg.Surreal)
		if err != nil {
			return nil, fmt.Errorf("connect surrealdb: %w", err)
		}
		slog.Info("Using SurrealDB message store", "namespace", cfg.Surreal.NS, "database", cfg.Surreal.DB)
		return history.NewSurrealStore(db), nil
	default:
		store, err := history.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		slog.Info("Using SQLite message store", "path", cfg.SQLitePath)
		return store, nil
	}
}

// CloseContainer releases the shared services in dependency order: pending
// notifications first, then the bus, the store and finally the tracer.
func CloseContainer(ctx context.Context, i do.Injector) error {
	var errs []error

	if trigger, err := do.Invoke[*notify.Trigger](i); err == nil {
		if err := trigger.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("notifications: %w", err))
		}
	}
	if bus, err := do.Invoke[pubsub.Bus](i); err == nil {
		if err := bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("bus: %w", err))
		}
	}
	if store, err := do.Invoke[history.Store](i); err == nil {
		if err := store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if tracing, err := do.Invoke[*Tracing](i); err == nil {
		tracing.Cleanup()
	}
	return errors.Join(errs...)
}
