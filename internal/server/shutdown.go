package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nfrund/relay/internal/app"
)

// waitForShutdown derives a context canceled by ctx or by an interrupt or
// terminate signal.
func waitForShutdown(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// Shutdown stops accepting requests, shuts the modules down in reverse boot
// order and finally releases the shared services.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	if err := s.E.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}

	if s.cancel != nil {
		s.cancel()
	}
	for i := len(s.booted) - 1; i >= 0; i-- {
		m := s.booted[i]
		if err := m.Shutdown(ctx); err != nil {
			slog.Error("Module shutdown failed", "module", m.Name(), "error", err)
			errs = append(errs, fmt.Errorf("module %s: %w", m.Name(), err))
		}
	}
	s.booted = nil

	if err := app.CloseContainer(ctx, s.Injector); err != nil {
		errs = append(errs, err)
	}
	slog.Info("Server shut down")
	return errors.Join(errs...)
}
