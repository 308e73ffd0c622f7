package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// shutdownTimeout bounds the whole graceful shutdown.
const shutdownTimeout = 10 * time.Second

// Start runs the HTTP server until ctx is canceled, an interrupt or terminate
// signal arrives, or the listener fails. It always shuts down before returning.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Relay listening", "addr", s.Cfg.Addr)
		if err := s.E.Start(s.Cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCtx, stop := waitForShutdown(ctx)
	defer stop()

	var serveErr error
	select {
	case <-sigCtx.Done():
		slog.Info("Shutdown signal received")
	case serveErr = <-errCh:
		if serveErr != nil {
			slog.Error("Server stopped unexpectedly", "error", serveErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(serveErr, s.Shutdown(shutdownCtx))
}
