package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/nfrund/relay/internal/app"
	"github.com/nfrund/relay/internal/config"
	"github.com/nfrund/relay/internal/logging"
	"github.com/nfrund/relay/internal/server"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	logging.New(cfg.LogFormat, cfg.LogLevel)

	ctx := context.Background()
	injector, err := app.NewContainer(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize services", "error", err)
		os.Exit(1)
	}

	s := server.New(cfg, injector)
	if err := s.InitModules(ctx, app.NewModules()); err != nil {
		slog.Error("Failed to initialize modules", "error", err)
		_ = s.Shutdown(ctx)
		os.Exit(1)
	}

	if err := s.Start(ctx); err != nil {
		slog.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}
