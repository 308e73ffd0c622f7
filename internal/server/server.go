package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nfrund/relay/internal/config"
	"github.com/nfrund/relay/internal/handlers"
	appmiddleware "github.com/nfrund/relay/internal/middleware"
	"github.com/nfrund/relay/internal/module"
	"github.com/samber/do/v2"
)

// Server holds the HTTP server and the modules mounted on it.
type Server struct {
	E        *echo.Echo
	Cfg      *config.Config
	Injector do.Injector

	modules []module.Module
	booted  []module.Module
	cancel  context.CancelFunc
}

// New creates a new Server instance with the core middleware installed.
func New(cfg *config.Config, injector do.Injector) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(appmiddleware.Logger)
	e.Use(middleware.Recover())

	e.Validator = do.MustInvoke[*handlers.CustomValidator](injector)
	setupErrorHandling(e)

	e.GET("/health", handlers.Health)

	return &Server{
		E:        e,
		Cfg:      cfg,
		Injector: injector,
	}
}

// setupErrorHandling logs a stack trace for errors that no handler turned into
// an *echo.HTTPError, then renders the standard error response.
func setupErrorHandling(e *echo.Echo) {
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		var he *echo.HTTPError
		if !errors.As(err, &he) {
			appmiddleware.FromContext(c.Request().Context()).Error("Internal Server Error (Unhandled)",
				"error", err,
				"stack_trace", string(debug.Stack()),
			)
		}
		handlers.ErrorHandler(err, c)
	}
}

// InitModules registers every module with the container, then boots them in
// order. Background work started by Boot lives until Shutdown.
func (s *Server) InitModules(ctx context.Context, modules []module.Module) error {
	s.modules = modules
	for _, m := range modules {
		if err := m.Register(s.Injector); err != nil {
			return fmt.Errorf("register module %s: %w", m.Name(), err)
		}
	}

	ctx, s.cancel = context.WithCancel(ctx)
	root := s.E.Group("")
	for _, m := range modules {
		if err := m.Boot(ctx, root, s.Injector); err != nil {
			return fmt.Errorf("boot module %s: %w", m.Name(), err)
		}
		s.booted = append(s.booted, m)
		slog.Info("Module booted", "module", m.Name())
	}
	return nil
}
