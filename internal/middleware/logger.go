package middleware

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
)

type contextKey string

const loggerKey = contextKey("logger")

// Logger is a middleware that injects a request-scoped logger into the context.
// The logger carries the request ID set by echo's RequestID middleware, so it
// must be placed after it in the chain.
func Logger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		reqID := c.Response().Header().Get(echo.HeaderXRequestID)
		requestLogger := slog.Default().With(
			"request_id", reqID,
			"method", c.Request().Method,
			"path", c.Path(),
		)

		newCtx := WithLogger(c.Request().Context(), requestLogger)
		c.SetRequest(c.Request().WithContext(newCtx))

		return next(c)
	}
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the request logger, or the default logger outside a request.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
