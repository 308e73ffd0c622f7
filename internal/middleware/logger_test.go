package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/stretchr/testify/assert"
)

func TestLoggerInjectsRequestLogger(t *testing.T) {
	e := echo.New()
	e.Use(echomw.RequestID())
	e.Use(Logger)

	var got *slog.Logger
	e.GET("/health", func(c echo.Context) error {
		got = FromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, got)
	assert.NotSame(t, slog.Default(), got)
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}
