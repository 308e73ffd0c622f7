package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/relay/internal/middleware"
)

// ErrorResponse is the standard format for API error responses.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorHandler renders every error as an ErrorResponse. It is installed as
// echo's HTTPErrorHandler.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := http.StatusText(code)

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			message = m
		} else {
			message = http.StatusText(code)
		}
	}

	logger := middleware.FromContext(c.Request().Context())
	if code >= http.StatusInternalServerError {
		logger.Error("Request failed", "status", code, "error", err)
	} else {
		logger.Debug("Request rejected", "status", code, "error", err)
	}

	resp := ErrorResponse{Code: http.StatusText(code), Message: message}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, resp)
	}
	if err != nil {
		logger.Error("Failed to write error response", "error", err)
	}
}
