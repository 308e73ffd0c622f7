package history

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/middleware"
)

// Handler exposes the history service over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates the REST handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the routes on g. sendMiddleware is applied to the send route only.
func (h *Handler) Register(g *echo.Group, sendMiddleware ...echo.MiddlewareFunc) {
	g.POST("/send", h.Send, sendMiddleware...)
	g.GET("/history", h.History)
	g.GET("/recent", h.Recent)
	g.GET("/sent/:userId", h.Sent)
	g.GET("/received/:userId", h.Received)
	g.GET("/health", h.Health)
}

// Send stores a message submitted by a client that could not use the realtime channel.
func (h *Handler) Send(c echo.Context) error {
	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body").SetInternal(err)
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "senderId, receiverId and message are required").SetInternal(err)
	}

	msg, err := h.service.Send(c.Request().Context(), req)
	if err != nil {
		return mapError(err, "Failed to send message")
	}
	return c.JSON(http.StatusCreated, msg)
}

// History returns the whole conversation between user1 and user2.
func (h *Handler) History(c echo.Context) error {
	user1, user2, err := pair(c)
	if err != nil {
		return err
	}
	msgs, err := h.service.History(c.Request().Context(), user1, user2)
	if err != nil {
		return mapError(err, "Failed to load history")
	}
	return c.JSON(http.StatusOK, msgs)
}

// Recent returns the latest messages between user1 and user2.
func (h *Handler) Recent(c echo.Context) error {
	user1, user2, err := pair(c)
	if err != nil {
		return err
	}
	msgs, err := h.service.Recent(c.Request().Context(), user1, user2)
	if err != nil {
		return mapError(err, "Failed to load recent messages")
	}
	return c.JSON(http.StatusOK, msgs)
}

func (h *Handler) Sent(c echo.Context) error {
	msgs, err := h.service.Sent(c.Request().Context(), c.Param("userId"))
	if err != nil {
		return mapError(err, "Failed to load sent messages")
	}
	return c.JSON(http.StatusOK, msgs)
}

func (h *Handler) Received(c echo.Context) error {
	msgs, err := h.service.Received(c.Request().Context(), c.Param("userId"))
	if err != nil {
		return mapError(err, "Failed to load received messages")
	}
	return c.JSON(http.StatusOK, msgs)
}

// Health reports whether the store is reachable.
func (h *Handler) Health(c echo.Context) error {
	if err := h.service.Ping(c.Request().Context()); err != nil {
		middleware.FromContext(c.Request().Context()).Error("History store unhealthy", "error", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func pair(c echo.Context) (string, string, error) {
	user1, user2 := c.QueryParam("user1"), c.QueryParam("user2")
	if user1 == "" || user2 == "" {
		return "", "", echo.NewHTTPError(http.StatusBadRequest, "user1 and user2 are required")
	}
	return user1, user2, nil
}

func mapError(err error, message string) error {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	case errors.Is(err, domain.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, message).SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, message).SetInternal(err)
	}
}
