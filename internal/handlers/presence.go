package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/relay/internal/domain"
)

// OnlineLister is the part of the presence registry the handler needs.
type OnlineLister interface {
	ListOnline() []string
}

// StatusLookup returns the last presence change seen for a user.
type StatusLookup interface {
	Status(userID string) (domain.PresenceEvent, bool)
}

// PresenceHandler handles presence-related HTTP requests
type PresenceHandler struct {
	presence OnlineLister
	status   StatusLookup
}

// NewPresenceHandler creates a new presence handler
func NewPresenceHandler(presence OnlineLister, status StatusLookup) *PresenceHandler {
	return &PresenceHandler{presence: presence, status: status}
}

// UserPresence is the body of GET /api/presence/:userId.
type UserPresence struct {
	UserID   string    `json:"userId"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen"`
}

// GetPresence returns the current online users as JSON
func (h *PresenceHandler) GetPresence(c echo.Context) error {
	onlineUsers := h.presence.ListOnline()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"online_users": onlineUsers,
		"count":        len(onlineUsers),
	})
}

// GetUserPresence returns the last known presence of one user.
func (h *PresenceHandler) GetUserPresence(c echo.Context) error {
	userID := c.Param("userId")
	ev, ok := h.status.Status(userID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "user has not been seen")
	}
	return c.JSON(http.StatusOK, UserPresence{UserID: userID, Online: ev.Online, LastSeen: ev.Timestamp})
}

// Health reports that the process is serving.
func Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
