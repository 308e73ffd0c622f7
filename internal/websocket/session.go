package websocket

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/presence"
	"github.com/nfrund/relay/internal/protocol"
	"github.com/nfrund/relay/internal/router"
)

// session holds the per-connection state. dispatch is only ever called from
// the connection's read pump, so frames are handled one at a time.
type session struct {
	conn     *Conn
	registry *presence.Registry
	router   *router.Router
	logger   *slog.Logger

	mu   sync.Mutex
	user string
}

func (s *session) userID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *session) authenticated() bool {
	return s.userID() != ""
}

// dispatch handles one inbound frame. It reports true when the session should end.
func (s *session) dispatch(ctx context.Context, data []byte) (stop bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered from panic in connection handler", "panic", r)
			stop = false
		}
	}()

	s.registry.MarkAlive(s.conn)

	frame, err := protocol.DecodeClient(data)
	if err != nil {
		var unknown *protocol.UnknownTypeError
		if errors.As(err, &unknown) {
			s.reply(protocol.ErrorFrame(protocol.ErrTextUnknownType))
		} else {
			s.reply(protocol.ErrorFrame(protocol.ErrTextInvalidFormat))
		}
		s.logger.Debug("Rejected frame", "error", err)
		return false
	}

	switch f := frame.(type) {
	case protocol.Auth:
		s.handleAuth(f)
	case protocol.GetOnlineUsers:
		s.sendOnlineUsers()
	case protocol.ChatRequest:
		s.handleChat(ctx, f)
	case protocol.TypingRequest:
		s.handleTyping(ctx, f)
	case protocol.Disconnect:
		return true
	}
	return false
}

func (s *session) handleAuth(f protocol.Auth) {
	userID := strings.TrimSpace(f.UserID)
	if userID == "" {
		s.reply(protocol.ErrorFrame(protocol.ErrTextUserRequired))
		return
	}

	s.mu.Lock()
	s.user = userID
	s.mu.Unlock()

	s.registry.Register(userID, s.conn)
	s.logger.Info("User authenticated", "user_id", userID)

	s.reply(protocol.MustEncode(protocol.AuthSuccess{UserID: userID, Timestamp: now()}))
	s.sendOnlineUsers()
}

func (s *session) sendOnlineUsers() {
	s.reply(protocol.MustEncode(protocol.OnlineUsers{
		Users:     s.registry.ListOnline(),
		Timestamp: now(),
	}))
}

func (s *session) handleChat(ctx context.Context, f protocol.ChatRequest) {
	if !s.authenticated() {
		s.reply(protocol.ErrorFrame(protocol.ErrTextNotAuthed))
		return
	}

	ack, err := s.router.RouteChat(ctx, router.ChatRequest{
		SenderID:   f.SenderID,
		ReceiverID: f.ReceiverID,
		Body:       f.Message,
		SenderName: f.SenderName,
	})
	if err != nil {
		if errors.Is(err, domain.ErrProtocol) {
			s.reply(protocol.ErrorFrame(protocol.ErrTextInvalidChat))
		}
		s.logger.Debug("Chat message rejected", "error", err)
		return
	}

	s.reply(protocol.MustEncode(protocol.MessageSent{
		MessageID: ack.ID,
		Sent:      ack.Delivered,
		Timestamp: ack.Timestamp,
	}))
}

func (s *session) handleTyping(ctx context.Context, f protocol.TypingRequest) {
	if !s.authenticated() {
		s.reply(protocol.ErrorFrame(protocol.ErrTextNotAuthed))
		return
	}

	err := s.router.RouteTyping(ctx, f.SenderID, f.ReceiverID, bool(f.IsTyping))
	if errors.Is(err, domain.ErrProtocol) {
		s.reply(protocol.ErrorFrame(protocol.ErrTextInvalidTyping))
	}
}

func (s *session) reply(frame []byte) {
	if err := s.conn.Send(frame); err != nil {
		s.logger.Debug("Reply dropped", "error", err)
	}
}

func now() time.Time { return time.Now().UTC() }
