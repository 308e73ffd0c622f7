// Package router delivers chat and typing events between connected users.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/notify"
	"github.com/nfrund/relay/internal/presence"
	"github.com/nfrund/relay/internal/protocol"
)

// Directory resolves a user id to its live connection.
type Directory interface {
	Lookup(userID string) (presence.Handle, bool)
}

// ChatRequest is an unstamped chat message.
type ChatRequest struct {
	SenderID   string `validate:"required"`
	ReceiverID string `validate:"required"`
	Body       string `validate:"required"`
	SenderName string
}

type typingRequest struct {
	SenderID   string `validate:"required"`
	ReceiverID string `validate:"required"`
}

// Ack reports the outcome of RouteChat. Delivered is false when the receiver was
// not connected; the message was not queued.
type Ack struct {
	ID        string
	Delivered bool
	Timestamp time.Time
}

// Router stamps, forwards and acknowledges messages.
type Router struct {
	dir      Directory
	notifier notify.Notifier
	ids      *IDGenerator
	validate *validator.Validate
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithIDGenerator replaces the default id generator.
func WithIDGenerator(g *IDGenerator) Option {
	return func(r *Router) {
		r.ids = g
	}
}

// WithClock replaces time.Now for stamping.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		r.now = now
	}
}

// WithValidator shares a validator instance.
func WithValidator(v *validator.Validate) Option {
	return func(r *Router) {
		r.validate = v
	}
}

// New creates a router. notifier may be nil.
func New(dir Directory, notifier notify.Notifier, opts ...Option) *Router {
	r := &Router{
		dir:      dir,
		notifier: notifier,
		ids:      NewIDGenerator(),
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
		logger:   slog.Default().With("component", "router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RouteChat validates req, stamps it with a new id and timestamp, and forwards
// it to the receiver if connected. The notification is triggered whether or not
// the message was delivered.
func (r *Router) RouteChat(ctx context.Context, req ChatRequest) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	if err := r.check(req); err != nil {
		return Ack{}, err
	}

	msg := domain.ChatMessage{
		ID:         r.ids.Next(),
		SenderID:   req.SenderID,
		ReceiverID: req.ReceiverID,
		Body:       req.Body,
		Timestamp:  r.now(),
	}

	err := r.forward(msg)
	ack := Ack{ID: msg.ID, Delivered: err == nil, Timestamp: msg.Timestamp}
	if err != nil {
		r.logger.Debug("Chat message not delivered", "message_id", msg.ID, "reason", err)
	}

	if r.notifier != nil {
		name := req.SenderName
		if name == "" {
			name = req.SenderID
		}
		r.notifier.Notify(domain.Notification{
			SenderID:   msg.SenderID,
			ReceiverID: msg.ReceiverID,
			Message:    msg.Body,
			SenderName: name,
		})
	}

	return ack, nil
}

// RouteTyping forwards a typing signal to the receiver if connected and drops
// it otherwise.
func (r *Router) RouteTyping(ctx context.Context, senderID, receiverID string, isTyping bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.check(typingRequest{SenderID: senderID, ReceiverID: receiverID}); err != nil {
		return err
	}

	h, ok := r.dir.Lookup(receiverID)
	if !ok {
		return nil
	}
	frame, err := protocol.Encode(protocol.TypingEvent{
		SenderID:  senderID,
		IsTyping:  isTyping,
		Timestamp: r.now(),
	})
	if err != nil {
		return err
	}
	if err := h.Send(frame); err != nil {
		r.logger.Debug("Typing signal dropped", "receiver_id", receiverID, "error", err)
	}
	return nil
}

// Forward delivers an already stamped message without acknowledgement or
// notification. It reports whether the receiver got it.
func (r *Router) Forward(msg domain.ChatMessage) bool {
	return r.forward(msg) == nil
}

func (r *Router) forward(msg domain.ChatMessage) error {
	h, ok := r.dir.Lookup(msg.ReceiverID)
	if !ok {
		return fmt.Errorf("%w: %s is not connected", domain.ErrDelivery, msg.ReceiverID)
	}
	frame, err := protocol.Encode(protocol.DeliveryOf(msg))
	if err != nil {
		return err
	}
	if err := h.Send(frame); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDelivery, err)
	}
	return nil
}

func (r *Router) check(req any) error {
	err := r.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		missing := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			missing = append(missing, fe.Field())
		}
		return fmt.Errorf("%w: missing %s", domain.ErrProtocol, strings.Join(missing, ", "))
	}
	return fmt.Errorf("%w: %v", domain.ErrProtocol, err)
}
