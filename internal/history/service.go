package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/notify"
	"github.com/nfrund/relay/internal/pubsub"
)

// StoredMessage is published after a message is saved so the relay can push
// it to a connected receiver. Relayed is set when the message already went
// through the relay and must not be pushed again.
type StoredMessage struct {
	Message domain.ChatMessage `json:"message"`
	Relayed bool               `json:"relayed,omitempty"`
}

// TopicMessageStored carries every message saved by Service.Send.
var TopicMessageStored = pubsub.NewEvent[StoredMessage](
	"chat.message.stored",
	"Published after a chat message is saved by the history service",
)

// IDSource issues message ids.
type IDSource interface {
	Next() string
}

// SendRequest is a message submitted over REST. ID and Timestamp are set when
// the relay already stamped the message and must be preserved.
type SendRequest struct {
	ID         string     `json:"id,omitempty"`
	SenderID   string     `json:"senderId" validate:"required"`
	ReceiverID string     `json:"receiverId" validate:"required"`
	Message    string     `json:"message" validate:"required"`
	SenderName string     `json:"senderName,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

// Service implements the durable side of message delivery.
type Service struct {
	store       Store
	ids         IDSource
	publisher   pubsub.Publisher
	notifier    notify.Notifier
	recentLimit int
	now         func() time.Time
	logger      *slog.Logger
}

// DefaultRecentLimit is the number of messages returned by Recent.
const DefaultRecentLimit = 50

// NewService creates the history service. publisher and notifier may be nil.
func NewService(store Store, ids IDSource, publisher pubsub.Publisher, notifier notify.Notifier, recentLimit int) *Service {
	if recentLimit <= 0 {
		recentLimit = DefaultRecentLimit
	}
	return &Service{
		store:       store,
		ids:         ids,
		publisher:   publisher,
		notifier:    notifier,
		recentLimit: recentLimit,
		now:         func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
		logger:      slog.Default().With("component", "history"),
	}
}

// Send stores a message. Messages without an id are stamped here and trigger a
// notification; messages carrying an id were already routed (and notified) by
// the relay.
func (s *Service) Send(ctx context.Context, req SendRequest) (domain.ChatMessage, error) {
	if req.SenderID == "" || req.ReceiverID == "" || req.Message == "" {
		return domain.ChatMessage{}, fmt.Errorf("%w: senderId, receiverId and message are required", domain.ErrInvalidInput)
	}

	fresh := req.ID == ""
	msg := domain.ChatMessage{
		ID:         req.ID,
		SenderID:   req.SenderID,
		ReceiverID: req.ReceiverID,
		Body:       req.Message,
	}
	if fresh {
		msg.ID = s.ids.Next()
	}
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		msg.Timestamp = req.Timestamp.UTC()
	} else {
		msg.Timestamp = s.now()
	}

	stored, err := s.store.Save(ctx, msg)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	s.logger.Info("Message stored", "message_id", stored.ID, "sender_id", stored.SenderID, "receiver_id", stored.ReceiverID)

	if s.publisher != nil {
		if err := pubsub.Publish(ctx, s.publisher, TopicMessageStored, stored.ReceiverID, StoredMessage{Message: stored, Relayed: !fresh}); err != nil {
			s.logger.Error("Failed to publish stored message", "message_id", stored.ID, "error", err)
		}
	}

	if fresh && s.notifier != nil {
		name := req.SenderName
		if name == "" {
			name = req.SenderID
		}
		s.notifier.Notify(domain.Notification{
			SenderID:   stored.SenderID,
			ReceiverID: stored.ReceiverID,
			Message:    stored.Body,
			SenderName: name,
		})
	}
	return stored, nil
}

// History returns the full conversation between two users, oldest first.
func (s *Service) History(ctx context.Context, user1, user2 string) ([]domain.ChatMessage, error) {
	return s.store.Conversation(ctx, user1, user2, 0)
}

// Recent returns the latest messages between two users, oldest first.
func (s *Service) Recent(ctx context.Context, user1, user2 string) ([]domain.ChatMessage, error) {
	return s.store.Conversation(ctx, user1, user2, s.recentLimit)
}

// Sent returns a user's sent messages, newest first.
func (s *Service) Sent(ctx context.Context, userID string) ([]domain.ChatMessage, error) {
	return s.store.Sent(ctx, userID)
}

// Received returns a user's received messages, newest first.
func (s *Service) Received(ctx context.Context, userID string) ([]domain.ChatMessage, error) {
	return s.store.Received(ctx, userID)
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
