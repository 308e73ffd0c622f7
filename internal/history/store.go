// Package history is the durable message store behind the REST fallback path.
package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/nfrund/relay/internal/domain"
)

// Store persists chat messages. Save is idempotent by message id: saving an id
// that already exists returns the stored copy unchanged.
type Store interface {
	Save(ctx context.Context, msg domain.ChatMessage) (domain.ChatMessage, error)
	// Conversation returns messages between two users in ascending time order.
	// With limit > 0 only the latest limit messages are returned, still ascending.
	Conversation(ctx context.Context, user1, user2 string, limit int) ([]domain.ChatMessage, error)
	// Sent and Received return newest first.
	Sent(ctx context.Context, userID string) ([]domain.ChatMessage, error)
	Received(ctx context.Context, userID string) ([]domain.ChatMessage, error)
	Ping(ctx context.Context) error
	Close() error
}

func validateForSave(msg domain.ChatMessage) error {
	var missing []string
	if strings.TrimSpace(msg.ID) == "" {
		missing = append(missing, "id")
	}
	if msg.SenderID == "" {
		missing = append(missing, "senderId")
	}
	if msg.ReceiverID == "" {
		missing = append(missing, "receiverId")
	}
	if msg.Body == "" {
		missing = append(missing, "message")
	}
	if msg.Timestamp.IsZero() {
		missing = append(missing, "timestamp")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", domain.ErrInvalidInput, strings.Join(missing, ", "))
	}
	return nil
}

func reverse(msgs []domain.ChatMessage) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
