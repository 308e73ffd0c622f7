package history

import (
	"context"
	"fmt"

	"github.com/nfrund/relay/internal/database"
	"github.com/nfrund/relay/internal/domain"
	"github.com/surrealdb/surrealdb.go"
)

const surrealFields = "SELECT msg_id, sender_id, receiver_id, body, created_at FROM chat_message"

// surrealRow is the stored shape. created_at is unix millis, matching the SQLite store.
type surrealRow struct {
	MsgID      string `json:"msg_id"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	Body       string `json:"body"`
	CreatedAt  int64  `json:"created_at"`
}

func (r surrealRow) message() domain.ChatMessage {
	return domain.ChatMessage{
		ID:         r.MsgID,
		SenderID:   r.SenderID,
		ReceiverID: r.ReceiverID,
		Body:       r.Body,
		Timestamp:  fromMillis(r.CreatedAt),
	}
}

func rowsToMessages(rows []surrealRow) []domain.ChatMessage {
	msgs := make([]domain.ChatMessage, len(rows))
	for i, r := range rows {
		msgs[i] = r.message()
	}
	return msgs
}

// SurrealStore persists messages in SurrealDB.
type SurrealStore struct {
	db *surrealdb.DB
}

// NewSurrealStore wraps an open connection.
func NewSurrealStore(db *surrealdb.DB) *SurrealStore {
	return &SurrealStore{db: db}
}

// Close closes the connection.
func (s *SurrealStore) Close() error {
	return s.db.Close(context.Background())
}

// Ping checks the database answers.
func (s *SurrealStore) Ping(ctx context.Context) error {
	return database.Ping(ctx, s.db)
}

// Save inserts msg unless a record with the same id exists.
func (s *SurrealStore) Save(ctx context.Context, msg domain.ChatMessage) (domain.ChatMessage, error) {
	if err := validateForSave(msg); err != nil {
		return domain.ChatMessage{}, err
	}

	err := database.Execute(ctx, s.db,
		`INSERT IGNORE INTO chat_message {
			id: type::thing("chat_message", $id),
			msg_id: $id,
			sender_id: $sender,
			receiver_id: $receiver,
			body: $body,
			created_at: $created_at
		}`,
		map[string]any{
			"id":         msg.ID,
			"sender":     msg.SenderID,
			"receiver":   msg.ReceiverID,
			"body":       msg.Body,
			"created_at": toMillis(msg.Timestamp),
		})
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("insert message: %w", err)
	}

	row, err := database.QueryOne[surrealRow](ctx, s.db,
		surrealFields+" WHERE msg_id = $id LIMIT 1",
		map[string]any{"id": msg.ID})
	if err != nil {
		return domain.ChatMessage{}, err
	}
	return row.message(), nil
}

// Conversation returns messages exchanged between user1 and user2.
func (s *SurrealStore) Conversation(ctx context.Context, user1, user2 string, limit int) ([]domain.ChatMessage, error) {
	where := " WHERE (sender_id = $a AND receiver_id = $b) OR (sender_id = $b AND receiver_id = $a)"
	params := map[string]any{"a": user1, "b": user2}

	if limit <= 0 {
		rows, err := database.Query[surrealRow](ctx, s.db, surrealFields+where+" ORDER BY created_at ASC", params)
		if err != nil {
			return nil, err
		}
		return rowsToMessages(rows), nil
	}

	params["limit"] = limit
	rows, err := database.Query[surrealRow](ctx, s.db, surrealFields+where+" ORDER BY created_at DESC LIMIT $limit", params)
	if err != nil {
		return nil, err
	}
	msgs := rowsToMessages(rows)
	reverse(msgs)
	return msgs, nil
}

// Sent returns messages sent by userID, newest first.
func (s *SurrealStore) Sent(ctx context.Context, userID string) ([]domain.ChatMessage, error) {
	rows, err := database.Query[surrealRow](ctx, s.db,
		surrealFields+" WHERE sender_id = $user ORDER BY created_at DESC",
		map[string]any{"user": userID})
	if err != nil {
		return nil, err
	}
	return rowsToMessages(rows), nil
}

// Received returns messages addressed to userID, newest first.
func (s *SurrealStore) Received(ctx context.Context, userID string) ([]domain.ChatMessage, error) {
	rows, err := database.Query[surrealRow](ctx, s.db,
		surrealFields+" WHERE receiver_id = $user ORDER BY created_at DESC",
		map[string]any{"user": userID})
	if err != nil {
		return nil, err
	}
	return rowsToMessages(rows), nil
}
