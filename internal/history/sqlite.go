package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/nfrund/relay/internal/domain"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	id          TEXT PRIMARY KEY,
	sender_id   TEXT NOT NULL,
	receiver_id TEXT NOT NULL,
	body        TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS chat_messages_pair ON chat_messages (sender_id, receiver_id, created_at);
CREATE INDEX IF NOT EXISTS chat_messages_receiver ON chat_messages (receiver_id, created_at);
`

const selectColumns = `SELECT id, sender_id, receiver_id, body, created_at FROM chat_messages`

// SQLiteStore persists messages in SQLite.
type SQLiteStore struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// OpenSQLite opens (creating if needed) the database at path. ":memory:" gives
// a private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping checks the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// Save inserts msg unless a message with the same id exists.
func (s *SQLiteStore) Save(ctx context.Context, msg domain.ChatMessage) (domain.ChatMessage, error) {
	if err := validateForSave(msg); err != nil {
		return domain.ChatMessage{}, err
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO chat_messages (id, sender_id, receiver_id, body, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		msg.ID, msg.SenderID, msg.ReceiverID, msg.Body, toMillis(msg.Timestamp),
	)
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("insert message: %w", err)
	}

	row := s.sqlDB.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, msg.ID)
	stored, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ChatMessage{}, fmt.Errorf("message %s: %w", msg.ID, domain.ErrNotFound)
	}
	return stored, err
}

// Conversation returns messages exchanged between user1 and user2.
func (s *SQLiteStore) Conversation(ctx context.Context, user1, user2 string, limit int) ([]domain.ChatMessage, error) {
	where := ` WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)`
	args := []any{user1, user2, user2, user1}

	if limit <= 0 {
		return s.query(ctx, selectColumns+where+` ORDER BY created_at ASC, rowid ASC`, args...)
	}

	msgs, err := s.query(ctx, selectColumns+where+` ORDER BY created_at DESC, rowid DESC LIMIT ?`, append(args, limit)...)
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

// Sent returns messages sent by userID, newest first.
func (s *SQLiteStore) Sent(ctx context.Context, userID string) ([]domain.ChatMessage, error) {
	return s.query(ctx, selectColumns+` WHERE sender_id = ? ORDER BY created_at DESC, rowid DESC`, userID)
}

// Received returns messages addressed to userID, newest first.
func (s *SQLiteStore) Received(ctx context.Context, userID string) ([]domain.ChatMessage, error) {
	return s.query(ctx, selectColumns+` WHERE receiver_id = ? ORDER BY created_at DESC, rowid DESC`, userID)
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]domain.ChatMessage, error) {
	rows, err := s.sqlDB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	msgs := make([]domain.ChatMessage, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (domain.ChatMessage, error) {
	var (
		msg       domain.ChatMessage
		createdAt int64
	)
	if err := row.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Body, &createdAt); err != nil {
		return domain.ChatMessage{}, err
	}
	msg.Timestamp = fromMillis(createdAt)
	return msg, nil
}
