package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/nfrund/relay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func msgAt(id, from, to string, offset time.Duration) domain.ChatMessage {
	return domain.ChatMessage{
		ID:         id,
		SenderID:   from,
		ReceiverID: to,
		Body:       "body " + id,
		Timestamp:  base.Add(offset),
	}
}

func TestSQLiteStore_SaveIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.Save(ctx, msgAt("m1", "alice", "bob", 0))
	require.NoError(t, err)

	again := msgAt("m1", "alice", "bob", time.Minute)
	again.Body = "changed"
	second, err := store.Save(ctx, again)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "body m1", second.Body)

	msgs, err := store.Conversation(ctx, "alice", "bob", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestSQLiteStore_SaveRejectsIncompleteMessages(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save(context.Background(), domain.ChatMessage{SenderID: "alice"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Contains(t, err.Error(), "id")
	assert.Contains(t, err.Error(), "receiverId")
}

func TestSQLiteStore_Conversation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, m := range []domain.ChatMessage{
		msgAt("m3", "alice", "bob", 3*time.Second),
		msgAt("m1", "alice", "bob", time.Second),
		msgAt("m2", "bob", "alice", 2*time.Second),
		msgAt("x1", "alice", "carol", 0),
	} {
		_, err := store.Save(ctx, m)
		require.NoError(t, err)
	}

	t.Run("full history is ascending and symmetric", func(t *testing.T) {
		for _, pair := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
			msgs, err := store.Conversation(ctx, pair[0], pair[1], 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"m1", "m2", "m3"}, ids(msgs))
		}
	})

	t.Run("limit keeps the latest messages in ascending order", func(t *testing.T) {
		msgs, err := store.Conversation(ctx, "alice", "bob", 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"m2", "m3"}, ids(msgs))
	})

	t.Run("unknown pair is empty, not nil", func(t *testing.T) {
		msgs, err := store.Conversation(ctx, "dave", "erin", 0)
		require.NoError(t, err)
		assert.NotNil(t, msgs)
		assert.Empty(t, msgs)
	})
}

func TestSQLiteStore_SentAndReceived(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := store.Save(ctx, msgAt(fmt.Sprintf("m%d", i), "alice", "bob", time.Duration(i)*time.Second))
		require.NoError(t, err)
	}
	_, err := store.Save(ctx, msgAt("r1", "bob", "alice", 10*time.Second))
	require.NoError(t, err)

	sent, err := store.Sent(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m2", "m1"}, ids(sent))

	received, err := store.Received(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, ids(received))
}

func TestSQLiteStore_TimestampsRoundTripAtMillisecondPrecision(t *testing.T) {
	store := newTestStore(t)
	ts := time.Date(2025, 3, 1, 12, 0, 0, 123_000_000, time.UTC)

	saved, err := store.Save(context.Background(), domain.ChatMessage{
		ID: "m1", SenderID: "alice", ReceiverID: "bob", Body: "hi", Timestamp: ts,
	})
	require.NoError(t, err)
	assert.True(t, ts.Equal(saved.Timestamp))
}

func TestOpenSQLite_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.db")

	store, err := OpenSQLite(path)
	require.NoError(t, err)
	_, err = store.Save(context.Background(), msgAt("m1", "alice", "bob", 0))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	msgs, err := reopened.Conversation(context.Background(), "alice", "bob", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids(msgs))
}

func TestOpenSQLite_RequiresPath(t *testing.T) {
	_, err := OpenSQLite("  ")
	assert.Error(t, err)
}

func ids(msgs []domain.ChatMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
