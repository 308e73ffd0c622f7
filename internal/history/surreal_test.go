package history

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nfrund/relay/internal/config"
	"github.com/nfrund/relay/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newSurrealStore connects to the database named by SURREAL_URL, using a
// throwaway database so runs do not see each other's rows.
func newSurrealStore(t *testing.T) *SurrealStore {
	t.Helper()
	url := os.Getenv("SURREAL_URL")
	if url == "" {
		t.Skip("SURREAL_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.NewDB(ctx, config.SurrealConfig{
		URL:  url,
		NS:   "relay_test",
		DB:   "t_" + uuid.NewString()[:8],
		User: os.Getenv("SURREAL_USER"),
		Pass: os.Getenv("SURREAL_PASS"),
	})
	require.NoError(t, err)

	store := NewSurrealStore(db)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSurrealStore(t *testing.T) {
	store := newSurrealStore(t)
	ctx := context.Background()

	require.NoError(t, store.Ping(ctx))

	first, err := store.Save(ctx, msgAt("m1", "alice", "bob", time.Second))
	require.NoError(t, err)
	dup := msgAt("m1", "alice", "bob", time.Hour)
	dup.Body = "changed"
	second, err := store.Save(ctx, dup)
	require.NoError(t, err)
	assert.Equal(t, first.Body, second.Body)

	_, err = store.Save(ctx, msgAt("m2", "bob", "alice", 2*time.Second))
	require.NoError(t, err)
	_, err = store.Save(ctx, msgAt("m3", "alice", "bob", 3*time.Second))
	require.NoError(t, err)

	msgs, err := store.Conversation(ctx, "bob", "alice", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(msgs))

	recent, err := store.Conversation(ctx, "alice", "bob", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m3"}, ids(recent))

	sent, err := store.Sent(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m1"}, ids(sent))

	received, err := store.Received(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"m2"}, ids(received))
}
