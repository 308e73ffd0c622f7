package pubsub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type presencePayload struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

var testEvent = NewEvent[presencePayload]("test.presence", "presence changes in tests")

func TestTypedPublishSubscribe(t *testing.T) {
	bridge := NewWatermillBridge()
	t.Cleanup(func() { _ = bridge.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan presencePayload, 1)
	require.NoError(t, Subscribe(ctx, bridge, testEvent, func(_ context.Context, p presencePayload) error {
		got <- p
		return nil
	}))

	require.NoError(t, Publish(ctx, bridge, testEvent, "alice", presencePayload{UserID: "alice", Online: true}))

	select {
	case p := <-got:
		assert.Equal(t, presencePayload{UserID: "alice", Online: true}, p)
	case <-time.After(2 * time.Second):
		t.Fatal("typed event not delivered")
	}
	assert.Equal(t, "test.presence", testEvent.Name())
	assert.NotEmpty(t, testEvent.Description())
}

func TestHandlerErrorDoesNotBlockLaterMessages(t *testing.T) {
	bridge := NewWatermillBridge()
	t.Cleanup(func() { _ = bridge.Close() })

	ctx := context.Background()
	calls := make(chan string, 2)
	require.NoError(t, bridge.Subscribe(ctx, "t", func(_ context.Context, msg Message) error {
		calls <- string(msg.Payload)
		if string(msg.Payload) == "bad" {
			return errors.New("boom")
		}
		return nil
	}))

	require.NoError(t, bridge.Publish(ctx, Message{Topic: "t", Payload: []byte("bad")}))
	require.NoError(t, bridge.Publish(ctx, Message{Topic: "t", Payload: []byte("good")}))

	var seen []string
	require.Eventually(t, func() bool {
		for {
			select {
			case c := <-calls:
				seen = append(seen, c)
			default:
				return len(seen) == 2
			}
		}
	}, 2*time.Second, 10*time.Millisecond)
	// GoChannel fans out on goroutines, so order across publishes is not guaranteed.
	assert.ElementsMatch(t, []string{"bad", "good"}, seen)
}

func TestCloseIsIdempotent(t *testing.T) {
	bridge := NewWatermillBridge()
	assert.NoError(t, bridge.Close())
	assert.NoError(t, bridge.Close())
}
