package presence

import (
	"context"
	"testing"
	"time"

	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_KeepsNewestChange(t *testing.T) {
	tr := NewTracker()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tr.Apply(domain.PresenceEvent{UserID: "alice", Online: true, Timestamp: now})
	tr.Apply(domain.PresenceEvent{UserID: "alice", Online: false, Timestamp: now.Add(time.Minute)})
	tr.Apply(domain.PresenceEvent{UserID: "alice", Online: true, Timestamp: now.Add(-time.Minute)})

	ev, ok := tr.Status("alice")
	require.True(t, ok)
	assert.False(t, ev.Online)
	assert.Equal(t, now.Add(time.Minute), ev.Timestamp)

	_, ok = tr.Status("bob")
	assert.False(t, ok)
}

func TestTracker_FollowsRegistryThroughBus(t *testing.T) {
	bus := pubsub.NewWatermillBridge()
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	tr := NewTracker()
	require.NoError(t, tr.Follow(ctx, bus))

	reg := NewRegistry(WithPublisher(bus))
	h := newMockHandle("a")
	reg.Register("alice", h)

	require.Eventually(t, func() bool {
		ev, ok := tr.Status("alice")
		return ok && ev.Online
	}, time.Second, 5*time.Millisecond)

	reg.Unregister(h)
	require.Eventually(t, func() bool {
		ev, ok := tr.Status("alice")
		return ok && !ev.Online
	}, time.Second, 5*time.Millisecond)
}
