package presence

import (
	"context"
	"sync"

	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/pubsub"
)

// Tracker remembers the last presence change of every user seen on the bus.
// It lags the Registry slightly and outlives connections, so it can answer
// "when was this user last seen".
type Tracker struct {
	mu   sync.RWMutex
	last map[string]domain.PresenceEvent
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{last: make(map[string]domain.PresenceEvent)}
}

// Apply records ev unless a newer change for the same user is already known.
func (t *Tracker) Apply(ev domain.PresenceEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.last[ev.UserID]; ok && prev.Timestamp.After(ev.Timestamp) {
		return
	}
	t.last[ev.UserID] = ev
}

// Status returns the last known change for userID.
func (t *Tracker) Status(userID string) (domain.PresenceEvent, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ev, ok := t.last[userID]
	return ev, ok
}

// Follow subscribes the tracker to the online and offline topics.
func (t *Tracker) Follow(ctx context.Context, sub pubsub.Subscriber) error {
	apply := func(_ context.Context, ev domain.PresenceEvent) error {
		t.Apply(ev)
		return nil
	}
	if err := pubsub.Subscribe(ctx, sub, TopicUserOnline, apply); err != nil {
		return err
	}
	return pubsub.Subscribe(ctx, sub, TopicUserOffline, apply)
}
