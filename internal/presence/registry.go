package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/protocol"
	"github.com/nfrund/relay/internal/pubsub"
)

// Handle is a live connection as the registry sees it. Implementations must be
// comparable (pointer types) and none of the methods may block.
type Handle interface {
	// Send enqueues an encoded frame for delivery.
	Send(frame []byte) error
	// Probe sends a liveness probe and calls onAnswer if the peer answers it.
	Probe(onAnswer func())
	// Close starts a graceful close.
	Close() error
	// Terminate drops the transport immediately.
	Terminate()
}

type entry struct {
	userID      string
	handle      Handle
	connectedAt time.Time
	lastSeen    time.Time
	alive       bool
}

// Registry maps user ids to their single live connection.
type Registry struct {
	mu       sync.Mutex
	byUser   map[string]*entry
	byHandle map[Handle]*entry

	publisher pubsub.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithPublisher mirrors presence changes onto the bus.
func WithPublisher(p pubsub.Publisher) Option {
	return func(r *Registry) {
		r.publisher = p
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		byUser:   make(map[string]*entry),
		byHandle: make(map[Handle]*entry),
		logger:   slog.Default().With("component", "presence"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds userID to h. A previous handle for the same user is closed and
// replaced; if h was bound to another user that binding is dropped. Every other
// registered connection is told that userID connected.
func (r *Registry) Register(userID string, h Handle) {
	r.mu.Lock()
	now := r.now()

	var replaced Handle
	if old, ok := r.byUser[userID]; ok && old.handle != h {
		replaced = old.handle
		delete(r.byHandle, old.handle)
	}

	var rebound string
	if prev, ok := r.byHandle[h]; ok && prev.userID != userID {
		rebound = prev.userID
		delete(r.byUser, prev.userID)
	}

	e := &entry{userID: userID, handle: h, connectedAt: now, lastSeen: now, alive: true}
	r.byUser[userID] = e
	r.byHandle[h] = e

	if replaced != nil {
		// Errors from a connection we are discarding are not interesting.
		_ = replaced.Close()
	}
	others := r.othersLocked(h)
	r.mu.Unlock()

	if replaced != nil {
		r.logger.Info("Replaced existing connection", "user_id", userID)
	}
	if rebound != "" {
		r.broadcast(others, protocol.UserDisconnected{UserID: rebound, Timestamp: now})
		r.publish(TopicUserOffline, domain.PresenceEvent{UserID: rebound, Online: false, Timestamp: now})
	}

	r.logger.Info("User came online", "user_id", userID, "online", len(others)+1)
	r.broadcast(others, protocol.UserConnected{UserID: userID, Timestamp: now})
	r.publish(TopicUserOnline, domain.PresenceEvent{UserID: userID, Online: true, Timestamp: now})
}

// Unregister removes h and tells everyone else its user left. It reports the
// user id h was bound to, and false if h was not registered.
func (r *Registry) Unregister(h Handle) (string, bool) {
	r.mu.Lock()
	e, ok := r.byHandle[h]
	if !ok {
		r.mu.Unlock()
		return "", false
	}
	r.removeLocked(e)
	others := r.othersLocked(nil)
	now := r.now()
	r.mu.Unlock()

	r.logger.Info("User went offline", "user_id", e.userID, "online", len(others))
	r.broadcast(others, protocol.UserDisconnected{UserID: e.userID, Timestamp: now})
	r.publish(TopicUserOffline, domain.PresenceEvent{UserID: e.userID, Online: false, Timestamp: now})
	return e.userID, true
}

// Lookup returns the live handle for userID.
func (r *Registry) Lookup(userID string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byUser[userID]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

// UserOf returns the user bound to h.
func (r *Registry) UserOf(h Handle) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byHandle[h]
	if !ok {
		return "", false
	}
	return e.userID, true
}

// ListOnline returns every registered user id, sorted.
func (r *Registry) ListOnline() []string {
	r.mu.Lock()
	users := make([]string, 0, len(r.byUser))
	for userID := range r.byUser {
		users = append(users, userID)
	}
	r.mu.Unlock()

	sort.Strings(users)
	return users
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser)
}

// MarkAlive records that h answered a probe or sent traffic.
func (r *Registry) MarkAlive(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byHandle[h]; ok {
		e.alive = true
		e.lastSeen = r.now()
	}
}

// Handles returns a snapshot of every registered handle.
func (r *Registry) Handles() []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Handle, 0, len(r.byHandle))
	for h := range r.byHandle {
		out = append(out, h)
	}
	return out
}

// arm clears the alive flag and reports whether it was set. ok is false when h
// is no longer registered.
func (r *Registry) arm(h Handle) (wasAlive, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byHandle[h]
	if !ok {
		return false, false
	}
	wasAlive = e.alive
	e.alive = false
	return wasAlive, true
}

// Broadcast sends frame to every registered connection.
func (r *Registry) Broadcast(frame protocol.Frame) {
	r.mu.Lock()
	all := r.othersLocked(nil)
	r.mu.Unlock()
	r.broadcast(all, frame)
}

func (r *Registry) removeLocked(e *entry) {
	delete(r.byHandle, e.handle)
	if cur, ok := r.byUser[e.userID]; ok && cur == e {
		delete(r.byUser, e.userID)
	}
}

func (r *Registry) othersLocked(except Handle) []Handle {
	out := make([]Handle, 0, len(r.byHandle))
	for h := range r.byHandle {
		if h != except {
			out = append(out, h)
		}
	}
	return out
}

func (r *Registry) broadcast(to []Handle, frame protocol.Frame) {
	if len(to) == 0 {
		return
	}
	data, err := protocol.Encode(frame)
	if err != nil {
		r.logger.Error("Failed to encode presence frame", "type", frame.FrameType(), "error", err)
		return
	}
	for _, h := range to {
		if err := h.Send(data); err != nil {
			r.logger.Debug("Dropped presence frame", "type", frame.FrameType(), "error", err)
		}
	}
}

func (r *Registry) publish(topic pubsub.Event[domain.PresenceEvent], ev domain.PresenceEvent) {
	if r.publisher == nil {
		return
	}
	if err := pubsub.Publish(context.Background(), r.publisher, topic, ev.UserID, ev); err != nil {
		r.logger.Error("Failed to publish presence event", "topic", topic.Name(), "error", err)
	}
}
