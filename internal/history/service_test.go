package history

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedIDs struct {
	n int
}

func (f *fixedIDs) Next() string {
	f.n++
	return "gen-" + string(rune('0'+f.n))
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []pubsub.Message
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, msg pubsub.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (n *recordingNotifier) Notify(note domain.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
}

func newTestService(t *testing.T) (*Service, *recordingPublisher, *recordingNotifier) {
	t.Helper()
	pub := &recordingPublisher{}
	notes := &recordingNotifier{}
	svc := NewService(newTestStore(t), &fixedIDs{}, pub, notes, 2)
	svc.now = func() time.Time { return base }
	return svc, pub, notes
}

func TestService_SendStampsNewMessages(t *testing.T) {
	svc, pub, notes := newTestService(t)

	msg, err := svc.Send(context.Background(), SendRequest{
		SenderID: "alice", ReceiverID: "bob", Message: "hi", SenderName: "Alice",
	})
	require.NoError(t, err)

	assert.Equal(t, "gen-1", msg.ID)
	assert.Equal(t, base, msg.Timestamp)

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, TopicMessageStored.Name(), pub.msgs[0].Topic)
	assert.Equal(t, "bob", pub.msgs[0].UserID)
	var stored StoredMessage
	require.NoError(t, json.Unmarshal(pub.msgs[0].Payload, &stored))
	assert.Equal(t, msg.ID, stored.Message.ID)
	assert.False(t, stored.Relayed)

	require.Len(t, notes.sent, 1)
	assert.Equal(t, domain.Notification{
		SenderID: "alice", ReceiverID: "bob", Message: "hi", SenderName: "Alice",
	}, notes.sent[0])
}

func TestService_SendPreservesRelayIdentity(t *testing.T) {
	svc, pub, notes := newTestService(t)
	ts := base.Add(-time.Hour)

	msg, err := svc.Send(context.Background(), SendRequest{
		ID: "relay-1", SenderID: "alice", ReceiverID: "bob", Message: "hi", Timestamp: &ts,
	})
	require.NoError(t, err)

	assert.Equal(t, "relay-1", msg.ID)
	assert.True(t, ts.Equal(msg.Timestamp))
	require.Len(t, pub.msgs, 1)
	var stored StoredMessage
	require.NoError(t, json.Unmarshal(pub.msgs[0].Payload, &stored))
	assert.True(t, stored.Relayed, "stamped messages already went through the relay")
	assert.Empty(t, notes.sent, "relay already notified for stamped messages")
}

func TestService_SendIsIdempotentByID(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	req := SendRequest{ID: "relay-1", SenderID: "alice", ReceiverID: "bob", Message: "hi"}

	first, err := svc.Send(ctx, req)
	require.NoError(t, err)
	second, err := svc.Send(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	msgs, err := svc.History(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestService_SendFallsBackToSenderIDForName(t *testing.T) {
	svc, _, notes := newTestService(t)

	_, err := svc.Send(context.Background(), SendRequest{SenderID: "alice", ReceiverID: "bob", Message: "hi"})
	require.NoError(t, err)
	require.Len(t, notes.sent, 1)
	assert.Equal(t, "alice", notes.sent[0].SenderName)
}

func TestService_SendValidation(t *testing.T) {
	svc, pub, notes := newTestService(t)

	_, err := svc.Send(context.Background(), SendRequest{SenderID: "alice", Message: "hi"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, pub.msgs)
	assert.Empty(t, notes.sent)
}

func TestService_PublishFailureDoesNotFailSend(t *testing.T) {
	svc, pub, _ := newTestService(t)
	pub.err = errors.New("bus closed")

	msg, err := svc.Send(context.Background(), SendRequest{SenderID: "alice", ReceiverID: "bob", Message: "hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
}

func TestService_RecentUsesLimit(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		svc.now = func() time.Time { return base.Add(time.Duration(i) * time.Second) }
		_, err := svc.Send(ctx, SendRequest{SenderID: "alice", ReceiverID: "bob", Message: "hi"})
		require.NoError(t, err)
	}

	recent, err := svc.Recent(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"gen-2", "gen-3"}, ids(recent))

	all, err := svc.History(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestNewService_DefaultRecentLimit(t *testing.T) {
	svc := NewService(newTestStore(t), &fixedIDs{}, nil, nil, 0)
	assert.Equal(t, DefaultRecentLimit, svc.recentLimit)

	// nil publisher and notifier are tolerated
	_, err := svc.Send(context.Background(), SendRequest{SenderID: "a", ReceiverID: "b", Message: "m"})
	assert.NoError(t, err)
}
