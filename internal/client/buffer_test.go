package client

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/nfrund/relay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func chat(id string, offset time.Duration) domain.ChatMessage {
	return domain.ChatMessage{
		ID:         id,
		SenderID:   "alice",
		ReceiverID: "bob",
		Body:       "msg " + id,
		Timestamp:  t0.Add(offset),
	}
}

func bufferIDs(msgs []domain.ChatMessage) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

func TestBuffer_InsertIsIdempotentByID(t *testing.T) {
	b := NewBuffer()
	msg := chat("m1", 0)

	once := b.Insert(msg)
	twice := b.Insert(msg)
	assert.Len(t, twice, len(once))

	// Same id with different content is still the same message.
	changed := msg
	changed.Body = "edited"
	assert.Len(t, b.Insert(changed), 1)
	assert.Equal(t, "msg m1", b.Messages()[0].Body)
}

func TestBuffer_ContentDedupWhenIDMissing(t *testing.T) {
	b := NewBuffer()
	withID := chat("m1", 0)
	b.Insert(withID)

	noID := withID
	noID.ID = ""
	assert.Equal(t, 1, len(b.Insert(noID)), "same content without id is a duplicate")

	other := noID
	other.Body = "different"
	assert.Equal(t, 2, len(b.Insert(other)))
}

func TestBuffer_DistinctIDsWithSameContentAreKept(t *testing.T) {
	b := NewBuffer()
	a := chat("m1", 0)
	c := a
	c.ID = "m2"
	b.Insert(a)
	assert.Len(t, b.Insert(c), 2)
}

func TestBuffer_OrdersByTimestamp(t *testing.T) {
	b := NewBuffer()
	b.Insert(chat("c", 3*time.Second))
	b.Insert(chat("a", time.Second))
	b.Insert(chat("d", 4*time.Second))
	msgs := b.Insert(chat("b", 2*time.Second))

	assert.Equal(t, []string{"a", "b", "c", "d"}, bufferIDs(msgs))
}

func TestBuffer_EqualTimestampsKeepArrivalOrder(t *testing.T) {
	b := NewBuffer()
	b.Insert(chat("first", time.Second))
	b.Insert(chat("later", 2*time.Second))
	msgs := b.Insert(chat("second", time.Second))

	assert.Equal(t, []string{"first", "second", "later"}, bufferIDs(msgs))
}

func TestBuffer_TimestampsNonDecreasingForAnyInsertOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		b := NewBuffer()
		n := 1 + rng.Intn(30)
		for i := 0; i < n; i++ {
			// Small range so equal timestamps and duplicates both happen.
			offset := time.Duration(rng.Intn(10)) * time.Millisecond
			b.Insert(chat(fmt.Sprintf("m%d", rng.Intn(n)), offset))
		}

		msgs := b.Messages()
		for i := 1; i < len(msgs); i++ {
			require.False(t, msgs[i].Timestamp.Before(msgs[i-1].Timestamp),
				"round %d: %v before %v", round, msgs[i].Timestamp, msgs[i-1].Timestamp)
		}
		seen := make(map[string]bool)
		for _, m := range msgs {
			require.False(t, seen[m.ID], "round %d: duplicate id %s", round, m.ID)
			seen[m.ID] = true
		}
	}
}

func TestBuffer_ReplaceDoesNotSort(t *testing.T) {
	b := NewBuffer()
	b.Insert(chat("old", 0))

	b.Replace([]domain.ChatMessage{chat("y", 2*time.Second), chat("x", time.Second)})
	assert.Equal(t, []string{"y", "x"}, bufferIDs(b.Messages()))
	assert.Equal(t, 2, b.Len())
}

func TestBuffer_ClearAndCopies(t *testing.T) {
	b := NewBuffer()
	b.Insert(chat("m1", 0))

	snapshot := b.Messages()
	snapshot[0].Body = "mutated"
	assert.Equal(t, "msg m1", b.Messages()[0].Body)

	b.Clear()
	assert.Zero(t, b.Len())
	assert.Empty(t, b.Messages())
}
