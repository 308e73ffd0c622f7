// Package client is the consumer side of the relay: a connection manager that
// keeps a realtime session alive, falls back to REST, and keeps the local
// conversation in timestamp order.
package client

import "github.com/nfrund/relay/internal/domain"

// Buffer holds a conversation ordered by non-decreasing timestamp. It is not
// safe for concurrent use; the Manager only touches it from its dispatcher.
type Buffer struct {
	msgs []domain.ChatMessage
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Insert adds msg unless it duplicates a buffered message and returns the
// resulting sequence. Messages usually arrive in order, so the scan for the
// insertion point starts at the tail; equal timestamps keep arrival order.
func (b *Buffer) Insert(msg domain.ChatMessage) []domain.ChatMessage {
	for _, existing := range b.msgs {
		if duplicate(existing, msg) {
			return b.Messages()
		}
	}

	i := len(b.msgs)
	for i > 0 && b.msgs[i-1].Timestamp.After(msg.Timestamp) {
		i--
	}
	b.msgs = append(b.msgs, domain.ChatMessage{})
	copy(b.msgs[i+1:], b.msgs[i:])
	b.msgs[i] = msg
	return b.Messages()
}

// duplicate compares ids when both are set, content otherwise.
func duplicate(a, b domain.ChatMessage) bool {
	if a.ID != "" && b.ID != "" {
		return a.ID == b.ID
	}
	return a.SameContent(b)
}

// Replace swaps the contents wholesale. msgs is trusted to be ordered already.
func (b *Buffer) Replace(msgs []domain.ChatMessage) {
	b.msgs = append([]domain.ChatMessage(nil), msgs...)
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.msgs = nil
}

// Messages returns a copy of the buffered messages.
func (b *Buffer) Messages() []domain.ChatMessage {
	out := make([]domain.ChatMessage, len(b.msgs))
	copy(out, b.msgs)
	return out
}

// Len returns the number of buffered messages.
func (b *Buffer) Len() int {
	return len(b.msgs)
}
