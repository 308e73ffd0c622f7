package domain

import "time"

// ChatMessage is a point-to-point chat message. Once the router or the store has
// stamped ID and Timestamp it is never modified.
type ChatMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Body       string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// SameContent reports whether two messages carry the same sender, receiver, body and timestamp.
func (m ChatMessage) SameContent(o ChatMessage) bool {
	return m.SenderID == o.SenderID &&
		m.ReceiverID == o.ReceiverID &&
		m.Body == o.Body &&
		m.Timestamp.Equal(o.Timestamp)
}

// TypingSignal is ephemeral and never stored.
type TypingSignal struct {
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId,omitempty"`
	IsTyping   bool      `json:"isTyping"`
	Timestamp  time.Time `json:"timestamp"`
}

// PresenceEvent is derived from registry changes and only ever broadcast.
type PresenceEvent struct {
	UserID    string    `json:"userId"`
	Online    bool      `json:"online"`
	Timestamp time.Time `json:"timestamp"`
}

// Notification is the payload handed to the out-of-band notification endpoint.
type Notification struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Message    string `json:"message"`
	SenderName string `json:"senderName"`
}
