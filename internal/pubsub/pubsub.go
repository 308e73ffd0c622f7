package pubsub

import (
	"context"
)

// Message is the structure passed between components on the in-process bus.
type Message struct {
	// Topic identifies the channel the message belongs to (e.g., "chat.message.stored").
	Topic string
	// UserID identifies the user the event is about.
	UserID string
	// Payload contains the JSON encoded event.
	Payload []byte
	// Metadata can contain arbitrary key-value pairs for context (e.g., request ids).
	Metadata map[string]string
}

// Handler defines the function signature for processing a received message.
type Handler func(ctx context.Context, msg Message) error

// Publisher defines the contract for sending messages to the bus.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber defines the contract for receiving messages from the bus.
type Subscriber interface {
	// Subscribe starts listening to the given topic in the background and returns
	// once the subscription is active. It stops when ctx is canceled or the bus closes.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// Bus is both ends of the in-process pub/sub.
type Bus interface {
	Publisher
	Subscriber
}
