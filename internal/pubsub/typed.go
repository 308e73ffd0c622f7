package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
)

// Event[T] binds a topic name to its payload type.
type Event[T any] struct {
	name        string
	description string
}

// NewEvent declares a typed topic. Events are usually package level variables.
func NewEvent[T any](name, description string) Event[T] {
	return Event[T]{name: name, description: description}
}

// Name returns the topic name.
func (e Event[T]) Name() string { return e.name }

// Description returns the human readable purpose of the topic.
func (e Event[T]) Description() string { return e.description }

// Publish sends a typed event. The compiler ensures payload matches T.
func Publish[T any](ctx context.Context, p Publisher, event Event[T], userID string, payload T) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event.Name(), err)
	}
	return p.Publish(ctx, Message{
		Topic:   event.Name(),
		UserID:  userID,
		Payload: data,
	})
}

// Subscribe decodes every message on the event's topic into T before calling fn.
// Payloads that do not decode are reported as handler errors.
func Subscribe[T any](ctx context.Context, s Subscriber, event Event[T], fn func(context.Context, T) error) error {
	return s.Subscribe(ctx, event.Name(), func(ctx context.Context, msg Message) error {
		var payload T
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", event.Name(), err)
		}
		return fn(ctx, payload)
	})
}
