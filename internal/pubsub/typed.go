package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Event[T] names a bus topic whose payloads are JSON-encoded T values, so
// publishers and subscribers of the same topic cannot disagree on the type.
type Event[T any] struct {
	topicName string
}

// NewEvent creates a typed event for topic name.
func NewEvent[T any](name string) Event[T] {
	return Event[T]{topicName: name}
}

// Name returns the topic name.
func (e Event[T]) Name() string {
	return e.topicName
}

// Publish sends a typed event. The compiler ensures 'payload' matches 'T'.
func Publish[T any](ctx context.Context, p Publisher, event Event[T], payload T, metadata map[string]string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event.Name(), err)
	}

	return p.Publish(ctx, Message{
		Topic:    event.Name(),
		Payload:  data,
		Metadata: metadata,
	})
}

// Subscribe decodes every message on the event's topic into T before calling
// handler. Messages that do not decode are logged and acknowledged, since
// redelivering them cannot help.
func Subscribe[T any](ctx context.Context, s Subscriber, event Event[T], handler func(ctx context.Context, payload T) error) error {
	return s.Subscribe(ctx, event.Name(), func(ctx context.Context, msg Message) error {
		var payload T
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			slog.ErrorContext(ctx, "Failed to decode event payload", "topic", event.Name(), "error", err)
			return nil
		}
		return handler(ctx, payload)
	})
}
