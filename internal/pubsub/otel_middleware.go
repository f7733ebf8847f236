package pubsub

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Metadata key that carries the space event kind ("written", "taken").
const metaKeyEvent = "event"

func messageAttributes(operation, topic string, msg *message.Message) trace.SpanStartEventOption {
	return trace.WithAttributes(
		attribute.String("messaging.system", "watermill"),
		attribute.String("messaging.operation", operation),
		attribute.String("messaging.destination", topic),
		attribute.String("messaging.message_id", msg.UUID),
		attribute.String("space.event", msg.Metadata.Get(metaKeyEvent)),
		attribute.Int("messaging.message_payload_size_bytes", len(msg.Payload)),
	)
}

// tracedHandler wraps a subscription handler in a processing span.
func tracedHandler(tracer trace.Tracer, topic string, wmMsg *message.Message, handler Handler) Handler {
	return func(ctx context.Context, msg Message) error {
		spanCtx, span := tracer.Start(ctx, fmt.Sprintf("pubsub.process.%s", topic),
			trace.WithSpanKind(trace.SpanKindConsumer),
			messageAttributes("process", topic, wmMsg),
		)
		defer span.End()

		if err := handler(spanCtx, msg); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		return nil
	}
}

// PublisherTracingMiddleware wraps a publisher with tracing capabilities.
type PublisherTracingMiddleware struct {
	publisher message.Publisher
	tracer    trace.Tracer
}

// NewPublisherTracingMiddleware creates a new publisher with tracing middleware.
func NewPublisherTracingMiddleware(publisher message.Publisher, tracer trace.Tracer) *PublisherTracingMiddleware {
	return &PublisherTracingMiddleware{
		publisher: publisher,
		tracer:    tracer,
	}
}

// Publish wraps the publish operation with one span per message.
func (p *PublisherTracingMiddleware) Publish(topic string, messages ...*message.Message) error {
	spans := make([]trace.Span, 0, len(messages))
	for _, msg := range messages {
		spanCtx, span := p.tracer.Start(msg.Context(), fmt.Sprintf("pubsub.publish.%s", topic),
			trace.WithSpanKind(trace.SpanKindProducer),
			messageAttributes("publish", topic, msg),
		)
		msg.SetContext(spanCtx)
		spans = append(spans, span)
	}

	err := p.publisher.Publish(topic, messages...)
	for _, span := range spans {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
	return err
}

// Close closes the underlying publisher.
func (p *PublisherTracingMiddleware) Close() error {
	return p.publisher.Close()
}
