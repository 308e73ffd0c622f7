package pubsub

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys. Payloads carry chat bodies, so spans only record their size.
const (
	attrEvent       = attribute.Key("relay.event")
	attrUserID      = attribute.Key("relay.user_id")
	attrMessageID   = attribute.Key("messaging.message.id")
	attrPayloadSize = attribute.Key("messaging.message.body.size")
)

// spanName is "<operation> <event>", e.g. "publish chat.message.stored".
func spanName(operation, event string) string {
	return operation + " " + event
}

func eventAttributes(operation, event string, msg *message.Message) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("messaging.system", "watermill"),
		attribute.String("messaging.operation", operation),
		attribute.String("messaging.destination.name", event),
		attrEvent.String(event),
		attrUserID.String(msg.Metadata.Get(metaKeyUserID)),
		attrMessageID.String(msg.UUID),
		attrPayloadSize.Int(len(msg.Payload)),
	}
}

func messageContext(msg *message.Message) context.Context {
	if ctx := msg.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// TracingMiddleware wraps a subscriber handler with a consumer span per event.
func TracingMiddleware(tracer trace.Tracer) func(message.HandlerFunc) message.HandlerFunc {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			event := msg.Metadata.Get(metaKeyTopic)
			ctx, span := tracer.Start(messageContext(msg), spanName("process", event),
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(eventAttributes("process", event, msg)...),
			)
			defer span.End()
			msg.SetContext(ctx)

			produced, err := h(msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
			return produced, nil
		}
	}
}

// PublisherTracingMiddleware wraps a publisher with a producer span per event.
type PublisherTracingMiddleware struct {
	publisher message.Publisher
	tracer    trace.Tracer
}

// NewPublisherTracingMiddleware creates a tracing publisher.
func NewPublisherTracingMiddleware(publisher message.Publisher, tracer trace.Tracer) *PublisherTracingMiddleware {
	return &PublisherTracingMiddleware{
		publisher: publisher,
		tracer:    tracer,
	}
}

// Publish starts one span per message, so subscribers continue the trace.
func (p *PublisherTracingMiddleware) Publish(topic string, messages ...*message.Message) error {
	spans := make([]trace.Span, 0, len(messages))
	for _, msg := range messages {
		ctx, span := p.tracer.Start(messageContext(msg), spanName("publish", topic),
			trace.WithSpanKind(trace.SpanKindProducer),
			trace.WithAttributes(eventAttributes("publish", topic, msg)...),
		)
		msg.SetContext(ctx)
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
