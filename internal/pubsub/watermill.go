package pubsub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.opentelemetry.io/otel/trace"
)

// WatermillBridge implements Bus on top of watermill's GoChannel.
type WatermillBridge struct {
	pub    message.Publisher
	sub    message.Subscriber
	tracer trace.Tracer
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

const (
	// Metadata keys used to transfer our Message structure fields through watermill's message.
	metaKeyUserID = "user_id"
	metaKeyTopic  = "topic"
)

// NewWatermillBridge initializes an in-memory bus without tracing.
func NewWatermillBridge() *WatermillBridge {
	return NewWatermillBridgeWithTracer(nil)
}

// NewWatermillBridgeWithTracer initializes an in-memory bus. When tracer is
// non-nil every publish and every handler invocation gets a span.
func NewWatermillBridgeWithTracer(tracer trace.Tracer) *WatermillBridge {
	wmLogger := watermill.NewStdLogger(false, false)
	goChannel := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 64},
		wmLogger,
	)

	wb := &WatermillBridge{
		pub:    goChannel,
		sub:    goChannel,
		tracer: tracer,
		logger: slog.Default().With("component", "pubsub"),
	}
	if tracer != nil {
		wb.pub = NewPublisherTracingMiddleware(goChannel, tracer)
	}
	return wb
}

// mapToWatermillMessage converts our pubsub.Message to a watermill message.
func mapToWatermillMessage(ctx context.Context, msg Message) *message.Message {
	wmMsg := message.NewMessage(watermill.NewUUID(), msg.Payload)
	wmMsg.SetContext(ctx)

	wmMsg.Metadata.Set(metaKeyUserID, msg.UserID)
	wmMsg.Metadata.Set(metaKeyTopic, msg.Topic)
	for k, v := range msg.Metadata {
		wmMsg.Metadata.Set(k, v)
	}

	return wmMsg
}

// mapToPubSubMessage converts a watermill message back to our internal pubsub.Message.
func mapToPubSubMessage(wmMsg *message.Message) Message {
	userID := wmMsg.Metadata.Get(metaKeyUserID)
	topic := wmMsg.Metadata.Get(metaKeyTopic)

	metadata := make(map[string]string)
	for k, v := range wmMsg.Metadata {
		if k != metaKeyUserID && k != metaKeyTopic {
			metadata[k] = v
		}
	}
	if userID != "" {
		metadata[metaKeyUserID] = userID
	}

	return Message{
		Topic:    topic,
		UserID:   userID,
		Payload:  wmMsg.Payload,
		Metadata: metadata,
	}
}

// Publish implements the Publisher interface.
func (wb *WatermillBridge) Publish(ctx context.Context, msg Message) error {
	return wb.pub.Publish(msg.Topic, mapToWatermillMessage(ctx, msg))
}

// Subscribe implements the Subscriber interface.
func (wb *WatermillBridge) Subscribe(ctx context.Context, topic string, handler Handler) error {
	messages, err := wb.sub.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	process := func(wmMsg *message.Message) ([]*message.Message, error) {
		return nil, handler(wmMsg.Context(), mapToPubSubMessage(wmMsg))
	}
	if wb.tracer != nil {
		process = TracingMiddleware(wb.tracer)(process)
	}

	go func() {
		for wmMsg := range messages {
			if _, err := process(wmMsg); err != nil {
				wb.logger.Error("Failed to handle message", "topic", topic, "msg_id", wmMsg.UUID, "error", err)
				// GoChannel would redeliver a nacked message forever; log and drop instead.
				wmMsg.Ack()
				continue
			}
			wmMsg.Ack()
		}
		wb.logger.Debug("Subscription message loop ended", "topic", topic)
	}()

	return nil
}

// Close shuts down the bus. It is safe to call more than once.
func (wb *WatermillBridge) Close() error {
	wb.closeOnce.Do(func() {
		wb.closeErr = wb.sub.Close()
	})
	return wb.closeErr
}
