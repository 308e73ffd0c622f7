package pubsub

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracingMiddleware(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	bridge := NewWatermillBridgeWithTracer(tp.Tracer("test"))
	t.Cleanup(func() { _ = bridge.Close() })

	ctx := context.Background()
	received := make(chan Message, 1)
	err := bridge.Subscribe(ctx, "presence.user.online", func(ctx context.Context, msg Message) error {
		received <- msg
		return nil
	})
	require.NoError(t, err)

	err = bridge.Publish(ctx, Message{
		Topic:    "presence.user.online",
		UserID:   "user123",
		Payload:  []byte(`{"userId":"user123","online":true}`),
		Metadata: map[string]string{"request_id": "req-123"},
	})
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, "user123", msg.UserID)
		assert.Equal(t, "req-123", msg.Metadata["request_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("message was not delivered")
	}

	require.Eventually(t, func() bool {
		var publish, process bool
		for _, s := range recorder.Ended() {
			switch s.Name() {
			case "publish presence.user.online":
				publish = true
			case "process presence.user.online":
				process = true
			}
		}
		return publish && process
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTracingMiddleware_SpansCarryNoPayload(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	bridge := NewWatermillBridgeWithTracer(tp.Tracer("test"))
	t.Cleanup(func() { _ = bridge.Close() })

	ctx := context.Background()
	done := make(chan struct{}, 1)
	require.NoError(t, bridge.Subscribe(ctx, "chat.message.stored", func(context.Context, Message) error {
		done <- struct{}{}
		return nil
	}))

	payload := []byte(`{"message":{"id":"m1","message":"meet me at noon"}}`)
	require.NoError(t, bridge.Publish(ctx, Message{Topic: "chat.message.stored", UserID: "bob", Payload: payload}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("message was not delivered")
	}

	require.Eventually(t, func() bool { return len(recorder.Ended()) == 2 }, 2*time.Second, 10*time.Millisecond)
	for _, s := range recorder.Ended() {
		attrs := map[string]string{}
		for _, kv := range s.Attributes() {
			attrs[string(kv.Key)] = kv.Value.Emit()
			assert.NotContains(t, kv.Value.Emit(), "meet me at noon", "attribute %s leaks the body", kv.Key)
		}
		assert.Equal(t, "chat.message.stored", attrs["relay.event"])
		assert.Equal(t, "bob", attrs["relay.user_id"])
		assert.Equal(t, strconv.Itoa(len(payload)), attrs["messaging.message.body.size"])
	}
}

func TestSetupOTel(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled tracing", func(t *testing.T) {
		tracer, cleanup, err := SetupOTel(ctx, TracingConfig{Enabled: false})
		require.NoError(t, err)
		require.NotNil(t, tracer)
		require.NotNil(t, cleanup)

		_, span := tracer.Start(ctx, "test")
		span.End()
		cleanup()
	})

	t.Run("enabled tracing with unreachable collector", func(t *testing.T) {
		tracer, cleanup, err := SetupOTel(ctx, TracingConfig{
			Enabled:     true,
			ServiceName: "test-service",
			ZipkinURL:   "http://invalid-url:9411/api/v2/spans",
		})
		require.NoError(t, err)
		require.NotNil(t, tracer)

		// Shutdown may fail to flush; it must only log.
		assert.NotPanics(t, cleanup)
	})
}
