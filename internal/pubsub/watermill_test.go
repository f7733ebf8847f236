package pubsub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestWatermillBridge_PublishSubscribe(t *testing.T) {
	bridge := NewWatermillBridge(nil)
	defer bridge.Close()

	var (
		mu       sync.Mutex
		received []Message
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := bridge.Subscribe(ctx, "space.topic", func(ctx context.Context, msg Message) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, msg)
		return nil
	})
	require.NoError(t, err)

	err = bridge.Publish(ctx, Message{
		Topic:    "space.topic",
		Payload:  []byte(`{"name":"Dev Chat"}`),
		Metadata: map[string]string{"event": "written"},
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "space.topic", received[0].Topic)
	assert.Equal(t, "written", received[0].Metadata["event"])
	assert.JSONEq(t, `{"name":"Dev Chat"}`, string(received[0].Payload))
}

func TestWatermillBridge_NackRedelivers(t *testing.T) {
	bridge := NewWatermillBridge(nil)
	defer bridge.Close()

	var (
		mu    sync.Mutex
		count int
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bridge.Subscribe(ctx, "t", func(ctx context.Context, msg Message) error {
		mu.Lock()
		defer mu.Unlock()
		count++
		if count == 1 {
			return errors.New("first one fails")
		}
		return nil
	}))

	require.NoError(t, bridge.Publish(ctx, Message{Topic: "t", Payload: []byte("1")}))
	require.NoError(t, bridge.Publish(ctx, Message{Topic: "t", Payload: []byte("2")}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count >= 2
	}, time.Second, 10*time.Millisecond)
}

func TestWatermillBridge_Tracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	bridge := NewWatermillBridge(nil, WithTracer(tp.Tracer("test")))
	defer bridge.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handled := make(chan struct{}, 1)
	require.NoError(t, bridge.Subscribe(ctx, "space.topic", func(ctx context.Context, msg Message) error {
		handled <- struct{}{}
		return nil
	}))
	require.NoError(t, bridge.Publish(ctx, Message{
		Topic:    "space.topic",
		Payload:  []byte(`{}`),
		Metadata: map[string]string{"event": "taken"},
	}))

	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("message not handled")
	}

	assert.Eventually(t, func() bool {
		names := map[string]bool{}
		for _, s := range recorder.Ended() {
			names[s.Name()] = true
		}
		return names["pubsub.publish.space.topic"] && names["pubsub.process.space.topic"]
	}, time.Second, 10*time.Millisecond)
}

func TestSetupTracingDisabled(t *testing.T) {
	tracer, shutdown, err := SetupTracing(context.Background(), TracingConfig{})
	require.NoError(t, err)
	assert.NotNil(t, tracer)
	assert.NoError(t, shutdown(context.Background()))
}
