package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synapse/internal/event"
)

// requireRedis skips the test if no Redis instance is reachable at
// 127.0.0.1:6379, the same way the teacher repo skips tests that need an
// external OAuth provider it can't stand up in CI.
func requireRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("requires a Redis instance at 127.0.0.1:6379")
	}
	return client
}

func TestBridge_PublishSubscribe_RoundTripsEvent(t *testing.T) {
	client := requireRedis(t)
	defer client.Close()

	topic := "synapse-test-" + t.Name()
	publisher := NewBridge(client, topic, nil)
	subscriber := NewBridge(client, topic, nil)

	decode := func(typeName string) (event.Event, bool) {
		if typeName == "QuitEvent" {
			return &event.QuitEvent{}, true
		}
		return nil, false
	}

	received := make(chan event.Event, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	go subscriber.Subscribe(ctx, decode, func(e event.Event) {
		received <- e
	})

	// Give the subscription time to establish before publishing.
	time.Sleep(100 * time.Millisecond)

	original := event.NewQuitEvent(42, event.PriorityInternal)
	require.NoError(t, publisher.Publish(ctx, original))

	select {
	case got := <-received:
		assert.Equal(t, original.Meta().Name, got.Meta().Name)
		assert.Equal(t, original.Meta().Origin, got.Meta().Origin)
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive published event")
	}
}

func TestBridge_Subscribe_StopsOnContextCancel(t *testing.T) {
	client := requireRedis(t)
	defer client.Close()

	bridge := NewBridge(client, "synapse-test-"+t.Name(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- bridge.Subscribe(ctx, func(string) (event.Event, bool) { return nil, false }, func(event.Event) {})
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe did not stop on context cancel")
	}
}
