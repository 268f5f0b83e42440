// Package pubsub is the cross-process bridge for CommunicationChannel,
// grounded on the source's CommunicationChannel.h (broadcast to every
// sibling DM) and the github.com/go-redis/redis/v8 usage pattern in the
// r3e-network-service_layer example repo. Where internal/depmanager's
// Channel broadcasts within one process, this package relays the same
// broadcast across processes over a Redis pub/sub topic, using
// serialization.Codec to marshal events onto the wire.
package pubsub

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"synapse/internal/event"
	"synapse/pkg/logging"
	"synapse/services/serialization"
)

// Bridge relays events published locally to a Redis channel, and
// delivers events received from that channel to a local sink.
type Bridge struct {
	client *redis.Client
	topic  string
	codec  *serialization.Codec
	logger logging.Logger
}

// NewBridge constructs a Bridge using client, publishing to and
// subscribing on topic.
func NewBridge(client *redis.Client, topic string, logger logging.Logger) *Bridge {
	if logger == nil {
		logger = logging.Default()
	}
	return &Bridge{client: client, topic: topic, codec: serialization.NewCodec(), logger: logger}
}

// Publish marshals e and publishes it to the bridge's topic.
func (b *Bridge) Publish(ctx context.Context, e event.Event) error {
	payload, err := b.codec.MarshalEnvelope(e)
	if err != nil {
		return fmt.Errorf("pubsub: marshal event: %w", err)
	}
	return b.client.Publish(ctx, b.topic, payload).Err()
}

// Subscribe starts relaying events received on the bridge's topic to
// deliver, until ctx is cancelled. decode maps a wire type name back to a
// zero-value event.Event the codec can unmarshal into, mirroring the
// source's reliance on a registered type-hash table.
func (b *Bridge) Subscribe(ctx context.Context, decode serialization.Decoder, deliver func(event.Event)) error {
	sub := b.client.Subscribe(ctx, b.topic)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			e, err := b.codec.UnmarshalEnvelope([]byte(msg.Payload), decode)
			if err != nil {
				b.logger.Warn("pubsub", 0, "Subscribe", "failed to decode event from %s: %v", b.topic, err)
				continue
			}
			deliver(e)
		}
	}
}
