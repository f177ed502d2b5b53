package ports

import (
	"context"

	"peerwave/internal/core/domain"
)

// BusMessage is one named event delivered on a channel. Payload is the raw
// envelope; decoding happens at the signaling boundary.
type BusMessage struct {
	Channel domain.ChannelName
	Event   string
	Payload []byte
}

// Subscription is an active channel subscription. Messages delivers every
// event published to the channel, including the subscriber's own publishes
// (the transport echoes to all subscribers; echo suppression is the
// protocol's job, not the bus's).
type Subscription interface {
	Messages() <-chan BusMessage
	Close() error
}

// SignalBus is the generic realtime publish/subscribe transport. Delivery is
// at-least-once with no ordering guarantee across distinct events; a single
// publisher's emissions on a single channel preserve their order.
type SignalBus interface {
	Publish(ctx context.Context, channel domain.ChannelName, event string, payload []byte) error
	Subscribe(ctx context.Context, channel domain.ChannelName) (Subscription, error)
}
