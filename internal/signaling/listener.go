package signaling

import (
	"context"
	"fmt"

	"peerwave/internal/core/domain"
	"peerwave/internal/core/ports"

	"go.uber.org/zap"
)

// Listener consumes one channel subscription, decoding and validating each
// event and suppressing self-echoes before handing messages to the session.
// The transport delivers every publish to all subscribers including the
// publisher, so the sender check here is mandatory for every event type.
type Listener struct {
	sub    ports.Subscription
	self   domain.PeerID
	done   chan struct{}
	logger *zap.SugaredLogger
}

// Listen subscribes to channel and dispatches decoded messages to handler
// on a dedicated goroutine until Close is called or the context ends.
// Malformed payloads are logged and dropped at this boundary.
func Listen(
	ctx context.Context,
	bus ports.SignalBus,
	channel domain.ChannelName,
	self domain.PeerID,
	handler func(Message),
	logger *zap.SugaredLogger,
) (*Listener, error) {
	sub, err := bus.Subscribe(ctx, channel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrChannelUnavailable, err)
	}

	l := &Listener{
		sub:    sub,
		self:   self,
		done:   make(chan struct{}),
		logger: logger,
	}

	go func() {
		defer close(l.done)
		for {
			select {
			case <-ctx.Done():
				return
			case bm, ok := <-sub.Messages():
				if !ok {
					return
				}
				msg, err := Decode(bm.Event, bm.Payload)
				if err != nil {
					l.logger.Warnw("discarding malformed signal",
						"channel", channel,
						"event", bm.Event,
						"error", err,
					)
					continue
				}
				if msg.From() == self {
					continue
				}
				handler(msg)
			}
		}
	}()

	return l, nil
}

// Close unsubscribes. The dispatch goroutine drains and exits; Close does
// not wait for in-flight handler calls.
func (l *Listener) Close() error {
	return l.sub.Close()
}

// Send encodes and publishes one message on channel.
func Send(ctx context.Context, bus ports.SignalBus, channel domain.ChannelName, msg Message) error {
	payload, err := Encode(msg)
	if err != nil {
		return err
	}
	if err := bus.Publish(ctx, channel, msg.Event(), payload); err != nil {
		return fmt.Errorf("failed to publish %s: %w", msg.Event(), err)
	}
	return nil
}
