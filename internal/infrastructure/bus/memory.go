package bus

import (
	"context"
	"fmt"
	"sync"

	"peerwave/internal/core/domain"
	"peerwave/internal/core/ports"
)

const subscriberBuffer = 256

// MemoryBus is an in-process SignalBus. It mirrors the transport contract
// exactly: every publish is delivered to every subscriber of the channel,
// the publisher's own subscription included.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[domain.ChannelName][]*memorySubscription
	closed bool
}

type memorySubscription struct {
	bus     *MemoryBus
	channel domain.ChannelName

	mu     sync.Mutex
	ch     chan ports.BusMessage
	closed bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs: make(map[domain.ChannelName][]*memorySubscription),
	}
}

func (b *MemoryBus) Publish(ctx context.Context, channel domain.ChannelName, event string, payload []byte) error {
	b.mu.RLock()
	subs := append([]*memorySubscription(nil), b.subs[channel]...)
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return fmt.Errorf("bus closed")
	}

	msg := ports.BusMessage{Channel: channel, Event: event, Payload: payload}
	for _, sub := range subs {
		sub.deliver(msg)
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, channel domain.ChannelName) (ports.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus closed")
	}

	sub := &memorySubscription{
		bus:     b,
		channel: channel,
		ch:      make(chan ports.BusMessage, subscriberBuffer),
	}
	b.subs[channel] = append(b.subs[channel], sub)
	return sub, nil
}

// Close drops all subscriptions.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[domain.ChannelName][]*memorySubscription)
	b.closed = true
	b.mu.Unlock()

	for _, channelSubs := range subs {
		for _, sub := range channelSubs {
			sub.shutdown()
		}
	}
	return nil
}

func (s *memorySubscription) deliver(msg ports.BusMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- msg:
	default:
		// A subscriber that stopped draining loses messages rather than
		// blocking every other participant on the channel.
	}
}

func (s *memorySubscription) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *memorySubscription) Messages() <-chan ports.BusMessage {
	return s.ch
}

func (s *memorySubscription) Close() error {
	b := s.bus
	b.mu.Lock()
	channelSubs := b.subs[s.channel]
	for i, sub := range channelSubs {
		if sub == s {
			b.subs[s.channel] = append(channelSubs[:i], channelSubs[i+1:]...)
			break
		}
	}
	if len(b.subs[s.channel]) == 0 {
		delete(b.subs, s.channel)
	}
	b.mu.Unlock()

	s.shutdown()
	return nil
}
