package bus

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"peerwave/internal/core/domain"
	"peerwave/internal/core/ports"
	"peerwave/internal/infrastructure/signal"
	"peerwave/pkg/retry"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketBus implements SignalBus against the relay server, multiplexing
// every channel subscription over one connection. A dropped connection is
// redialed with backoff and the active channel subscriptions replayed;
// frames published during the outage are lost, which the at-least-once
// contract permits and the offer retry loop compensates for.
type WebSocketBus struct {
	dialURL string
	logger  *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	// writeMu guards both writes and the conn swap on reconnect.
	writeMu sync.Mutex
	conn    *websocket.Conn

	mu     sync.Mutex
	subs   map[domain.ChannelName][]*wsSubscription
	closed bool
}

type wsSubscription struct {
	bus     *WebSocketBus
	channel domain.ChannelName

	mu     sync.Mutex
	ch     chan ports.BusMessage
	closed bool
}

// DialRelay connects to the relay server, retrying transient dial failures
// with backoff. The token is empty when the relay runs without auth.
func DialRelay(ctx context.Context, relayURL string, peerID domain.PeerID, token string, logger *zap.SugaredLogger) (*WebSocketBus, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay URL: %w", err)
	}
	q := u.Query()
	q.Set("peer_id", string(peerID))
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()

	conn, err := dialWithRetry(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrChannelUnavailable, err)
	}

	bctx, cancel := context.WithCancel(context.Background())
	b := &WebSocketBus{
		dialURL: u.String(),
		logger:  logger,
		ctx:     bctx,
		cancel:  cancel,
		conn:    conn,
		subs:    make(map[domain.ChannelName][]*wsSubscription),
	}
	go b.readLoop()

	logger.Infow("connected to relay", "url", relayURL, "peer_id", peerID)
	return b, nil
}

func dialWithRetry(ctx context.Context, dialURL string) (*websocket.Conn, error) {
	return retry.RetryWithResult(ctx, retry.DefaultConfig(), func() (*websocket.Conn, error) {
		c, _, dialErr := websocket.DefaultDialer.DialContext(ctx, dialURL, nil)
		return c, dialErr
	})
}

// readLoop pumps frames off the current connection; when a read fails on a
// bus that is not closing, it redials and replays the subscriptions before
// resuming.
func (b *WebSocketBus) readLoop() {
	for {
		err := b.readFrames(b.currentConn())
		if b.isClosed() {
			b.closeAllSubs()
			return
		}

		b.logger.Warnw("relay connection lost, reconnecting", "error", err)
		if err := b.reconnect(); err != nil {
			if !b.isClosed() {
				b.logger.Errorw("relay reconnect failed, dropping subscriptions", "error", err)
			}
			b.closeAllSubs()
			return
		}
	}
}

// readFrames delivers frames from conn until the first read error.
func (b *WebSocketBus) readFrames(conn *websocket.Conn) error {
	for {
		var frame signal.ServerFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}
		if frame.Error != "" {
			b.logger.Warnw("relay error", "error", frame.Error)
			continue
		}

		channel := domain.ChannelName(frame.Channel)
		b.mu.Lock()
		subs := append([]*wsSubscription(nil), b.subs[channel]...)
		b.mu.Unlock()

		msg := ports.BusMessage{Channel: channel, Event: frame.Event, Payload: frame.Payload}
		for _, sub := range subs {
			sub.deliver(msg)
		}
	}
}

// reconnect redials the relay and re-announces every channel that still has
// subscribers.
func (b *WebSocketBus) reconnect() error {
	conn, err := dialWithRetry(b.ctx, b.dialURL)
	if err != nil {
		return err
	}

	b.writeMu.Lock()
	b.conn = conn
	b.writeMu.Unlock()

	b.mu.Lock()
	channels := make([]domain.ChannelName, 0, len(b.subs))
	for channel := range b.subs {
		channels = append(channels, channel)
	}
	b.mu.Unlock()

	for _, channel := range channels {
		if err := b.write(signal.ClientFrame{Action: signal.ActionSubscribe, Channel: string(channel)}); err != nil {
			return fmt.Errorf("failed to resubscribe to %s: %w", channel, err)
		}
	}

	b.logger.Infow("relay connection restored", "resubscribed", len(channels))
	return nil
}

func (b *WebSocketBus) currentConn() *websocket.Conn {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.conn
}

func (b *WebSocketBus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *WebSocketBus) Publish(ctx context.Context, channel domain.ChannelName, event string, payload []byte) error {
	return b.write(signal.ClientFrame{
		Action:  signal.ActionPublish,
		Channel: string(channel),
		Event:   event,
		Payload: payload,
	})
}

func (b *WebSocketBus) Subscribe(ctx context.Context, channel domain.ChannelName) (ports.Subscription, error) {
	sub := &wsSubscription{
		bus:     b,
		channel: channel,
		ch:      make(chan ports.BusMessage, subscriberBuffer),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, domain.ErrChannelUnavailable
	}
	first := len(b.subs[channel]) == 0
	b.subs[channel] = append(b.subs[channel], sub)
	b.mu.Unlock()

	if first {
		if err := b.write(signal.ClientFrame{Action: signal.ActionSubscribe, Channel: string(channel)}); err != nil {
			sub.Close()
			return nil, fmt.Errorf("%w: %v", domain.ErrChannelUnavailable, err)
		}
	}
	return sub, nil
}

func (b *WebSocketBus) write(frame signal.ClientFrame) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	b.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := b.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("relay write failed: %w", err)
	}
	return nil
}

// Close tears down the connection and every subscription.
func (b *WebSocketBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	err := b.currentConn().Close()
	b.closeAllSubs()
	return err
}

func (b *WebSocketBus) closeAllSubs() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[domain.ChannelName][]*wsSubscription)
	b.mu.Unlock()

	for _, channelSubs := range subs {
		for _, sub := range channelSubs {
			sub.shutdown()
		}
	}
}

func (s *wsSubscription) deliver(msg ports.BusMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- msg:
	default:
	}
}

func (s *wsSubscription) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *wsSubscription) Messages() <-chan ports.BusMessage {
	return s.ch
}

func (s *wsSubscription) Close() error {
	b := s.bus
	b.mu.Lock()
	channelSubs := b.subs[s.channel]
	for i, sub := range channelSubs {
		if sub == s {
			b.subs[s.channel] = append(channelSubs[:i], channelSubs[i+1:]...)
			break
		}
	}
	last := len(b.subs[s.channel]) == 0
	if last {
		delete(b.subs, s.channel)
	}
	busClosed := b.closed
	b.mu.Unlock()

	if last && !busClosed {
		if err := b.write(signal.ClientFrame{Action: signal.ActionUnsubscribe, Channel: string(s.channel)}); err != nil {
			b.logger.Debugw("failed to unsubscribe from relay", "channel", s.channel, "error", err)
		}
	}
	s.shutdown()
	return nil
}
