package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"peerwave/internal/core/domain"
	"peerwave/internal/core/ports"
	"peerwave/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisChannelPrefix = "peerwave:"

// redisEnvelope is the wire form of one bus message on a Redis pub/sub
// channel.
type redisEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// RedisBus implements SignalBus on Redis pub/sub. Redis delivers each
// publish to every subscriber of the channel, publisher included, which is
// exactly the transport contract the protocol is written against.
type RedisBus struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

// NewRedisBus connects and pings the Redis server, retrying transient
// connection failures with backoff.
func NewRedisBus(address, password string, db, poolSize int, logger *zap.SugaredLogger) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         address,
		Password:     password,
		DB:           db,
		PoolSize:     poolSize,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := retry.Retry(ctx, retry.DefaultConfig(), func() error {
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		defer pingCancel()
		return client.Ping(pingCtx).Err()
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Infow("connected to Redis", "address", address, "db", db)
	return &RedisBus{client: client, logger: logger}, nil
}

func (b *RedisBus) Publish(ctx context.Context, channel domain.ChannelName, event string, payload []byte) error {
	data, err := json.Marshal(redisEnvelope{Event: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := b.client.Publish(ctx, redisChannelPrefix+string(channel), data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, channel domain.ChannelName) (ports.Subscription, error) {
	pubsub := b.client.Subscribe(ctx, redisChannelPrefix+string(channel))

	// Force the SUBSCRIBE round trip so a dead server surfaces here, not on
	// the first missed message.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	sub := &redisSubscription{
		pubsub:  pubsub,
		out:     make(chan ports.BusMessage, subscriberBuffer),
		channel: channel,
	}

	go func() {
		defer close(sub.out)
		for msg := range pubsub.Channel() {
			var env redisEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warnw("failed to unmarshal bus envelope",
					"channel", channel,
					"error", err,
				)
				continue
			}
			select {
			case sub.out <- ports.BusMessage{Channel: channel, Event: env.Event, Payload: env.Payload}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub, nil
}

// Client exposes the underlying connection for collaborators that share
// it, such as the presence store.
func (b *RedisBus) Client() *redis.Client {
	return b.client
}

// Close releases the underlying Redis client.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	pubsub  *redis.PubSub
	out     chan ports.BusMessage
	channel domain.ChannelName
}

func (s *redisSubscription) Messages() <-chan ports.BusMessage {
	return s.out
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}
