package presence

import (
	"context"
	"fmt"
	"time"

	"peerwave/internal/core/domain"

	"github.com/redis/go-redis/v9"
)

const (
	liveKeyPrefix = "peerwave:live:"
	// liveTTL bounds a stale flag from a crashed broadcaster.
	liveTTL = 6 * time.Hour
)

// RedisStore records broadcasters' live flags in Redis.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) SetLive(ctx context.Context, peerID domain.PeerID, live bool) error {
	key := liveKeyPrefix + string(peerID)
	if live {
		if err := s.client.Set(ctx, key, "1", liveTTL).Err(); err != nil {
			return fmt.Errorf("failed to set live flag for %s: %w", peerID, err)
		}
		return nil
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to clear live flag for %s: %w", peerID, err)
	}
	return nil
}

func (s *RedisStore) IsLive(ctx context.Context, peerID domain.PeerID) (bool, error) {
	n, err := s.client.Exists(ctx, liveKeyPrefix+string(peerID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check live flag for %s: %w", peerID, err)
	}
	return n > 0, nil
}
