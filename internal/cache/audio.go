package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	audioKeyPrefix = "speech:"
	AudioTTL       = 24 * time.Hour
)

// RedisAudioCache stores synthesized speech keyed by a digest of its input.
type RedisAudioCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisAudioCache(client *redis.Client) *RedisAudioCache {
	return &RedisAudioCache{client: client, ttl: AudioTTL}
}

// Get returns the cached audio for key. A miss is (nil, false, nil).
func (c *RedisAudioCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, audioKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (c *RedisAudioCache) Set(ctx context.Context, key string, audio []byte) error {
	return c.client.Set(ctx, audioKeyPrefix+key, audio, c.ttl).Err()
}
