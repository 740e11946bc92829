// Package cache provides an optional read-through cache in front of the
// session store's reconnect hot path (GetSessionByToken). It is never
// authoritative: every miss or error falls straight through to the store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ashureev/chatbroker/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SessionCache caches ChatSession lookups by customer token.
type SessionCache interface {
	Get(ctx context.Context, token string) (*domain.ChatSession, error)
	Set(ctx context.Context, token string, sess *domain.ChatSession) error
	Invalidate(ctx context.Context, token string) error
	Close() error
}

// ErrMiss is returned by Get when the token isn't cached. Callers should
// treat it the same as any other cache error: fall back to the store.
var ErrMiss = errors.New("cache: miss")

const defaultTTL = 5 * time.Minute

// RedisCache is a cache-aside layer backed by Redis. A zero value is not
// usable; construct with NewRedisCache.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to a Redis instance at addr. The connection is not
// verified here; callers should Ping before relying on it, and treat any
// subsequent error as "cache unavailable, go to the store".
func NewRedisCache(addr, password string, db int) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{client: client, ttl: defaultTTL}
}

// Ping verifies connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func sessionKey(token string) string {
	return "session:token:" + token
}

func (c *RedisCache) Get(ctx context.Context, token string) (*domain.ChatSession, error) {
	raw, err := c.client.Get(ctx, sessionKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	var sess domain.ChatSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (c *RedisCache) Set(ctx context.Context, token string, sess *domain.ChatSession) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, sessionKey(token), raw, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, token string) error {
	return c.client.Del(ctx, sessionKey(token)).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// NoopCache is a SessionCache that always misses, used when no Redis
// address is configured.
type NoopCache struct{}

func (NoopCache) Get(ctx context.Context, token string) (*domain.ChatSession, error) {
	return nil, ErrMiss
}
func (NoopCache) Set(ctx context.Context, token string, sess *domain.ChatSession) error { return nil }
func (NoopCache) Invalidate(ctx context.Context, token string) error                    { return nil }
func (NoopCache) Close() error                                                          { return nil }
