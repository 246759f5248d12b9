package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/redis/go-redis/v9"

	"example.com/webinar-sync/internal/logging"
)

// CachedToken is an access token and the instant after which it must not be
// reused.
type CachedToken struct {
	AccessToken string
	ExpiresAt   time.Time
}

// TokenCache stores tokens by credentials cache key. ttl is only an eviction
// hint; callers still compare ExpiresAt against their own clock.
type TokenCache interface {
	Get(ctx context.Context, key string) (CachedToken, bool)
	Set(ctx context.Context, key string, tok CachedToken, ttl time.Duration) error
	Clear(ctx context.Context, key string) error
}

// MemoryCache is a process-local TokenCache.
type MemoryCache struct {
	cache *ttlcache.Cache[string, CachedToken]
}

func NewMemoryCache() *MemoryCache {
	c := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, CachedToken](),
	)
	go c.Start()
	return &MemoryCache{cache: c}
}

func (m *MemoryCache) Get(_ context.Context, key string) (CachedToken, bool) {
	item := m.cache.Get(key)
	if item == nil {
		return CachedToken{}, false
	}
	return item.Value(), true
}

func (m *MemoryCache) Set(_ context.Context, key string, tok CachedToken, ttl time.Duration) error {
	if ttl <= 0 {
		m.cache.Delete(key)
		return nil
	}
	m.cache.Set(key, tok, ttl)
	return nil
}

func (m *MemoryCache) Clear(_ context.Context, key string) error {
	m.cache.Delete(key)
	return nil
}

// Close stops the expiry loop.
func (m *MemoryCache) Close() { m.cache.Stop() }

// RedisCache shares tokens between service instances.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (r *RedisCache) redisKey(key string) string {
	return fmt.Sprintf("%s:token:%s", r.prefix, key)
}

func (r *RedisCache) Get(ctx context.Context, key string) (CachedToken, bool) {
	res, err := r.client.HGetAll(ctx, r.redisKey(key)).Result()
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("token cache: redis get failed")
		return CachedToken{}, false
	}
	if len(res) == 0 || res["access_token"] == "" {
		return CachedToken{}, false
	}
	exp, err := strconv.ParseInt(res["expires_at"], 10, 64)
	if err != nil {
		return CachedToken{}, false
	}
	return CachedToken{AccessToken: res["access_token"], ExpiresAt: time.Unix(exp, 0)}, true
}

func (r *RedisCache) Set(ctx context.Context, key string, tok CachedToken, ttl time.Duration) error {
	rk := r.redisKey(key)
	if ttl <= 0 {
		return r.client.Del(ctx, rk).Err()
	}
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, rk, map[string]interface{}{
			"access_token": tok.AccessToken,
			"expires_at":   tok.ExpiresAt.Unix(),
		})
		p.Expire(ctx, rk, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set token in redis: %w", err)
	}
	return nil
}

func (r *RedisCache) Clear(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.redisKey(key)).Err()
}
