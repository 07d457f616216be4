package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/wrenfield/idbridge/pkg/identity"
	"github.com/wrenfield/idbridge/pkg/observability"
)

const (
	listCacheKey = "idbridge:shadow-users:list"

	// shadowListCache labels this cache in the hit/miss counters.
	shadowListCache = "shadow_list"
)

// CachedStore decorates a Store with a Redis read cache for List. Every
// upsert invalidates the cached list. Redis being unreachable degrades the
// cache to a pass-through; it never fails the underlying operation.
type CachedStore struct {
	store   Store
	client  *redis.Client
	ttl     time.Duration
	metrics *observability.Metrics

	closeOnce sync.Once
	closeErr  error
}

// NewCachedStore connects to Redis and wraps the store. The TTL bounds how
// stale a cached list may get when invalidation is missed. A nil metrics
// disables hit/miss counting.
func NewCachedStore(s Store, redisAddr, password string, ttl time.Duration, metrics *observability.Metrics) (*CachedStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedStore{store: s, client: client, ttl: ttl, metrics: metrics}, nil
}

// Upsert writes through to the underlying store and invalidates the list
// cache on success.
func (c *CachedStore) Upsert(ctx context.Context, id identity.Identity, attributes map[string]string) (*identity.ShadowUser, error) {
	user, err := c.store.Upsert(ctx, id, attributes)
	if err != nil {
		return nil, err
	}
	// Best effort: a failed invalidation leaves a list that expires by TTL.
	c.client.Del(ctx, listCacheKey)
	return user, nil
}

// List serves from the cache when possible and repopulates it on a miss.
// An unreachable cache or an undecodable entry counts as a miss.
func (c *CachedStore) List(ctx context.Context) ([]*identity.ShadowUser, error) {
	cached, err := c.client.Get(ctx, listCacheKey).Result()
	if err == nil {
		var users []*identity.ShadowUser
		if err := json.Unmarshal([]byte(cached), &users); err == nil {
			c.count(true)
			return users, nil
		}
	}
	c.count(false)

	users, err := c.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if encoded, err := json.Marshal(users); err == nil {
		c.client.Set(ctx, listCacheKey, encoded, c.ttl)
	}
	return users, nil
}

func (c *CachedStore) count(hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.CacheHitsTotal.WithLabelValues(shadowListCache).Inc()
	} else {
		c.metrics.CacheMissesTotal.WithLabelValues(shadowListCache).Inc()
	}
}

// HealthCheck probes the underlying store only; a dead cache is not an
// availability problem.
func (c *CachedStore) HealthCheck(ctx context.Context) error {
	return c.store.HealthCheck(ctx)
}

// Backend identifies the underlying implementation; the cache is
// transparent to callers.
func (c *CachedStore) Backend() string {
	return c.store.Backend()
}

// Client exposes the Redis client for health probes.
func (c *CachedStore) Client() *redis.Client {
	return c.client
}

// Close releases the Redis client and the underlying store; repeated
// calls return the first result.
func (c *CachedStore) Close() error {
	c.closeOnce.Do(func() {
		redisErr := c.client.Close()
		c.closeErr = c.store.Close()
		if c.closeErr == nil {
			c.closeErr = redisErr
		}
	})
	return c.closeErr
}
