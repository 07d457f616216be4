package downstream

import (
	"context"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/wrenfield/idbridge/pkg/identity"
	"github.com/wrenfield/idbridge/pkg/observability"
)

// CachedProvisioner memoizes EnsureUser by email so the forward-auth path,
// which runs on every request, does not hammer the downstream admin API.
// Sessions are never cached.
type CachedProvisioner struct {
	inner   Provisioner
	cache   *lru.LRU[string, *RemoteAccount]
	metrics *observability.Metrics
}

// NewCachedProvisioner wraps a provisioner with a TTL-bounded LRU. The TTL
// keeps renames and deactivations from being masked forever. A nil metrics
// disables hit/miss counting.
func NewCachedProvisioner(inner Provisioner, size int, ttl time.Duration, metrics *observability.Metrics) *CachedProvisioner {
	if size < 1 {
		size = 128
	}
	return &CachedProvisioner{
		inner:   inner,
		cache:   lru.NewLRU[string, *RemoteAccount](size, nil, ttl),
		metrics: metrics,
	}
}

// Name identifies the wrapped target.
func (c *CachedProvisioner) Name() string {
	return c.inner.Name()
}

// EnsureUser serves repeated lookups for the same email from the cache.
func (c *CachedProvisioner) EnsureUser(ctx context.Context, user identity.UserInfo) (*RemoteAccount, error) {
	key := strings.ToLower(user.Email)
	if acct, ok := c.cache.Get(key); ok {
		c.count(true)
		return acct, nil
	}
	c.count(false)

	acct, err := c.inner.EnsureUser(ctx, user)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, acct)
	return acct, nil
}

// count records a hit or miss under this target's name.
func (c *CachedProvisioner) count(hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.CacheHitsTotal.WithLabelValues(c.inner.Name()).Inc()
	} else {
		c.metrics.CacheMissesTotal.WithLabelValues(c.inner.Name()).Inc()
	}
}

// CreateSession always reaches the downstream; a cached session would be a
// replayed credential.
func (c *CachedProvisioner) CreateSession(ctx context.Context, accountID string) (*Session, error) {
	return c.inner.CreateSession(ctx, accountID)
}

// Invalidate drops one email from the cache.
func (c *CachedProvisioner) Invalidate(email string) {
	c.cache.Remove(strings.ToLower(email))
}
