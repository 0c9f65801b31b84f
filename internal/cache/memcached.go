package cache

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const keyPrefix = "weather-dashboard:"

// NewMemcachedClient creates a memcached client. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// use package defaults if zero.
func NewMemcachedClient(addrs string, timeout time.Duration, maxIdleConns int) *memcache.Client {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return client
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// MemcachedCache implements Cache on a shared memcached client. Values are
// stored in an envelope with their storedAt time so freshness is checked
// exactly, not at memcached's one-second expiry granularity.
type MemcachedCache[V any] struct {
	client *memcache.Client
	ttl    time.Duration
	now    func() time.Time
}

type envelope[V any] struct {
	Value    V         `json:"value"`
	StoredAt time.Time `json:"storedAt"`
}

// NewMemcachedCache wraps client as a Cache for values of type V.
func NewMemcachedCache[V any](client *memcache.Client, ttl time.Duration) *MemcachedCache[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemcachedCache[V]{client: client, ttl: ttl, now: time.Now}
}

func (c *MemcachedCache[V]) key(k string) string {
	return keyPrefix + k
}

// Get implements Cache.Get. Returns false, nil on miss or stale entry; false, err on error.
func (c *MemcachedCache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if ctx.Err() != nil {
		return zero, false, ctx.Err()
	}
	item, err := c.client.Get(c.key(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return zero, false, nil
		}
		return zero, false, err
	}
	var env envelope[V]
	if err := json.Unmarshal(item.Value, &env); err != nil {
		return zero, false, err
	}
	if c.now().Sub(env.StoredAt) > c.ttl {
		_ = c.client.Delete(c.key(key))
		return zero, false, nil
	}
	return env.Value, true, nil
}

// Set implements Cache.Set.
func (c *MemcachedCache[V]) Set(ctx context.Context, key string, value V) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(envelope[V]{Value: value, StoredAt: c.now()})
	if err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      raw,
		Expiration: expirationSeconds(c.ttl),
	})
}

// expirationSeconds rounds ttl up to whole seconds; memcached treats values
// above 30 days as absolute timestamps, so those are capped.
func expirationSeconds(ttl time.Duration) int32 {
	const maxRelativeExp = 30 * 24 * 60 * 60
	sec := int32(math.Ceil(ttl.Seconds()))
	if sec <= 0 {
		return 1
	}
	if sec > maxRelativeExp {
		return maxRelativeExp
	}
	return sec
}
