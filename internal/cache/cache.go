package cache

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/weather-dashboard/internal/models"
)

// DefaultTTL is how long an upstream result is reused for the same key.
const DefaultTTL = 60 * time.Second

// Cache memoizes values by key for a fixed time-to-live.
// Get returns (value, true, nil) only while now-storedAt <= TTL.
type Cache[V any] interface {
	Get(ctx context.Context, key string) (V, bool, error)
	Set(ctx context.Context, key string, value V) error
}

// Key builds "<operation>-<lat>-<lon>" so distinct operations on the same
// coordinate never collide.
func Key(operation string, lat, lon float64) string {
	return operation + "-" + models.CityID(lat, lon)
}

// InMemoryCache implements Cache with a map. There is no capacity bound:
// keys are the coordinates a user visits and entries expire on their own.
// Expired entries are removed by the Get that finds them.
type InMemoryCache[V any] struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	data map[string]cacheEntry[V]
}

type cacheEntry[V any] struct {
	value    V
	storedAt time.Time
}

// NewInMemoryCache creates an in-memory cache with the given TTL.
func NewInMemoryCache[V any](ttl time.Duration) *InMemoryCache[V] {
	return NewInMemoryCacheWithClock[V](ttl, time.Now)
}

// NewInMemoryCacheWithClock creates an in-memory cache that reads time from now.
func NewInMemoryCacheWithClock[V any](ttl time.Duration, now func() time.Time) *InMemoryCache[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &InMemoryCache[V]{
		ttl:  ttl,
		now:  now,
		data: make(map[string]cacheEntry[V]),
	}
}

// Get returns the stored value while it is fresh; otherwise it evicts the
// entry and reports a miss.
func (c *InMemoryCache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	entry, ok := c.data[key]
	if !ok {
		return zero, false, nil
	}
	if c.now().Sub(entry.storedAt) > c.ttl {
		delete(c.data, key)
		return zero, false, nil
	}
	return entry.value, true, nil
}

// Set stores value with storedAt = now, overwriting any prior entry.
func (c *InMemoryCache[V]) Set(ctx context.Context, key string, value V) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = cacheEntry[V]{
		value:    value,
		storedAt: c.now(),
	}
	return nil
}

// Len returns the number of entries held, including expired ones not yet looked up.
func (c *InMemoryCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
