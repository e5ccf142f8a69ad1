package owm

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/forecast-etl/internal/domain"
	"github.com/couchcryptid/forecast-etl/internal/observability"
	"github.com/jonboulle/clockwork"
)

// CachedSource wraps a ForecastSource with an in-memory LRU cache whose
// entries expire after a fixed TTL.
type CachedSource struct {
	inner   domain.ForecastSource
	cache   *lruCache
	ttl     time.Duration
	clock   clockwork.Clock
	metrics *observability.Metrics
}

// NewCachedSource creates a cache decorator around a forecast source. A
// non-positive ttl disables caching.
func NewCachedSource(inner domain.ForecastSource, maxEntries int, ttl time.Duration, clock clockwork.Clock, metrics *observability.Metrics) *CachedSource {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &CachedSource{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		ttl:     ttl,
		clock:   clock,
		metrics: metrics,
	}
}

// FetchForecast serves a fresh cached response when one exists and asks the
// inner source otherwise. Failures are never cached.
func (c *CachedSource) FetchForecast(ctx context.Context, query string) (domain.ForecastResponse, error) {
	if c.ttl <= 0 {
		return c.inner.FetchForecast(ctx, query)
	}

	key := strings.ToLower(strings.TrimSpace(query))
	now := c.clock.Now()
	if resp, ok := c.cache.get(key, now); ok {
		c.metrics.CacheLookups.WithLabelValues("hit").Inc()
		return resp, nil
	}
	c.metrics.CacheLookups.WithLabelValues("miss").Inc()

	resp, err := c.inner.FetchForecast(ctx, query)
	if err != nil {
		return resp, err
	}
	c.cache.put(key, resp, c.clock.Now().Add(c.ttl))
	return resp, nil
}

// lruCache is a thread-safe LRU cache of forecast responses with per-entry expiry.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key     string
	value   domain.ForecastResponse
	expires time.Time
	prev    *entry
	next    *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string, now time.Time) (domain.ForecastResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return domain.ForecastResponse{}, false
	}
	if !now.Before(e.expires) {
		delete(c.entries, key)
		c.remove(e)
		return domain.ForecastResponse{}, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value domain.ForecastResponse, expires time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expires = expires
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value, expires: expires}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
