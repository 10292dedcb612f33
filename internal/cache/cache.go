// Package cache is a TTL-bounded response cache. Eviction is
// FIFO-by-insertion, not LRU: reads never promote an entry, and the
// capacity evictee is always the earliest-inserted key.
package cache

import (
	"sync"
	"time"

	"github.com/stellarlinkco/deskmate/internal/clock"
)

const (
	DefaultTTL = 30 * time.Minute
	DefaultMax = 50
)

type entry struct {
	response  string
	createdAt time.Time
}

type Cache struct {
	mu      sync.Mutex
	clk     clock.Clock
	ttl     time.Duration
	max     int
	entries map[string]entry
	order   []string // insertion order, oldest first
}

func New(clk clock.Clock) *Cache {
	return NewWithLimits(clk, DefaultTTL, DefaultMax)
}

func NewWithLimits(clk clock.Clock, ttl time.Duration, max int) *Cache {
	return &Cache{
		clk:     clk,
		ttl:     ttl,
		max:     max,
		entries: make(map[string]entry),
	}
}

// Get returns the cached response. Staleness is checked lazily: an
// entry older than the TTL is deleted on read and reported as a miss.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.clk.Now().Sub(e.createdAt) > c.ttl {
		c.remove(key)
		return "", false
	}
	return e.response, true
}

// Put inserts or overwrites. Overwriting refreshes the timestamp but
// keeps the key's original insertion position. When the cache exceeds
// capacity the earliest-inserted key is evicted.
func (c *Cache) Put(key, response string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		c.order = append(c.order, key)
	}
	c.entries[key] = entry{response: response, createdAt: c.clk.Now()}

	for len(c.entries) > c.max {
		c.remove(c.order[0])
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) remove(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
