package cache

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	key string
	ts  time.Time
}

// Memory keeps a fixed-size set of recently assembled responses in
// process. It is the fallback Store when no Redis address is configured.
type Memory struct {
	mu       sync.Mutex
	items    map[string]memValue
	order    []memEntry
	capacity int
	ttl      time.Duration
}

type memValue struct {
	data []byte
	ts   time.Time
}

// NewMemory creates a cache with the provided capacity and ttl.
func NewMemory(capacity int, ttl time.Duration) *Memory {
	if capacity <= 0 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Memory{
		items:    make(map[string]memValue, capacity),
		order:    make([]memEntry, 0, capacity),
		capacity: capacity,
		ttl:      ttl,
	}
}

// Get returns the cached value when the key is still inside the ttl
// window.
func (c *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.items[key]; ok {
		if now.Sub(v.ts) <= c.ttl {
			return v.data, true
		}
	}
	return nil, false
}

// Set records a value for key, evicting expired and overflow entries.
func (c *Memory) Set(_ context.Context, key string, value []byte) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = memValue{data: value, ts: now}
	c.order = append(c.order, memEntry{key: key, ts: now})
	c.compact(now)
}

func (c *Memory) compact(now time.Time) {
	cutoff := now.Add(-c.ttl)

	for len(c.order) > 0 && (len(c.items) > c.capacity || c.order[0].ts.Before(cutoff)) {
		oldest := c.order[0]
		c.order = c.order[1:]

		if v, ok := c.items[oldest.key]; ok {
			if v.ts.Equal(oldest.ts) {
				delete(c.items, oldest.key)
			}
		}
	}
}
