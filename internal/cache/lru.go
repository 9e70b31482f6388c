package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/fraudsvc/fraudsvc/internal/domain"
)

type lruEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// LRUCache is an in-process, mutex-guarded cache with TTL eviction, used
// standalone in the community tier and as the L1 tier of TwoPhaseCache in
// the pro tier.
type LRUCache struct {
	mu       sync.Mutex
	maxSize  int
	items    map[string]*list.Element
	order    *list.List // front = most recently used
	counters map[string]*counterEntry
	velocity map[string][]velocityEvent
}

type counterEntry struct {
	value     int64
	expiresAt time.Time
}

type velocityEvent struct {
	member string
	score  float64
}

func NewLRU(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize:  maxSize,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		counters: make(map[string]*counterEntry),
		velocity: make(map[string][]velocityEvent),
	}
}

func nsKey(tenantID, key string) string { return tenantID + "\x00" + key }

func (c *LRUCache) Get(_ context.Context, tenantID, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := nsKey(tenantID, key)
	el, ok := c.items[k]
	if !ok {
		return nil, false, nil
	}
	entry := el.Value.(*lruEntry)
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.removeLocked(el)
		return nil, false, nil
	}
	c.order.MoveToFront(el)
	return entry.value, true, nil
}

func (c *LRUCache) Set(_ context.Context, tenantID, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := nsKey(tenantID, key)
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	if el, ok := c.items[k]; ok {
		entry := el.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return nil
	}

	entry := &lruEntry{key: k, value: value, expiresAt: expiresAt}
	el := c.order.PushFront(entry)
	c.items[k] = el

	if c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		if oldest != nil {
			c.removeLocked(oldest)
		}
	}
	return nil
}

func (c *LRUCache) removeLocked(el *list.Element) {
	entry := el.Value.(*lruEntry)
	delete(c.items, entry.key)
	c.order.Remove(el)
}

func (c *LRUCache) Delete(_ context.Context, tenantID, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := nsKey(tenantID, key)
	if el, ok := c.items[k]; ok {
		c.removeLocked(el)
	}
	return nil
}

func (c *LRUCache) IncrementCounter(_ context.Context, tenantID, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := nsKey(tenantID, key)
	now := time.Now()
	entry, ok := c.counters[k]
	if !ok || (!entry.expiresAt.IsZero() && now.After(entry.expiresAt)) {
		entry = &counterEntry{value: 0, expiresAt: now.Add(ttl)}
		c.counters[k] = entry
	}
	entry.value++
	return entry.value, nil
}

func (c *LRUCache) VelocityAdd(_ context.Context, tenantID, key, member string, score float64, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := nsKey(tenantID, key)
	cutoff := score - ttl.Seconds()
	events := c.velocity[k]

	replaced := false
	trimmed := events[:0]
	for _, e := range events {
		if e.member == member {
			e.score = score
			replaced = true
		}
		if e.score >= cutoff {
			trimmed = append(trimmed, e)
		}
	}
	if !replaced {
		trimmed = append(trimmed, velocityEvent{member: member, score: score})
	}
	c.velocity[k] = trimmed
	return nil
}

func (c *LRUCache) VelocityCount(_ context.Context, tenantID, key string, since float64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := nsKey(tenantID, key)
	events := c.velocity[k]
	var count int64
	for _, e := range events {
		if e.score >= since {
			count++
		}
	}
	return count, nil
}

func (c *LRUCache) Ping(_ context.Context) error { return nil }
func (c *LRUCache) Close() error                 { return nil }

// Stats reports a coarse size snapshot: cached items and counters.
func (c *LRUCache) Stats() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]int{"items": c.order.Len(), "counters": len(c.counters)}
}

var _ domain.Cache = (*LRUCache)(nil)
