package verdict

import (
	"container/list"
	"sync"
	"time"

	"github.com/secureqr/qr-sentinel/internal/model"
)

type cacheEntry struct {
	key       string
	verdict   *model.Verdict
	expiresAt time.Time
}

// Cache is the in-memory verdict cache: TTL per entry with LRU eviction under
// capacity pressure. Safe for concurrent use by in-flight requests.
type Cache struct {
	mu       sync.Mutex
	items    map[string]*list.Element
	order    *list.List // front = most recently used
	capacity int
	stopCh   chan struct{}
}

// NewCache creates a cache bounded to capacity entries.
func NewCache(capacity int) *Cache {
	c := &Cache{
		items:    make(map[string]*list.Element),
		order:    list.New(),
		capacity: capacity,
		stopCh:   make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Get returns a copy of the cached verdict, marked as served from cache.
func (c *Cache) Get(key string) (*model.Verdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	e := elem.Value.(*cacheEntry)
	if time.Now().After(e.expiresAt) {
		c.order.Remove(elem)
		delete(c.items, key)
		return nil, false
	}
	c.order.MoveToFront(elem)

	result := *e.verdict
	result.Cached = true
	return &result, true
}

// Set stores a verdict with the given TTL, evicting the least recently used
// entry when full.
func (c *Cache) Set(key string, v *model.Verdict, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*cacheEntry)
		e.verdict = v
		e.expiresAt = time.Now().Add(ttl)
		c.order.MoveToFront(elem)
		return
	}

	if c.capacity > 0 && c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).key)
		}
	}

	c.items[key] = c.order.PushFront(&cacheEntry{
		key:       key,
		verdict:   v,
		expiresAt: time.Now().Add(ttl),
	})
}

// Size returns the number of cached entries.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Capacity returns the configured entry bound.
func (c *Cache) Capacity() int {
	return c.capacity
}

// Stop terminates the background cleanup goroutine.
func (c *Cache) Stop() {
	close(c.stopCh)
}

func (c *Cache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			var next *list.Element
			for elem := c.order.Front(); elem != nil; elem = next {
				next = elem.Next()
				e := elem.Value.(*cacheEntry)
				if now.After(e.expiresAt) {
					c.order.Remove(elem)
					delete(c.items, e.key)
				}
			}
			c.mu.Unlock()
		case <-c.stopCh:
			return
		}
	}
}
