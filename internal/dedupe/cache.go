// ABOUTME: Thread-safe TTL cache remembering the result produced for a request key
// ABOUTME: Lets a request retried on another channel return the original outcome

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// entry is one cached value with its insertion time and position in the order list.
type entry[V any] struct {
	key     string
	value   V
	stored  time.Time
	element *list.Element
}

// Cache is a TTL-based, size-limited map from request key to result.
// The oldest entry is evicted first when the cache is full.
type Cache[V any] struct {
	mu      sync.Mutex
	items   map[string]*entry[V]
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a cache holding at most maxSize results for ttl each.
// A background goroutine sweeps expired entries until Close is called.
func New[V any](ttl time.Duration, maxSize int) *Cache[V] {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache[V]{
		items:   make(map[string]*entry[V]),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	c.wg.Add(1)
	go c.cleanup()
	return c
}

// Get returns the value stored for key if it has not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.items[key]
	if !ok {
		return zero, false
	}
	if c.now().Sub(e.stored) >= c.ttl {
		c.removeLocked(e)
		return zero, false
	}
	return e.value, true
}

// Put stores value for key, replacing any earlier value and refreshing its TTL.
func (c *Cache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.items[key]; ok {
		e.value = value
		e.stored = now
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.items) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			c.removeLocked(front.Value.(*entry[V]))
		}
	}

	e := &entry[V]{key: key, value: value, stored: now}
	e.element = c.order.PushBack(e)
	c.items[key] = e
}

// Len returns the number of entries, expired or not.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Close stops the sweeper and waits for it. Safe to call more than once.
func (c *Cache[V]) Close() {
	c.closeOnce.Do(func() { close(c.done) })
	c.wg.Wait()
}

func (c *Cache[V]) removeLocked(e *entry[V]) {
	c.order.Remove(e.element)
	delete(c.items, e.key)
}

func (c *Cache[V]) cleanup() {
	defer c.wg.Done()

	interval := c.ttl
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep drops expired entries. Entries are in insertion order so it stops
// at the first live one.
func (c *Cache[V]) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		e := front.Value.(*entry[V])
		if now.Sub(e.stored) < c.ttl {
			return
		}
		c.removeLocked(e)
	}
}
