// Package cache provides a bounded LRU keyed by string with optional expiry.
// The gRPC server keeps one rate limiter per peer in it so that idle peers
// age out and a flood of distinct addresses cannot grow memory unbounded.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Stats holds cache statistics.
type Stats struct {
	Hits      int64
	Misses    int64
	Size      int
	Capacity  int
	Evictions int64
	Expired   int64
}

// LRU is a threadsafe least-recently-used cache with an idle TTL. Reading an
// entry refreshes its expiry.
type LRU[V any] struct {
	mu          sync.Mutex
	ll          *list.List
	items       map[string]*list.Element
	capacity    int
	ttl         time.Duration
	now         func() time.Time
	stats       Stats
	cleanupStop context.CancelFunc
	cleanupDone chan struct{}
}

type entry[V any] struct {
	key    string
	value  V
	expire time.Time
}

// Option configures an LRU.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New returns a cache holding at most capacity entries. With ttl > 0 entries
// expire after ttl without access and a background goroutine sweeps them.
func New[V any](capacity int, ttl time.Duration, opts ...Option) *LRU[V] {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	if capacity <= 0 {
		capacity = 1024
	}
	c := &LRU[V]{
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		capacity: capacity,
		ttl:      ttl,
		now:      o.now,
	}
	if ttl > 0 {
		c.cleanupDone = make(chan struct{})
		ctx, cancel := context.WithCancel(context.Background())
		c.cleanupStop = cancel
		go c.cleanupExpired(ctx, ttl)
	}
	return c
}

func (c *LRU[V]) get(key string) (V, bool) {
	var zero V
	ele, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}
	ent := ele.Value.(*entry[V])
	now := c.now()
	if c.ttl > 0 && now.After(ent.expire) {
		c.removeElement(ele)
		c.stats.Expired++
		c.stats.Misses++
		return zero, false
	}
	c.ll.MoveToFront(ele)
	if c.ttl > 0 {
		ent.expire = now.Add(c.ttl)
	}
	c.stats.Hits++
	return ent.value, true
}

func (c *LRU[V]) set(key string, value V) {
	if ele, ok := c.items[key]; ok {
		c.ll.MoveToFront(ele)
		ent := ele.Value.(*entry[V])
		ent.value = value
		if c.ttl > 0 {
			ent.expire = c.now().Add(c.ttl)
		}
		return
	}
	if c.ll.Len() >= c.capacity {
		c.evictOldest()
	}
	ent := &entry[V]{key: key, value: value}
	if c.ttl > 0 {
		ent.expire = c.now().Add(c.ttl)
	}
	c.items[key] = c.ll.PushFront(ent)
}

// GetOrCreate returns the live entry for key, storing the result of create
// when there is none. create runs under the cache lock and must not call
// back into the cache.
func (c *LRU[V]) GetOrCreate(key string, create func() V) V {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.get(key); ok {
		return v
	}
	v := create()
	c.set(key, v)
	return v
}

func (c *LRU[V]) evictOldest() {
	if ele := c.ll.Back(); ele != nil {
		c.removeElement(ele)
		c.stats.Evictions++
	}
}

func (c *LRU[V]) removeElement(ele *list.Element) {
	c.ll.Remove(ele)
	delete(c.items, ele.Value.(*entry[V]).key)
}

// Stats returns current cache statistics.
func (c *LRU[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = c.ll.Len()
	s.Capacity = c.capacity
	return s
}

func (c *LRU[V]) cleanupExpired(ctx context.Context, ttl time.Duration) {
	interval := ttl / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(c.cleanupDone)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Sweep drops every expired entry and returns how many were removed.
func (c *LRU[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ttl <= 0 {
		return 0
	}
	now := c.now()
	removed := 0
	for ele := c.ll.Back(); ele != nil; {
		prev := ele.Prev()
		if now.After(ele.Value.(*entry[V]).expire) {
			c.removeElement(ele)
			c.stats.Expired++
			removed++
		}
		ele = prev
	}
	return removed
}

// Close stops the background sweep. It is safe to call more than once.
func (c *LRU[V]) Close() error {
	c.mu.Lock()
	stop, done := c.cleanupStop, c.cleanupDone
	c.cleanupStop = nil
	c.mu.Unlock()
	if stop != nil {
		stop()
		<-done
	}
	return nil
}
