package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newClock() *fakeClock { return &fakeClock{now: time.Unix(1000, 0)} }

func constant(v int) func() int { return func() int { return v } }

func TestNew(t *testing.T) {
	t.Run("zero capacity uses default", func(t *testing.T) {
		c := New[int](0, 0)
		if c.Stats().Capacity != 1024 {
			t.Errorf("expected default capacity 1024, got %d", c.Stats().Capacity)
		}
	})

	t.Run("with ttl starts cleanup goroutine", func(t *testing.T) {
		c := New[int](10, time.Minute)
		if c.cleanupStop == nil {
			t.Error("expected cleanup goroutine to be started")
		}
		c.Close()
		c.Close()
	})

	t.Run("without ttl no cleanup goroutine", func(t *testing.T) {
		c := New[int](10, 0)
		if c.cleanupStop != nil {
			t.Error("expected no cleanup goroutine")
		}
	})
}

func TestGetOrCreate(t *testing.T) {
	c := New[*int](10, 0)
	calls := 0
	create := func() *int {
		calls++
		v := calls
		return &v
	}

	first := c.GetOrCreate("peer", create)
	second := c.GetOrCreate("peer", create)
	if first != second {
		t.Fatal("expected the same value for repeated lookups")
	}
	if calls != 1 {
		t.Fatalf("expected create to run once, ran %d times", calls)
	}
	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 || s.Size != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestEviction(t *testing.T) {
	c := New[int](3, 0)
	for i := 0; i < 3; i++ {
		c.GetOrCreate(fmt.Sprint(i), constant(i))
	}
	// touch 0 so 1 becomes the oldest
	c.GetOrCreate("0", constant(-1))
	c.GetOrCreate("3", constant(3))

	if v := c.GetOrCreate("0", constant(-1)); v != 0 {
		t.Fatalf("expected recently used entry to survive, got %d", v)
	}
	if got := c.Stats().Evictions; got != 1 {
		t.Fatalf("expected 1 eviction, got %d", got)
	}
	if v := c.GetOrCreate("1", constant(-1)); v != -1 {
		t.Fatalf("expected least recently used entry to be evicted, got %d", v)
	}
	if size := c.Stats().Size; size != 3 {
		t.Fatalf("expected size 3, got %d", size)
	}
}

func TestExpiry(t *testing.T) {
	clock := newClock()
	c := New[int](10, time.Second, WithClock(clock.Now))
	defer c.Close()

	c.GetOrCreate("idle", constant(1))
	c.GetOrCreate("busy", constant(2))

	clock.Advance(600 * time.Millisecond)
	if v := c.GetOrCreate("busy", constant(-1)); v != 2 {
		t.Fatal("expected busy to be live")
	}
	clock.Advance(600 * time.Millisecond)

	if v := c.GetOrCreate("idle", constant(-1)); v != -1 {
		t.Fatal("expected idle entry to expire")
	}
	if v := c.GetOrCreate("busy", constant(-1)); v != 2 {
		t.Fatal("expected access to refresh expiry")
	}
	if got := c.Stats().Expired; got != 1 {
		t.Fatalf("expected 1 expired, got %d", got)
	}
}

func TestSweep(t *testing.T) {
	clock := newClock()
	c := New[int](10, time.Second, WithClock(clock.Now))
	defer c.Close()
	for i := 0; i < 5; i++ {
		c.GetOrCreate(fmt.Sprint(i), constant(i))
	}
	clock.Advance(500 * time.Millisecond)
	c.GetOrCreate("fresh", constant(9))
	clock.Advance(600 * time.Millisecond)

	if n := c.Sweep(); n != 5 {
		t.Fatalf("expected 5 swept, got %d", n)
	}
	if s := c.Stats(); s.Size != 1 || s.Expired != 5 {
		t.Fatalf("unexpected stats after sweep %+v", s)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int](64, time.Minute)
	defer c.Close()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*200+i)%100)
				c.GetOrCreate(key, constant(i))
				if i%10 == 0 {
					c.Sweep()
				}
			}
		}(g)
	}
	wg.Wait()
	if size := c.Stats().Size; size > 64 {
		t.Fatalf("cache exceeded capacity: %d", size)
	}
}
