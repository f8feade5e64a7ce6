package cache

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func TestTTL_Expiry(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := New(16, clk.Now)

	c.Set("k", "v", 1000*time.Millisecond)

	clk.Advance(500 * time.Millisecond)
	v, ok := c.Get("k")
	if !ok || v != "v" {
		t.Fatalf("expected hit at 500ms, got %v %v", v, ok)
	}

	clk.Advance(501 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("expected miss at 1001ms")
	}
	if c.Len() != 0 {
		t.Errorf("expected expired entry removed on read, len=%d", c.Len())
	}
}

func TestTTL_Miss(t *testing.T) {
	c := New(16, nil)
	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss for unknown key")
	}
}

func TestTTL_NonPositiveTTL(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := New(16, clk.Now)

	c.Set("zero", 1, 0)
	c.Set("negative", 2, -time.Second)

	if _, ok := c.Get("zero"); ok {
		t.Error("expected zero ttl entry to be a miss")
	}
	if _, ok := c.Get("negative"); ok {
		t.Error("expected negative ttl entry to be a miss")
	}
}

func TestTTL_Overwrite(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := New(16, clk.Now)

	c.Set("k", "old", time.Second)
	clk.Advance(900 * time.Millisecond)
	c.Set("k", "new", time.Second)
	clk.Advance(900 * time.Millisecond)

	v, ok := c.Get("k")
	if !ok || v != "new" {
		t.Errorf("expected refreshed entry, got %v %v", v, ok)
	}
}

func TestTTL_Bounded(t *testing.T) {
	c := New(2, nil)
	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)
	c.Set("c", 3, time.Minute)

	if c.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("expected least recently used entry evicted")
	}
}

func BenchmarkTTL_Get(b *testing.B) {
	c := New(DefaultSize, nil)
	c.Set("k", "v", time.Hour)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Get("k")
	}
}
