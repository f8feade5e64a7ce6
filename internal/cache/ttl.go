package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSize bounds the number of cached responses.
const DefaultSize = 4096

type entry struct {
	data    any
	expires time.Time
}

// TTL is an in-memory store of recent results where every entry carries its
// own expiry. Expired entries are dropped when read; there is no sweeper. The
// LRU bound keeps a long-running process from growing without limit.
type TTL struct {
	lru *lru.Cache[string, entry]
	now func() time.Time
}

// New returns a cache holding at most size entries. A nil clock uses
// time.Now.
func New(size int, clock func() time.Time) *TTL {
	if size <= 0 {
		size = DefaultSize
	}
	if clock == nil {
		clock = time.Now
	}
	// lru.New only fails for non-positive sizes.
	l, _ := lru.New[string, entry](size)
	return &TTL{lru: l, now: clock}
}

// Get returns the value stored under key if it has not expired.
func (c *TTL) Get(key string) (any, bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if !e.expires.After(c.now()) {
		c.lru.Remove(key)
		return nil, false
	}
	return e.data, true
}

// Set stores data under key for ttl. Negative ttls are treated as zero,
// which stores an entry that is already expired.
func (c *TTL) Set(key string, data any, ttl time.Duration) {
	if ttl < 0 {
		ttl = 0
	}
	c.lru.Add(key, entry{data: data, expires: c.now().Add(ttl)})
}

// Len returns the number of stored entries, expired ones included.
func (c *TTL) Len() int { return c.lru.Len() }
