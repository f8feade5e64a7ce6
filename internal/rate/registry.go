package rate

import (
	"strings"
	"sync"
	"time"
)

// Registry owns one Bucket per remote host.
type Registry struct {
	mu           sync.RWMutex
	m            map[string]*Bucket
	capacity     float64
	refillPerSec float64
	idleAfter    time.Duration
}

// New returns an empty registry whose buckets use the given parameters.
// idleAfter controls Sweep; zero keeps buckets for the registry's lifetime.
func New(capacity, refillPerSec float64, idleAfter time.Duration) *Registry {
	return &Registry{
		m:            make(map[string]*Bucket),
		capacity:     capacity,
		refillPerSec: refillPerSec,
		idleAfter:    idleAfter,
	}
}

// Get returns the bucket for host, creating it on first use.
func (r *Registry) Get(host string) *Bucket {
	host = strings.ToLower(host)
	r.mu.RLock()
	b, ok := r.m[host]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check after acquiring write lock
	if b, ok := r.m[host]; ok {
		return b
	}
	b = NewBucket(host, r.capacity, r.refillPerSec)
	r.m[host] = b
	return b
}

// Acquire is Get plus a hold that keeps the bucket out of Sweep until the
// caller calls Release.
func (r *Registry) Acquire(host string) *Bucket {
	for {
		b := r.Get(host)
		if b.acquire() {
			return b
		}
		// Retired between lookup and hold; Sweep has already unlinked it.
	}
}

// Each calls fn for a snapshot of the current buckets.
func (r *Registry) Each(fn func(*Bucket)) {
	r.mu.RLock()
	buckets := make([]*Bucket, 0, len(r.m))
	for _, b := range r.m {
		buckets = append(buckets, b)
	}
	r.mu.RUnlock()
	for _, b := range buckets {
		fn(b)
	}
}

// Len returns the number of live buckets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}

// Sweep removes buckets idle for longer than the registry's idle period and
// returns how many were dropped.
func (r *Registry) Sweep(now time.Time) int {
	if r.idleAfter <= 0 {
		return 0
	}
	cutoff := now.Add(-r.idleAfter)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for host, b := range r.m {
		if b.retireIfIdle(now, cutoff) {
			delete(r.m, host)
			n++
		}
	}
	return n
}
