package dedup

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// flight is the shared context of one outstanding call and the number of
// callers still waiting on it.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Tracker coalesces concurrent calls that share a key so only one of them
// touches the network.
type Tracker struct {
	g singleflight.Group
	n atomic.Int64

	mu      sync.Mutex
	flights map[string]*flight
}

func NewTracker() *Tracker {
	return &Tracker{flights: make(map[string]*flight)}
}

// Key combines a URL with an optional caller-supplied discriminator.
func Key(url, discriminator string) string {
	if discriminator == "" {
		return url
	}
	return url + "::" + discriminator
}

// Applies reports whether requests with method may be coalesced. Only reads
// are; an empty method means GET.
func Applies(method string) bool {
	return method == "" || strings.EqualFold(method, http.MethodGet)
}

// Do runs fn at most once at a time per key. Callers arriving while a call is
// outstanding wait for it and receive the same value; shared reports whether
// that happened.
//
// fn runs under a context that keeps the values of the caller that started it
// but is cancelled only once every waiting caller has gone. A caller whose ctx
// ends stops waiting without affecting the others. When the last one leaves,
// the call is abandoned and the next caller for key starts a fresh one.
func (t *Tracker) Do(ctx context.Context, key string, fn func(context.Context) (any, error)) (v any, shared bool, err error) {
	t.mu.Lock()
	f, ok := t.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		t.flights[key] = f
	}
	f.waiters++
	ch := t.g.DoChan(key, func() (any, error) {
		t.n.Add(1)
		defer t.n.Add(-1)
		defer t.settle(key, f)
		return fn(f.ctx)
	})
	t.mu.Unlock()

	select {
	case r := <-ch:
		t.leave(key, f, false)
		return r.Val, r.Shared, r.Err
	case <-ctx.Done():
		t.leave(key, f, true)
		return nil, false, ctx.Err()
	}
}

// settle runs as fn returns, before the group forgets key.
func (t *Tracker) settle(key string, f *flight) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.flights[key] == f {
		delete(t.flights, key)
	}
}

func (t *Tracker) leave(key string, f *flight, early bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if t.flights[key] == f {
		delete(t.flights, key)
		if early {
			t.g.Forget(key)
		}
	}
}

// InFlight returns the number of distinct keys with an outstanding call.
func (t *Tracker) InFlight() int {
	return int(t.n.Load())
}
