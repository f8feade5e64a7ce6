package rate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/gustycube/hostfetch/internal/dedup"
)

// Priority selects the queue an item waits in.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityLow
)

func (p Priority) String() string {
	if p == PriorityLow {
		return "low"
	}
	return "high"
}

const (
	DefaultCapacity     = 9.0
	DefaultRefillPerSec = 9.0

	warnLimit  = 3
	warnWindow = 10 * time.Second
)

// Item is one unit of queued work. Run performs a single attempt and is
// responsible for settling its own caller.
type Item struct {
	Key string
	Ctx context.Context
	Run func()
}

func (it *Item) cancelled() bool {
	return it.Ctx != nil && it.Ctx.Err() != nil
}

// Bucket holds the rate-limit, queue and in-flight state for one host.
type Bucket struct {
	Host    string
	Flights *dedup.Tracker

	mu           sync.Mutex
	limiter      *rate.Limiter
	capacity     float64
	blockedUntil time.Time
	queueHi      []*Item
	queueLo      []*Item
	warnCount    int
	warnStart    time.Time
	holds        int
	lastUsed     time.Time
	retired      bool
}

// Stats is a point-in-time view of a bucket.
type Stats struct {
	Host         string    `json:"host"`
	Tokens       float64   `json:"tokens"`
	QueuedHi     int       `json:"queued_hi"`
	QueuedLo     int       `json:"queued_lo"`
	InFlight     int       `json:"in_flight"`
	BlockedUntil time.Time `json:"blocked_until,omitempty"`
}

// NewBucket returns a full bucket for host.
func NewBucket(host string, capacity, refillPerSec float64) *Bucket {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	if refillPerSec <= 0 {
		refillPerSec = DefaultRefillPerSec
	}
	return &Bucket{
		Host:     host,
		Flights:  dedup.NewTracker(),
		limiter:  rate.NewLimiter(rate.Limit(refillPerSec), int(capacity)),
		capacity: float64(int(capacity)),
		lastUsed: time.Now(),
	}
}

// Tokens reports the token count at now, clamped to [0, capacity].
func (b *Bucket) Tokens(now time.Time) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokensLocked(now)
}

func (b *Bucket) tokensLocked(now time.Time) float64 {
	t := b.limiter.TokensAt(now)
	if t < 0 {
		return 0
	}
	if t > b.capacity {
		return b.capacity
	}
	return t
}

// Capacity returns the bucket's burst size.
func (b *Bucket) Capacity() float64 { return b.capacity }

// Enqueue appends it to the queue for p. Callers must hold the bucket via
// Registry.Acquire so it cannot be swept while work is queued.
func (b *Bucket) Enqueue(it *Item, p Priority) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = time.Now()
	if p == PriorityLow {
		b.queueLo = append(b.queueLo, it)
	} else {
		b.queueHi = append(b.queueHi, it)
	}
}

// RequeueFront puts it back at the head of the low-priority queue so it runs
// before other low-priority work but still yields to high-priority work.
func (b *Bucket) RequeueFront(it *Item) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queueLo = append([]*Item{it}, b.queueLo...)
}

// Next pops the next dispatchable item and debits one token for it. It
// returns false while the host is cooling down, out of tokens, or idle.
func (b *Bucket) Next(now time.Time) (*Item, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if now.Before(b.blockedUntil) {
		return nil, false
	}
	for {
		if b.tokensLocked(now) < 1 {
			return nil, false
		}
		q := &b.queueHi
		if len(b.queueHi) == 0 {
			q = &b.queueLo
		}
		if len(*q) == 0 {
			return nil, false
		}
		it := (*q)[0]
		// Abandoned waiters do not cost a token.
		if it.cancelled() {
			(*q)[0] = nil
			*q = (*q)[1:]
			continue
		}
		if !b.limiter.AllowN(now, 1) {
			return nil, false
		}
		(*q)[0] = nil
		*q = (*q)[1:]
		b.lastUsed = now
		return it, true
	}
}

// Block stops dispatch on the host until until. An earlier cooldown never
// shortens a later one.
func (b *Bucket) Block(until time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if until.After(b.blockedUntil) {
		b.blockedUntil = until
	}
}

// BlockedUntil returns the end of the current cooldown.
func (b *Bucket) BlockedUntil() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blockedUntil
}

// AllowWarn reports whether a diagnostic warning may be emitted at now,
// allowing at most three per rolling ten second window.
func (b *Bucket) AllowWarn(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.warnStart.IsZero() || now.Sub(b.warnStart) >= warnWindow {
		b.warnStart = now
		b.warnCount = 0
	}
	if b.warnCount >= warnLimit {
		return false
	}
	b.warnCount++
	return true
}

// Queued returns the lengths of the high and low queues.
func (b *Bucket) Queued() (hi, lo int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queueHi), len(b.queueLo)
}

// Release drops a hold taken by Registry.Acquire.
func (b *Bucket) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.holds > 0 {
		b.holds--
	}
	b.lastUsed = time.Now()
}

func (b *Bucket) acquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.retired {
		return false
	}
	b.holds++
	b.lastUsed = time.Now()
	return true
}

// retireIfIdle marks the bucket retired when nothing references it and it
// has been unused since cutoff.
func (b *Bucket) retireIfIdle(now, cutoff time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.holds > 0 || len(b.queueHi) > 0 || len(b.queueLo) > 0 {
		return false
	}
	if now.Before(b.blockedUntil) || b.lastUsed.After(cutoff) {
		return false
	}
	b.retired = true
	return true
}

// Snapshot returns the bucket's current Stats.
func (b *Bucket) Snapshot(now time.Time) Stats {
	b.mu.Lock()
	s := Stats{
		Host:     b.Host,
		Tokens:   b.tokensLocked(now),
		QueuedHi: len(b.queueHi),
		QueuedLo: len(b.queueLo),
	}
	if now.Before(b.blockedUntil) {
		s.BlockedUntil = b.blockedUntil
	}
	b.mu.Unlock()
	s.InFlight = b.Flights.InFlight()
	return s
}
