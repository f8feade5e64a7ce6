package fetch

import (
	"math/rand/v2"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/gustycube/hostfetch/internal/cache"
	"github.com/gustycube/hostfetch/internal/httpclient"
	"github.com/gustycube/hostfetch/internal/rate"
)

const (
	DefaultTick        = 20 * time.Millisecond
	DefaultSoftTimeout = 14 * time.Second
	DefaultBucketIdle  = time.Hour
	DefaultUserAgent   = "hostfetch/1.0"
	DefaultMaxBody     = 16 << 20

	sweepEvery = time.Minute
	kickBuffer = 256
)

// Client owns the per-host buckets, the response cache and the pump that
// dispatches queued attempts. Create one with New and stop it with Close.
type Client struct {
	hc       *http.Client
	registry *rate.Registry
	cache    *cache.TTL
	log      *zap.SugaredLogger
	tracer   trace.Tracer
	now      func() time.Time

	tick        time.Duration
	softTimeout time.Duration
	defaultTTL  time.Duration
	sweepEvery  time.Duration
	maxBody     int64

	// Test hooks for the retry orchestrator.
	newTimer func() backoff.Timer
	jitter   func() time.Duration

	kicks     chan *rate.Bucket
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type settings struct {
	capacity     float64
	refillPerSec float64
	tick         time.Duration
	softTimeout  time.Duration
	defaultTTL   time.Duration
	cacheSize    int
	bucketIdle   time.Duration
	hc           *http.Client
	ua           string
	log          *zap.SugaredLogger
	clock        func() time.Time
	maxBody      int64
}

// Option configures a Client.
type Option func(*settings)

// WithRate sets the bucket capacity and refill rate for every host.
func WithRate(capacity, refillPerSec float64) Option {
	return func(s *settings) {
		s.capacity = capacity
		s.refillPerSec = refillPerSec
	}
}

// WithTick sets how often the pump walks every bucket.
func WithTick(d time.Duration) Option {
	return func(s *settings) { s.tick = d }
}

// WithSoftTimeout bounds a single attempt.
func WithSoftTimeout(d time.Duration) Option {
	return func(s *settings) { s.softTimeout = d }
}

// WithDefaultTTL sets the cache lifetime used for GETs that do not set one.
func WithDefaultTTL(d time.Duration) Option {
	return func(s *settings) { s.defaultTTL = d }
}

// WithCacheSize bounds the response cache.
func WithCacheSize(n int) Option {
	return func(s *settings) { s.cacheSize = n }
}

// WithBucketIdle sets how long an unused host bucket survives. Zero keeps
// buckets forever.
func WithBucketIdle(d time.Duration) Option {
	return func(s *settings) { s.bucketIdle = d }
}

// WithHTTPClient replaces the transport client. The client should not carry
// a cookie jar.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *settings) { s.hc = hc }
}

// WithUserAgent sets the User-Agent sent when the caller does not set one.
func WithUserAgent(ua string) Option {
	return func(s *settings) { s.ua = ua }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *settings) { s.log = log }
}

// WithMaxBody caps how many bytes of a response body are buffered. Larger
// bodies fail with ErrBodyTooLarge.
func WithMaxBody(n int64) Option {
	return func(s *settings) { s.maxBody = n }
}

// WithClock sets the clock the response cache expires entries against.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.clock = now }
}

// New builds a Client and starts its pump.
func New(opts ...Option) *Client {
	s := settings{
		capacity:     rate.DefaultCapacity,
		refillPerSec: rate.DefaultRefillPerSec,
		tick:         DefaultTick,
		softTimeout:  DefaultSoftTimeout,
		defaultTTL:   DefaultTTL,
		cacheSize:    cache.DefaultSize,
		bucketIdle:   DefaultBucketIdle,
		ua:           DefaultUserAgent,
		maxBody:      DefaultMaxBody,
	}
	for _, o := range opts {
		o(&s)
	}
	if s.tick <= 0 {
		s.tick = DefaultTick
	}
	if s.softTimeout <= 0 {
		s.softTimeout = DefaultSoftTimeout
	}
	if s.defaultTTL <= 0 {
		s.defaultTTL = DefaultTTL
	}
	if s.maxBody <= 0 {
		s.maxBody = DefaultMaxBody
	}
	if s.hc == nil {
		s.hc = httpclient.Default()
	}
	if s.log == nil {
		s.log = zap.NewNop().Sugar()
	}
	if s.clock == nil {
		s.clock = time.Now
	}

	c := &Client{
		hc:          httpclient.WithUserAgent(s.hc, s.ua),
		registry:    rate.New(s.capacity, s.refillPerSec, s.bucketIdle),
		cache:       cache.New(s.cacheSize, s.clock),
		log:         s.log,
		tracer:      otel.Tracer("hostfetch/fetch"),
		now:         time.Now,
		tick:        s.tick,
		softTimeout: s.softTimeout,
		defaultTTL:  s.defaultTTL,
		sweepEvery:  sweepEvery,
		maxBody:     s.maxBody,
		jitter: func() time.Duration {
			return rand.N(120 * time.Millisecond)
		},
		kicks: make(chan *rate.Bucket, kickBuffer),
		done:  make(chan struct{}),
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// Close stops the pump. Callers still waiting for a dispatch receive
// ErrClosed; attempts already on the wire run to completion.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
	return nil
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Stats returns a snapshot of every live host bucket, sorted by host.
func (c *Client) Stats() []rate.Stats {
	now := c.now()
	var out []rate.Stats
	c.registry.Each(func(b *rate.Bucket) {
		out = append(out, b.Snapshot(now))
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out
}
