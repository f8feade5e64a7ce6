package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gustycube/hostfetch/internal/dedup"
	"github.com/gustycube/hostfetch/internal/metrics"
	"github.com/gustycube/hostfetch/internal/rate"
)

const (
	defaultRetryAfter = 1100 * time.Millisecond
	cooldownSlack     = 50 * time.Millisecond

	maxRetryAfterMS = float64(math.MaxInt64 / int64(time.Millisecond))
)

// Response is a fully buffered HTTP response. Joined callers share it, so
// Body must be treated as read-only.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

type result struct {
	resp *Response
	err  error
}

// execute runs one attempt for rawURL through the host's bucket. Concurrent
// GETs for the same key share a single attempt, which keeps running while any
// of their callers is still waiting.
func (c *Client) execute(ctx context.Context, rawURL string, o Options) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &NetworkError{URL: rawURL, Err: err}
	}
	if u.Host == "" {
		return nil, &NetworkError{URL: rawURL, Err: errors.New("missing host")}
	}

	b := c.registry.Acquire(u.Host)
	defer b.Release()

	key := dedup.Key(rawURL, o.DedupeKey)
	if !dedup.Applies(o.method()) {
		return c.enqueueAndWait(ctx, b, key, rawURL, o)
	}
	v, shared, err := b.Flights.Do(ctx, key, func(fctx context.Context) (any, error) {
		return c.enqueueAndWait(fctx, b, key, rawURL, o)
	})
	if shared {
		trace.SpanFromContext(ctx).SetAttributes(attribute.Bool("shared", true))
	}
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil, &NetworkError{URL: rawURL, Err: err}
		}
		return nil, err
	}
	return v.(*Response), nil
}

func (c *Client) enqueueAndWait(ctx context.Context, b *rate.Bucket, key, rawURL string, o Options) (*Response, error) {
	done := make(chan result, 1)
	it := &rate.Item{Key: key, Ctx: ctx}
	it.Run = func() { c.perform(b, it, rawURL, o, done) }

	b.Enqueue(it, o.Priority)
	c.kick(b)

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, &NetworkError{URL: rawURL, Err: ctx.Err()}
	case <-c.done:
		return nil, ErrClosed
	}
}

// perform is the body of a queued item. A 429 puts the item back at the
// front of the low queue and holds this goroutine through the cooldown
// without settling the caller.
func (c *Client) perform(b *rate.Bucket, it *rate.Item, rawURL string, o Options, done chan<- result) {
	defer c.kick(b)
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorw("attempt panicked", "host", b.Host, "url", rawURL, "panic", r)
			done <- result{err: &NetworkError{URL: rawURL, Err: fmt.Errorf("panic: %v", r)}}
		}
	}()

	resp, err := c.attempt(it.Ctx, b, rawURL, o)
	var d *deferral
	if errors.As(err, &d) {
		b.RequeueFront(it)
		_ = Sleep(it.Ctx, d.wait+cooldownSlack)
		return
	}
	done <- result{resp: resp, err: err}
}

func (c *Client) attempt(ctx context.Context, b *rate.Bucket, rawURL string, o Options) (*Response, error) {
	ctx, span := c.tracer.Start(ctx, "attempt", trace.WithAttributes(
		attribute.String("http.url", rawURL),
		attribute.String("http.method", o.method()),
		attribute.String("host", b.Host),
	))
	defer span.End()

	actx, cancel := context.WithTimeout(ctx, c.softTimeout)
	defer cancel()

	var body io.Reader
	if len(o.Body) > 0 {
		body = bytes.NewReader(o.Body)
	}
	req, err := http.NewRequestWithContext(actx, o.method(), rawURL, body)
	if err != nil {
		return nil, &NetworkError{URL: rawURL, Err: err}
	}
	for k, v := range o.Header {
		req.Header.Set(k, v)
	}
	if o.Edit != nil {
		o.Edit(req)
	}

	start := time.Now()
	res, err := c.hc.Do(req)
	metrics.AttemptDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		err = c.transportError(ctx, actx, rawURL, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome(err))
		return nil, err
	}
	defer res.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", res.StatusCode))

	if res.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, c.maxBody))
		now := c.now()
		wait := retryAfter(res.Header.Get("Retry-After"), now)
		b.Block(now.Add(wait))
		metrics.RateLimited.Inc()
		span.SetAttributes(attribute.Int64("retry_after_ms", wait.Milliseconds()))
		if netDebug.Load() && b.AllowWarn(now) {
			hi, lo := b.Queued()
			c.log.Warnw("rate limited, cooling down host",
				"host", b.Host,
				"retry_after_ms", wait.Milliseconds(),
				"queued_hi", hi,
				"queued_lo", lo,
			)
		}
		return nil, &deferral{wait: wait}
	}

	data, err := io.ReadAll(io.LimitReader(res.Body, c.maxBody+1))
	if err != nil {
		err = c.transportError(ctx, actx, rawURL, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome(err))
		return nil, err
	}
	if int64(len(data)) > c.maxBody {
		err = &NetworkError{URL: rawURL, Err: fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, c.maxBody)}
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome(err))
		return nil, err
	}
	return &Response{
		StatusCode: res.StatusCode,
		Status:     res.Status,
		Header:     res.Header,
		Body:       data,
	}, nil
}

// transportError tells the soft timeout apart from caller cancellation and
// plain transport failures.
func (c *Client) transportError(ctx, actx context.Context, rawURL string, err error) error {
	if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{URL: rawURL, After: c.softTimeout}
	}
	return &NetworkError{URL: rawURL, Err: err}
}

// retryAfter parses a Retry-After value as seconds (fractions allowed) or
// an HTTP date. Missing, invalid and negative values mean 1.1s.
func retryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if math.IsNaN(secs) || math.IsInf(secs, 0) || secs < 0 {
			return defaultRetryAfter
		}
		ms := math.Ceil(secs * 1000)
		if ms > maxRetryAfterMS {
			ms = maxRetryAfterMS
		}
		return time.Duration(ms) * time.Millisecond
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return defaultRetryAfter
}
