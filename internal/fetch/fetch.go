package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gustycube/hostfetch/internal/dedup"
	"github.com/gustycube/hostfetch/internal/metrics"
)

const (
	backoffStep  = 300 * time.Millisecond
	httpPenalty  = 350 * time.Millisecond
	snippetRunes = 180
)

// Fetch retrieves rawURL through the host's rate limiter and returns the
// decoded body: map/slice/scalar values for JSON, string for text. At most
// retries+1 attempts are made. 429 responses are absorbed by the host
// cooldown and do not count as attempts. The cache holds raw bodies, so every
// call, hit or not, gets its own decoded value.
func (c *Client) Fetch(ctx context.Context, rawURL string, retries int, o Options) (any, error) {
	if c.closed() {
		return nil, ErrClosed
	}
	if retries < 0 {
		retries = 0
	}
	isGet := o.method() == http.MethodGet
	ttl := o.cacheTTL(isGet, c.defaultTTL)
	useCache := isGet && ttl > 0
	key := dedup.Key(rawURL, o.DedupeKey)

	ctx, span := c.tracer.Start(ctx, "Fetch", trace.WithAttributes(
		attribute.String("http.url", rawURL),
		attribute.String("http.method", o.method()),
		attribute.Int("retries", retries),
	))
	defer span.End()

	if useCache {
		if hit, ok := c.cache.Get(key); ok {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			span.SetAttributes(attribute.Bool("cache_hit", true))
			v, err := decode(rawURL, hit.(*Response), o.Parse)
			metrics.Requests.WithLabelValues(outcome(err)).Inc()
			return v, err
		}
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	v, resp, err := c.retry(ctx, rawURL, retries, o)
	metrics.Requests.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome(err))
		return nil, err
	}
	if useCache {
		c.cache.Set(key, resp, ttl)
	}
	return v, nil
}

// retry returns the decoded value together with the response it came from.
func (c *Client) retry(ctx context.Context, rawURL string, retries int, o Options) (any, *Response, error) {
	policy := &linearBackOff{jitter: c.jitter}
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(retries)), ctx)

	var last *Response
	op := func() (any, error) {
		v, resp, err := c.once(ctx, rawURL, o)
		if err == nil {
			last = resp
			return v, nil
		}
		policy.last = err
		if ctx.Err() != nil || errors.Is(err, ErrClosed) || errors.Is(err, ErrBodyTooLarge) {
			return nil, backoff.Permanent(err)
		}
		var herr *HTTPStatusError
		if errors.As(err, &herr) && herr.StatusCode < 500 {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	notify := func(err error, d time.Duration) {
		metrics.Retries.Inc()
		if netDebug.Load() {
			c.log.Debugw("retrying", "url", rawURL, "err", err, "backoff", d)
		}
	}

	var timer backoff.Timer
	if c.newTimer != nil {
		timer = c.newTimer()
	}
	v, err := backoff.RetryNotifyWithTimerAndData(op, b, notify, timer)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// Cancelled during a backoff wait; the library hands back ctx.Err() bare.
		var nerr *NetworkError
		if !errors.As(err, &nerr) {
			err = &NetworkError{URL: rawURL, Err: err}
		}
	}
	if err != nil {
		return nil, nil, err
	}
	return v, last, nil
}

// once performs a single counted attempt and decodes its result.
func (c *Client) once(ctx context.Context, rawURL string, o Options) (any, *Response, error) {
	resp, err := c.execute(ctx, rawURL, o)
	if err != nil {
		return nil, nil, err
	}
	if !resp.OK() {
		return nil, nil, &HTTPStatusError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Body:       snippet(resp.Body),
		}
	}
	v, err := decode(rawURL, resp, o.Parse)
	if err != nil {
		return nil, nil, err
	}
	return v, resp, nil
}

func decode(rawURL string, resp *Response, mode ParseMode) (any, error) {
	asJSON := mode == ParseJSON
	if mode == ParseAuto {
		asJSON = strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "application/json")
	}
	if !asJSON {
		return string(resp.Body), nil
	}
	if len(strings.TrimSpace(string(resp.Body))) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(resp.Body, &v); err != nil {
		return nil, &DecodeError{URL: rawURL, Err: err}
	}
	return v, nil
}

func snippet(body []byte) string {
	if utf8.RuneCount(body) <= snippetRunes {
		return string(body)
	}
	return string([]rune(string(body))[:snippetRunes])
}

// linearBackOff waits 300ms per failed attempt, 350ms more after an HTTP
// status error, plus jitter.
type linearBackOff struct {
	attempt int
	last    error
	jitter  func() time.Duration
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.attempt++
	d := time.Duration(l.attempt) * backoffStep
	var herr *HTTPStatusError
	if errors.As(l.last, &herr) {
		d += httpPenalty
	}
	if l.jitter != nil {
		d += l.jitter()
	}
	return d
}

func (l *linearBackOff) Reset() {
	l.attempt = 0
	l.last = nil
}
