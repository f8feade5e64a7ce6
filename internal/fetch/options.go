package fetch

import (
	"net/http"
	"strings"
	"time"

	"github.com/gustycube/hostfetch/internal/rate"
)

type Priority = rate.Priority

const (
	PriorityHigh = rate.PriorityHigh
	PriorityLow  = rate.PriorityLow
)

// ParseMode forces how a successful body is decoded. The zero value sniffs
// the Content-Type header.
type ParseMode string

const (
	ParseAuto ParseMode = ""
	ParseJSON ParseMode = "json"
	ParseText ParseMode = "text"
)

const (
	// DefaultRetries is the retry budget callers normally pass to Fetch.
	DefaultRetries = 2
	// DefaultTTL is how long successful GET results are cached.
	DefaultTTL = 30 * time.Second
	// NoCache disables caching for a single call.
	NoCache time.Duration = -1
)

// Options tunes a single Fetch call. The zero value is a high-priority GET
// cached for the client's default TTL.
type Options struct {
	Priority Priority
	// TTL overrides the cache lifetime. Zero selects the default for GET;
	// non-GET requests are never cached.
	TTL       time.Duration
	DedupeKey string
	Parse     ParseMode
	Header    map[string]string
	Method    string
	Body      []byte
	// Edit runs on every outgoing request after headers are applied, for
	// transport settings Options does not cover.
	Edit func(*http.Request)
}

func (o Options) method() string {
	if o.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(o.Method)
}

func (o Options) cacheTTL(isGet bool, def time.Duration) time.Duration {
	switch {
	case o.TTL < 0:
		return 0
	case o.TTL > 0:
		return o.TTL
	case isGet:
		return def
	default:
		return 0
	}
}
