package httpclient

import (
	"crypto/tls"
	"net/http"
	"time"
)

// Default returns the client every fetch attempt runs on. It carries no
// cookie jar, so credentials are never attached, and its own timeout is a
// backstop above the executor's soft timeout.
func Default() *http.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		DisableCompression:    false,
		MaxIdleConns:          256,
		MaxConnsPerHost:       32,
		MaxIdleConnsPerHost:   16,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 12 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: tr,
		Timeout:   30 * time.Second,
	}
}

// WithUserAgent returns a copy of c whose requests carry ua unless the
// caller already set a User-Agent header.
func WithUserAgent(c *http.Client, ua string) *http.Client {
	if c == nil {
		c = Default()
	}
	if ua == "" {
		return c
	}
	next := c.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	cloned := *c
	cloned.Transport = &uaTransport{ua: ua, next: next}
	return &cloned
}

type uaTransport struct {
	ua   string
	next http.RoundTripper
}

func (t *uaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.next.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.ua)
	return t.next.RoundTrip(r)
}
