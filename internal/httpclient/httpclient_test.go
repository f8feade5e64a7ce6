package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDefault(t *testing.T) {
	c := Default()
	if c.Jar != nil {
		t.Error("expected no cookie jar")
	}
	if c.Timeout == 0 {
		t.Error("expected a backstop timeout")
	}
}

func TestWithUserAgent(t *testing.T) {
	agents := make(chan string, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents <- r.Header.Get("User-Agent")
	}))
	defer server.Close()

	c := WithUserAgent(&http.Client{}, "hostfetch-test/1.0")

	resp, err := c.Get(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := <-agents; got != "hostfetch-test/1.0" {
		t.Errorf("expected default user agent, got %q", got)
	}

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	req.Header.Set("User-Agent", "caller/2.0")
	resp, err = c.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := <-agents; got != "caller/2.0" {
		t.Errorf("expected caller user agent to win, got %q", got)
	}
}

func TestWithUserAgent_Empty(t *testing.T) {
	base := &http.Client{}
	if c := WithUserAgent(base, ""); c != base {
		t.Error("expected the same client when no user agent is given")
	}
}
