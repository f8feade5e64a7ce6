package output

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

func TestNewWriter(t *testing.T) {
	for _, f := range []string{"json", "JSONL", "ndjson", "csv"} {
		if _, err := NewWriter(f, &bytes.Buffer{}); err != nil {
			t.Errorf("format %s: %v", f, err)
		}
	}
	if _, err := NewWriter("xml", &bytes.Buffer{}); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestWriter_JSONL(t *testing.T) {
	var buf bytes.Buffer
	w, _ := NewWriter("jsonl", &buf)

	w.Write(Result{URL: "https://a.test/x", Status: 200, Data: map[string]any{"a": 1.0}, ElapsedMS: 12})
	w.Write(Result{URL: "https://a.test/y", Status: 404, Error: "HTTP 404: nope"})
	w.Flush()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var r Result
	if err := json.Unmarshal([]byte(lines[1]), &r); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r.Status != 404 || r.Error != "HTTP 404: nope" {
		t.Errorf("unexpected record: %+v", r)
	}
}

func TestWriter_JSONArray(t *testing.T) {
	var buf bytes.Buffer
	w, _ := NewWriter("json", &buf)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Write(Result{URL: "https://a.test/", Status: 200})
		}()
	}
	wg.Wait()

	if buf.Len() != 0 {
		t.Error("expected JSON output to wait for Flush")
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	var results []Result
	if err := json.Unmarshal(buf.Bytes(), &results); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(results) != 10 {
		t.Errorf("expected 10 results, got %d", len(results))
	}
}

func TestWriter_JSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	w, _ := NewWriter("json", &buf)
	w.Flush()
	if got := strings.TrimSpace(buf.String()); got != "[]" {
		t.Errorf("expected empty array, got %q", got)
	}
}

func TestWriter_CSV(t *testing.T) {
	var buf bytes.Buffer
	w, _ := NewWriter("csv", &buf)

	w.Write(Result{URL: "https://a.test/", Status: 200, Data: map[string]any{"a": 1.0}, ElapsedMS: 5})
	w.Write(Result{URL: "https://b.test/", Error: "Network error: refused"})
	w.Flush()

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header and 2 rows, got %d", len(records))
	}
	if records[0][0] != "url" {
		t.Errorf("unexpected header: %v", records[0])
	}
	if records[1][4] != `{"a":1}` {
		t.Errorf("expected JSON data cell, got %q", records[1][4])
	}
	if records[2][1] != "" || records[2][2] != "Network error: refused" {
		t.Errorf("unexpected error row: %v", records[2])
	}
}
