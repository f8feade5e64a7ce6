package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Format represents the output format
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatCSV   Format = "csv"
)

// Result is the outcome of fetching one URL.
type Result struct {
	URL       string `json:"url"`
	Status    int    `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
	Data      any    `json:"data,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// Writer handles formatted output. JSON output is collected and written as
// one array on Flush; JSONL and CSV stream.
type Writer struct {
	format    Format
	w         io.Writer
	csvWriter *csv.Writer
	mu        sync.Mutex
	hasHeader bool
	pending   []Result
}

// NewWriter creates a new output writer
func NewWriter(format string, w io.Writer) (*Writer, error) {
	var f Format
	switch strings.ToLower(format) {
	case "json":
		f = FormatJSON
	case "jsonl", "ndjson":
		f = FormatJSONL
	case "csv":
		f = FormatCSV
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}

	writer := &Writer{
		format: f,
		w:      w,
	}

	if f == FormatCSV {
		writer.csvWriter = csv.NewWriter(w)
	}

	return writer, nil
}

// NewStdoutWriter creates a writer for stdout
func NewStdoutWriter(format string) (*Writer, error) {
	return NewWriter(format, os.Stdout)
}

// Write records r in the configured format. It is safe for concurrent use.
func (w *Writer) Write(r Result) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.format {
	case FormatJSON:
		w.pending = append(w.pending, r)
		return nil

	case FormatJSONL:
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		_, err = w.w.Write(append(data, '\n'))
		return err

	case FormatCSV:
		return w.writeCSV(r)

	default:
		return fmt.Errorf("unsupported format: %s", w.format)
	}
}

func (w *Writer) writeCSV(r Result) error {
	if !w.hasHeader {
		w.csvWriter.Write([]string{"url", "status", "error", "elapsed_ms", "data"})
		w.hasHeader = true
	}

	status := ""
	if r.Status != 0 {
		status = strconv.Itoa(r.Status)
	}
	w.csvWriter.Write([]string{
		r.URL,
		status,
		r.Error,
		strconv.FormatInt(r.ElapsedMS, 10),
		cell(r.Data),
	})
	return w.csvWriter.Error()
}

// cell renders decoded data for a single CSV field
func cell(v any) string {
	switch d := v.(type) {
	case nil:
		return ""
	case string:
		return d
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return fmt.Sprintf("%v", d)
		}
		return string(b)
	}
}

// Flush flushes any buffered data
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case w.format == FormatJSON:
		results := w.pending
		if results == nil {
			results = []Result{}
		}
		w.pending = nil
		encoder := json.NewEncoder(w.w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(results)
	case w.csvWriter != nil:
		w.csvWriter.Flush()
		return w.csvWriter.Error()
	}
	return nil
}
