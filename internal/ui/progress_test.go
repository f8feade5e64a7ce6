package ui

import (
	"bytes"
	"strings"
	"testing"
)

func TestProgress_Line(t *testing.T) {
	p := NewProgress(&bytes.Buffer{}, 4, true)
	p.Record(false)
	p.Record(true)
	p.SetCooling(1)

	line := p.Line()
	for _, want := range []string{"2/4", "1 failed", "1 hosts cooling down"} {
		if !strings.Contains(line, want) {
			t.Errorf("expected %q in %q", want, line)
		}
	}
}

func TestProgress_UnknownTotal(t *testing.T) {
	p := NewProgress(&bytes.Buffer{}, 0, true)
	p.Record(false)
	if line := p.Line(); !strings.HasPrefix(line, "1 fetched") {
		t.Errorf("unexpected line: %q", line)
	}
}

func TestProgress_NonTerminalIsSilent(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, 2, true)
	p.Record(false)
	p.Render()
	summary := p.Finish()

	if buf.Len() != 0 {
		t.Errorf("expected no output for a non-terminal writer, got %q", buf.String())
	}
	if !strings.HasPrefix(summary, "1 fetched in") {
		t.Errorf("unexpected summary: %q", summary)
	}
}
