package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

type runs [][2]string

func (r runs) Header() []string { return []string{"RUN", "BEST"} }
func (r runs) Rows() [][]string {
	out := make([][]string, len(r))
	for i, row := range r {
		out[i] = []string{row[0], row[1]}
	}
	return out
}

func TestOutput_JSON(t *testing.T) {
	var buf bytes.Buffer
	data := map[string]any{"name": "test", "value": 123}
	if err := Output(&buf, data, FormatJSON); err != nil {
		t.Fatalf("Output error: %v", err)
	}
	var result map[string]any
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("Invalid JSON output: %v", err)
	}
	if result["name"] != "test" {
		t.Errorf("name = %v, want %q", result["name"], "test")
	}
}

func TestOutput_DefaultFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := Output(&buf, map[string]string{"key": "value"}, ""); err != nil {
		t.Fatalf("Output error: %v", err)
	}
	if !strings.Contains(buf.String(), "key: value") {
		t.Errorf("Default format should be YAML, got: %s", buf.String())
	}
}

func TestOutput_Table(t *testing.T) {
	var buf bytes.Buffer
	if err := Output(&buf, runs{{"a", "0.5"}, {"long-run-id", "0.75"}}, FormatTable); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %q", lines)
	}
	if strings.Index(lines[0], "BEST") != strings.Index(lines[2], "0.75") {
		t.Errorf("columns not aligned:\n%s", buf.String())
	}
}

func TestOutput_TableNotTabular(t *testing.T) {
	if err := Output(&bytes.Buffer{}, 42, FormatTable); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]OutputFormat{"": FormatYAML, "JSON": FormatJSON, "table": FormatTable} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	p.Info("Finish loading data!")
	p.Warn("careful")
	out := buf.String()
	if !strings.Contains(out, "[Info]:") || !strings.Contains(out, "Finish loading data!") {
		t.Errorf("info line missing: %q", out)
	}
	if !strings.Contains(out, "careful") {
		t.Errorf("warn line missing: %q", out)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{500 * time.Millisecond, "500ms"},
		{1500 * time.Millisecond, "1.5s"},
		{90 * time.Second, "1m30.0s"},
		{2*time.Hour + 5*time.Minute, "2h5m"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
