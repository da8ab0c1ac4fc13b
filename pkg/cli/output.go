// Package cli holds terminal output helpers shared by spkid commands:
// structured output in YAML, JSON, or aligned tables, and colored status
// lines.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-yaml"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	// FormatYAML outputs as YAML (default)
	FormatYAML OutputFormat = "yaml"
	// FormatJSON outputs as JSON
	FormatJSON OutputFormat = "json"
	// FormatTable outputs rows from a Tabular value
	FormatTable OutputFormat = "table"
)

// ParseFormat validates a --format flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case FormatYAML, FormatJSON, FormatTable:
		return f, nil
	case "":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", s)
	}
}

// Tabular is implemented by results that can render as a table.
type Tabular interface {
	Header() []string
	Rows() [][]string
}

// Output writes result to w in the given format. FormatTable requires
// result to implement Tabular.
func Output(w io.Writer, result any, format OutputFormat) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case FormatYAML, "":
		data, err := yaml.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		_, err = w.Write(data)
		return err
	case FormatTable:
		t, ok := result.(Tabular)
		if !ok {
			return fmt.Errorf("%T cannot be shown as a table", result)
		}
		return Table(w, t.Header(), t.Rows())
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// Table writes rows under header as tab-aligned columns.
func Table(w io.Writer, header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}
