// Package report renders search results for people and tools.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/DrSkyle/grandiso/pkg/backbone"
)

// Format selects the output encoding.
type Format string

const (
	// FormatCSV writes a header of motif node ids and one row per mapping.
	FormatCSV Format = "csv"
	// FormatJSON writes one indented array of motif-to-host objects.
	FormatJSON Format = "json"
	// FormatRaw writes one compact JSON object per line.
	FormatRaw Format = "raw"
	// FormatTable draws a bordered table for terminals.
	FormatTable Format = "table"
)

// Formats lists the accepted names, for flag help.
var Formats = []Format{FormatCSV, FormatJSON, FormatRaw, FormatTable}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if strings.EqualFold(s, string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown format %q (want one of %v)", s, Formats)
}

// Columns returns the motif node ids seen across rs, sorted. Callers that
// know the motif should pass its declaration order instead.
func Columns(rs []backbone.Result) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, r := range rs {
		for m := range r.Mapping {
			if !seen[m] {
				seen[m] = true
				cols = append(cols, m)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

// Write renders rs to w. A nil columns list is derived from the results.
func Write(w io.Writer, f Format, columns []string, rs []backbone.Result) error {
	if columns == nil {
		columns = Columns(rs)
	}
	switch f {
	case FormatCSV:
		return writeCSV(w, columns, rs)
	case FormatJSON:
		return writeJSON(w, rs)
	case FormatRaw:
		return writeRaw(w, rs)
	case FormatTable:
		return writeTable(w, columns, rs)
	default:
		return fmt.Errorf("unknown format %q", f)
	}
}

// WriteFile renders rs into a new file at path.
func WriteFile(path string, f Format, columns []string, rs []backbone.Result) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(out, f, columns, rs); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func writeCSV(w io.Writer, columns []string, rs []backbone.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return err
	}
	for _, r := range rs {
		if err := cw.Write(row(columns, r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeJSON(w io.Writer, rs []backbone.Result) error {
	items := make([]map[string]string, 0, len(rs))
	for _, r := range rs {
		items = append(items, r.Mapping)
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

func writeRaw(w io.Writer, rs []backbone.Result) error {
	enc := json.NewEncoder(w)
	for _, r := range rs {
		if err := enc.Encode(r.Mapping); err != nil {
			return err
		}
	}
	return nil
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func writeTable(w io.Writer, columns []string, rs []backbone.Result) error {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(columns...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, r := range rs {
		t.Row(row(columns, r)...)
	}
	_, err := fmt.Fprintf(w, "%s\n%d matches\n", t.Render(), len(rs))
	return err
}

func row(columns []string, r backbone.Result) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = r.Mapping[c]
	}
	return out
}
