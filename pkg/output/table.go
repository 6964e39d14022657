// pkg/output/table.go

package output

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// TableWriter collects rows and prints them in aligned columns.
type TableWriter struct {
	writer  *tabwriter.Writer
	headers []string
	rows    [][]string
}

func NewTableTo(w io.Writer) *TableWriter {
	return &TableWriter{writer: tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)}
}

func (t *TableWriter) WithHeaders(headers ...string) *TableWriter {
	t.headers = headers
	return t
}

func (t *TableWriter) AddRow(values ...string) *TableWriter {
	t.rows = append(t.rows, values)
	return t
}

// Render writes the headers, if any, then every row.
func (t *TableWriter) Render() error {
	if len(t.headers) > 0 {
		fmt.Fprintln(t.writer, strings.Join(t.headers, "\t"))
	}
	for _, row := range t.rows {
		fmt.Fprintln(t.writer, strings.Join(row, "\t"))
	}
	return t.writer.Flush()
}
