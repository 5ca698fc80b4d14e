package render

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
)

// TextTable prints each replaced row set as an aligned text table.
// Highlighted rows are marked with a leading '*'.
type TextTable struct {
	mu  sync.Mutex
	out io.Writer
}

// NewTextTable writes tables to out.
func NewTextTable(out io.Writer) *TextTable {
	return &TextTable{out: out}
}

// Replace prints rows below a header line.
func (t *TextTable) Replace(rows []Row) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tw := tabwriter.NewWriter(t.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, " \t%s\n", strings.Join(Columns, "\t"))
	for _, row := range rows {
		mark := " "
		if row.Highlight {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\n", mark, strings.Join(row.Cells(), "\t"))
	}
	_ = tw.Flush()
}
