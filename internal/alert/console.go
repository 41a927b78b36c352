package alert

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"
)

// Console prints alerts, attachments as tables.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

func (c *Console) Notify(_ context.Context, a Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "\n[%s] %s: %s\n", time.Now().Format("15:04:05"), a.Level, a.Title)
	if a.Text != "" {
		fmt.Fprintln(c.out, a.Text)
	}
	for _, att := range a.Attachments {
		fmt.Fprintf(c.out, "  %s\n", att.Name)
		RenderTable(c.out, att.Header, att.Rows)
	}
	return nil
}

// RenderTable writes rows as a table. Shared by the commands' reports.
func RenderTable(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	if len(header) > 0 {
		h := make([]any, len(header))
		for i, v := range header {
			h[i] = v
		}
		table.Header(h...)
	}
	for _, r := range rows {
		cells := make([]any, len(r))
		for i, v := range r {
			cells[i] = v
		}
		table.Append(cells...)
	}
	table.Render()
}
