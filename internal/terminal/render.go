package terminal

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/pitabwire/operations/model"
)

// Renderer prints results that were not handled as a direct effect: text
// content and result pages.
type Renderer struct {
	out    io.Writer
	title  lipgloss.Style
	header lipgloss.Style
	muted  lipgloss.Style
}

// NewRenderer creates a Renderer writing to out.
func NewRenderer(out io.Writer, color bool) *Renderer {
	r := &Renderer{
		out:    out,
		title:  lipgloss.NewStyle(),
		header: lipgloss.NewStyle().Padding(0, 1),
		muted:  lipgloss.NewStyle(),
	}
	if color {
		r.title = r.title.Bold(true).Underline(true)
		r.header = r.header.Bold(true).Foreground(colorBlue)
		r.muted = r.muted.Foreground(colorGray)
	}
	return r
}

// Render prints res.
func (r *Renderer) Render(res *model.RunOperationResult) {
	if res == nil {
		return
	}
	if res.Title != "" {
		fmt.Fprintln(r.out, r.title.Render(res.Title))
	}

	switch res.ResultType {
	case model.ResultPage:
		r.page(res)
	default:
		if res.Content != "" {
			fmt.Fprintln(r.out, res.Content)
		} else if res.Notification != "" {
			fmt.Fprintln(r.out, res.Notification)
		}
	}

	if len(res.Actions) > 0 {
		names := make([]string, 0, len(res.Actions))
		for _, a := range res.Actions {
			names = append(names, a.Action.Key())
		}
		fmt.Fprintln(r.out, r.muted.Render("actions: "+strings.Join(names, ", ")))
	}
}

func (r *Renderer) page(res *model.RunOperationResult) {
	columns := res.Columns
	if len(columns) == 0 {
		columns = rowKeys(res.Rows)
	}
	if len(res.Rows) == 0 {
		fmt.Fprintln(r.out, r.muted.Render("no results"))
		return
	}

	rows := make([][]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		cells := make([]string, len(columns))
		for i, c := range columns {
			if v, ok := row[c]; ok && v != nil {
				cells[i] = fmt.Sprint(v)
			}
		}
		rows = append(rows, cells)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(columns...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return r.header
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	fmt.Fprintln(r.out, t.String())

	if p := res.Page; p != nil {
		line := fmt.Sprintf("page %d, %d of %d", p.Page, len(res.Rows), p.TotalCount)
		if p.HasNextPage {
			line += ", more available"
		}
		fmt.Fprintln(r.out, r.muted.Render(line))
	}
}

// rowKeys collects the keys of all rows in sorted order.
func rowKeys(rows []map[string]any) []string {
	seen := map[string]bool{}
	var keys []string
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}
