package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"fintrack/internal/analytics"
	"fintrack/internal/core"
)

const (
	colorMuted   lipgloss.Color = "#6c7086"
	colorTitle   lipgloss.Color = "#89b4fa"
	colorGood    lipgloss.Color = "#a6e3a1"
	colorWarning lipgloss.Color = "#f9e2af"
	colorOver    lipgloss.Color = "#f38ba8"
)

// printer renders command output. Colors are dropped automatically when
// the writer is not a terminal.
type printer struct {
	out   io.Writer
	r     *lipgloss.Renderer
	title lipgloss.Style
	head  lipgloss.Style
	muted lipgloss.Style
}

func newPrinter(out io.Writer) *printer {
	r := lipgloss.NewRenderer(out)
	return &printer{
		out:   out,
		r:     r,
		title: r.NewStyle().Foreground(colorTitle).Bold(true),
		head:  r.NewStyle().Foreground(colorMuted).Bold(true),
		muted: r.NewStyle().Foreground(colorMuted),
	}
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...)
}

func (p *printer) heading(s string) {
	p.printf("%s\n", p.title.Render(s))
}

// category renders a category name in its registry color.
func (p *printer) category(c core.Category) string {
	return p.r.NewStyle().Foreground(lipgloss.Color(c.Color)).Render(c.Name)
}

func (p *printer) status(s analytics.Status) string {
	color := colorGood
	switch s {
	case analytics.StatusWarning:
		color = colorWarning
	case analytics.StatusOver:
		color = colorOver
	}
	return p.r.NewStyle().Foreground(color).Bold(s != analytics.StatusGood).Render(string(s))
}

// table prints rows in aligned columns. Columns listed in right are
// right-aligned, which suits amounts.
func (p *printer) table(headers []string, rows [][]string, right ...int) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); i < len(widths) && w > widths[i] {
				widths[i] = w
			}
		}
	}
	alignRight := make(map[int]bool, len(right))
	for _, i := range right {
		alignRight[i] = true
	}

	line := func(cells []string, style *lipgloss.Style) string {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			if style != nil {
				cell = style.Render(cell)
			}
			if alignRight[i] {
				parts[i] = padLeft(cell, widths[i])
			} else {
				parts[i] = padRight(cell, widths[i])
			}
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	p.printf("%s\n", line(headers, &p.head))
	if len(rows) == 0 {
		p.printf("%s\n", p.muted.Render("(none)"))
		return
	}
	for _, row := range rows {
		p.printf("%s\n", line(row, nil))
	}
}

// padRight pads s with spaces so its visual width equals width.
func padRight(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}

func padLeft(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return strings.Repeat(" ", width-w) + s
	}
	return s
}
