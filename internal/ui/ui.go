// Package ui renders command output for a terminal.
package ui

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/nsma/nsma/internal/audit"
	"github.com/nsma/nsma/internal/project"
	"github.com/nsma/nsma/internal/sync"
)

var (
	accent = lipgloss.Color("#7C3AED")
	green  = lipgloss.Color("#10B981")
	amber  = lipgloss.Color("#F59E0B")
	red    = lipgloss.Color("#EF4444")
	gray   = lipgloss.Color("#6B7280")
)

// Styles is the set of styles bound to one output renderer.
type Styles struct {
	Title lipgloss.Style
	Bold  lipgloss.Style
	OK    lipgloss.Style
	Warn  lipgloss.Style
	Err   lipgloss.Style
	Muted lipgloss.Style
}

// Printer writes styled output to w.
type Printer struct {
	w      io.Writer
	styles Styles
}

// NewPrinter returns a Printer for w. Colour is used only when w is a
// terminal and NO_COLOR is unset.
func NewPrinter(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	if !IsTerminal(w) || os.Getenv("NO_COLOR") != "" {
		r.SetColorProfile(termenv.Ascii)
	}
	return &Printer{w: w, styles: newStyles(r)}
}

func newStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		Title: r.NewStyle().Bold(true).Foreground(accent),
		Bold:  r.NewStyle().Bold(true),
		OK:    r.NewStyle().Foreground(green),
		Warn:  r.NewStyle().Foreground(amber),
		Err:   r.NewStyle().Foreground(red).Bold(true),
		Muted: r.NewStyle().Foreground(gray),
	}
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Styles returns the printer's styles.
func (p *Printer) Styles() Styles { return p.styles }

// Println writes a plain line.
func (p *Printer) Println(a ...any) {
	fmt.Fprintln(p.w, a...)
}

// Errorf writes an error line.
func (p *Printer) Errorf(format string, a ...any) {
	fmt.Fprintln(p.w, p.styles.Err.Render("Error: ")+fmt.Sprintf(format, a...))
}

// Result writes a sync run summary.
func (p *Printer) Result(title string, r *sync.Result) {
	s := p.styles
	var b strings.Builder
	b.WriteString(s.Title.Render(title) + "\n")
	if r == nil {
		b.WriteString(s.Muted.Render("  nothing to report") + "\n")
		fmt.Fprint(p.w, b.String())
		return
	}

	b.WriteString(fmt.Sprintf("  %s  %s  %s\n",
		s.OK.Render(fmt.Sprintf("%d updated", r.Updated)),
		countStyle(s, r.Failed, s.Err).Render(fmt.Sprintf("%d failed", r.Failed)),
		s.Muted.Render(fmt.Sprintf("%d skipped", r.Skipped))))

	if len(r.Routed) > 0 {
		b.WriteString(s.Bold.Render("  Routed to inbox:") + "\n")
		for _, rt := range r.Routed {
			b.WriteString(fmt.Sprintf("    %s %s\n", rt.Title, s.Muted.Render("("+rt.Reason+")")))
		}
	}
	if len(r.Errors) > 0 {
		b.WriteString(s.Bold.Render("  Problems:") + "\n")
		for _, e := range r.Errors {
			b.WriteString(fmt.Sprintf("    %s %s\n", s.Warn.Render(e.Item), e.Cause))
		}
	}
	fmt.Fprint(p.w, b.String())
}

func countStyle(s Styles, n int, hot lipgloss.Style) lipgloss.Style {
	if n == 0 {
		return s.Muted
	}
	return hot
}

// Projects writes the project table.
func (p *Printer) Projects(projects []*project.Project) {
	t := &table{headers: []string{"PROJECT", "ACTIVE", "PHASES", "MODULES", "PENDING", "PROCESSED", "ARCHIVED", "DEFERRED", "IMPORTED"}}
	for _, pr := range projects {
		imported := "never"
		if !pr.LastImportedAt.IsZero() {
			imported = pr.LastImportedAt.Local().Format(time.DateTime)
		}
		t.rows = append(t.rows, []string{
			pr.Slug,
			yesNo(pr.Active),
			strconv.Itoa(len(pr.Phases)),
			strconv.Itoa(len(pr.Modules)),
			strconv.Itoa(pr.Stats.Pending),
			strconv.Itoa(pr.Stats.Processed),
			strconv.Itoa(pr.Stats.Archived),
			strconv.Itoa(pr.Stats.Deferred),
			imported,
		})
	}
	fmt.Fprint(p.w, t.render(p.styles, "Projects"))
}

// Audit writes recent audit entries.
func (p *Printer) Audit(entries []audit.Entry) {
	t := &table{headers: []string{"TIME", "OPERATION", "PROJECT", "MESSAGE"}}
	for _, e := range entries {
		t.rows = append(t.rows, []string{
			e.Time.Local().Format(time.DateTime),
			e.Operation,
			e.ProjectID,
			e.Message,
		})
	}
	fmt.Fprint(p.w, t.render(p.styles, "Recent activity"))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// table is a static, left-aligned table.
type table struct {
	headers []string
	rows    [][]string
}

func (t *table) render(s Styles, title string) string {
	var b strings.Builder
	b.WriteString(s.Title.Render(title) + "\n")
	if len(t.rows) == 0 {
		b.WriteString(s.Muted.Render("  (none)") + "\n")
		return b.String()
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}

	line := func(cells []string, style lipgloss.Style) {
		b.WriteString(" ")
		for i, cell := range cells {
			if i >= len(widths) {
				break
			}
			pad := strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
			b.WriteString(" " + style.Render(cell) + pad)
			if i < len(cells)-1 {
				b.WriteString(" ")
			}
		}
		b.WriteString("\n")
	}
	line(t.headers, s.Bold)
	for _, row := range t.rows {
		line(row, lipgloss.NewStyle())
	}
	return b.String()
}
