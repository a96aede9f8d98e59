package printer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Printer writes command results either as indented JSON or as coloured
// human output. Colour is on only when out is a terminal and NO_COLOR is
// unset.
type Printer struct {
	out    io.Writer
	errOut io.Writer
	json   bool

	green  *color.Color
	yellow *color.Color
	red    *color.Color
	cyan   *color.Color
	dim    *color.Color
}

func New(out, errOut io.Writer, jsonMode bool) *Printer {
	p := &Printer{
		out:    out,
		errOut: errOut,
		json:   jsonMode,
		green:  color.New(color.FgGreen),
		yellow: color.New(color.FgYellow),
		red:    color.New(color.FgRed, color.Bold),
		cyan:   color.New(color.FgCyan),
		dim:    color.New(color.Faint),
	}
	enabled := colorEnabled(out)
	for _, c := range []*color.Color{p.green, p.yellow, p.red, p.cyan, p.dim} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func colorEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *Printer) JSONMode() bool { return p.json }

func (p *Printer) Out() io.Writer { return p.out }

// JSON writes v as indented JSON followed by a newline.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Result prints v as JSON in JSON mode and calls human otherwise.
func (p *Printer) Result(v any, human func()) error {
	if p.json {
		return p.JSON(v)
	}
	human()
	return nil
}

// Success prints a green line with a checkmark prefix.
func (p *Printer) Success(format string, a ...any) {
	msg := strings.TrimSuffix(fmt.Sprintf(format, a...), "\n")
	p.green.Fprintf(p.out, "✓ %s\n", msg)
}

// Warning goes to the error stream so it never corrupts piped output.
func (p *Printer) Warning(format string, a ...any) {
	msg := strings.TrimSuffix(fmt.Sprintf(format, a...), "\n")
	p.yellow.Fprintf(p.errOut, "! %s\n", msg)
}

func (p *Printer) Info(format string, a ...any) {
	fmt.Fprintf(p.out, format, a...)
}

func (p *Printer) Step(format string, a ...any) {
	msg := strings.TrimSuffix(fmt.Sprintf(format, a...), "\n")
	p.cyan.Fprintf(p.out, "→ %s\n", msg)
}

func (p *Printer) Dim(s string) string {
	return p.dim.Sprint(s)
}

// Error prints a titled error with an explanation and suggestions to the
// error stream. In JSON mode it writes {"error": ..., "kind": ...} to out
// instead so scripted callers get one parseable document.
func (p *Printer) Error(kind, title, explanation string, suggestions []string) {
	if p.json {
		doc := map[string]any{"error": title, "kind": kind}
		if explanation != "" {
			doc["detail"] = explanation
		}
		_ = p.JSON(doc)
		return
	}
	p.red.Fprintf(p.errOut, "Error: %s\n", title)
	if explanation != "" {
		fmt.Fprintf(p.errOut, "%s\n", explanation)
	}
	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(p.errOut, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(p.errOut, "\nEither:\n")
		for i, s := range suggestions {
			fmt.Fprintf(p.errOut, "  %d. %s\n", i+1, s)
		}
	}
}

// Status colours a task, stream or PRD status word.
func (p *Printer) Status(s string) string {
	switch s {
	case "completed":
		return p.green.Sprint(s)
	case "in_progress", "active":
		return p.cyan.Sprint(s)
	case "blocked", "paused":
		return p.yellow.Sprint(s)
	case "cancelled", "archived":
		return p.dim.Sprint(s)
	}
	return s
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

// Table renders rows under headers with a rounded border.
func (p *Printer) Table(headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Fprintln(p.out, p.Dim("(none)"))
		return
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	fmt.Fprintln(p.out, t.String())
}

// Fields prints aligned "key: value" lines, skipping empty values.
func (p *Printer) Fields(pairs ...[2]string) {
	width := 0
	for _, kv := range pairs {
		if kv[1] != "" && len(kv[0]) > width {
			width = len(kv[0])
		}
	}
	for _, kv := range pairs {
		if kv[1] == "" {
			continue
		}
		fmt.Fprintf(p.out, "%-*s  %s\n", width+1, kv[0]+":", kv[1])
	}
}
