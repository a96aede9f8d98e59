package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/basket/taskcopilot/internal/persistence"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))

	statusStyles = map[persistence.TaskStatus]lipgloss.Style{
		persistence.TaskStatusPending:    lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		persistence.TaskStatusInProgress: lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		persistence.TaskStatusCompleted:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		persistence.TaskStatusBlocked:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		persistence.TaskStatusCancelled:  lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	}
)

func (m model) View() string {
	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(errStyle.Render("refresh failed: "+humanError(m.err)) + "\n")
	}
	if m.snap == nil {
		if m.loading {
			b.WriteString(dimStyle.Render("loading…") + "\n")
		}
		b.WriteString(m.footer())
		return b.String()
	}

	b.WriteString(m.overall() + "\n")
	b.WriteString(panelStyle.Render(m.streamsPanel()) + "\n")
	b.WriteString(panelStyle.Render(m.agentsPanel()) + "\n")
	b.WriteString(panelStyle.Render(m.statusPanel()) + "\n")
	if !m.opts.Compact {
		b.WriteString(panelStyle.Render(m.activityPanel()) + "\n")
	}
	b.WriteString(m.footer())
	return b.String()
}

func (m model) header() string {
	title := "tc watch"
	if m.opts.Title != "" {
		title += " · " + m.opts.Title
	}
	line := titleStyle.Render(title)
	if m.snap != nil {
		line += dimStyle.Render("  updated " + m.snap.FetchedAt.Format("15:04:05"))
	}
	return line
}

func (m model) footer() string {
	if m.static {
		return ""
	}
	return dimStyle.Render(fmt.Sprintf("refresh every %s · r refresh · q quit", m.opts.Refresh))
}

func (m model) overall() string {
	t := m.snap.Totals
	return fmt.Sprintf("%s %3.0f%%  %d/%d completed",
		m.bar.ViewAs(t.Percent()), t.Percent()*100, t.Completed, t.Total())
}

func (m model) streamsPanel() string {
	var b strings.Builder
	b.WriteString(headingStyle.Render("Streams") + "\n")
	if len(m.snap.Streams) == 0 {
		b.WriteString(dimStyle.Render("no active streams"))
		return b.String()
	}
	nameWidth := 0
	for _, sp := range m.snap.Streams {
		nameWidth = max(nameWidth, len([]rune(sp.StreamName)))
	}
	nameWidth = min(nameWidth, 20)
	for i, sp := range m.snap.Streams {
		if i > 0 {
			b.WriteString("\n")
		}
		c := sp.Counts
		fmt.Fprintf(&b, "%-*s %s %3.0f%%  %d/%d",
			nameWidth, truncate(sp.StreamName, nameWidth),
			m.bar.ViewAs(c.Percent()), c.Percent()*100, c.Completed, c.Total())
		if c.InProgress > 0 {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  %d active", c.InProgress)))
		}
	}
	return b.String()
}

func (m model) agentsPanel() string {
	var b strings.Builder
	b.WriteString(headingStyle.Render("Active agents") + "\n")
	if len(m.snap.Agents) == 0 {
		b.WriteString(dimStyle.Render("nobody is working"))
		return b.String()
	}
	for i, a := range m.snap.Agents {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%-12s #%-4d %-*s", truncate(a.Agent, 12), a.TaskID, titleWidth, truncate(a.TaskTitle, titleWidth))
		if a.StreamName != "" {
			b.WriteString(dimStyle.Render(" [" + a.StreamName + "]"))
		}
		if a.ClaimedAt != nil {
			b.WriteString(dimStyle.Render(" " + since(m.snap.FetchedAt, *a.ClaimedAt)))
		}
	}
	return b.String()
}

func (m model) statusPanel() string {
	parts := make([]string, 0, len(persistence.TaskStatuses))
	for _, st := range persistence.TaskStatuses {
		parts = append(parts, statusStyles[st].Render(fmt.Sprintf("%s %d", st, m.snap.Totals.Get(st))))
	}
	return headingStyle.Render("Status") + "\n" + strings.Join(parts, "  ")
}

func (m model) activityPanel() string {
	var b strings.Builder
	b.WriteString(headingStyle.Render("Recent activity") + "\n")
	if len(m.snap.Recent) == 0 {
		b.WriteString(dimStyle.Render("no activity yet"))
		return b.String()
	}
	for i, e := range m.snap.Recent {
		if i > 0 {
			b.WriteString("\n")
		}
		task := "     "
		if e.TaskID != nil {
			task = fmt.Sprintf("#%-4d", *e.TaskID)
		}
		details := ""
		if e.Details != nil {
			details = truncate(*e.Details, detailsWidth)
		}
		fmt.Fprintf(&b, "%s %-12s %-9s %s %s",
			dimStyle.Render(e.CreatedAt.Local().Format("15:04:05")),
			truncate(e.Agent, 12), e.Action, task, details)
	}
	return b.String()
}

// since renders a compact age such as "3m" or "2h".
func since(now, then time.Time) string {
	d := max(now.Sub(then), 0)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}
