package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/basket/taskcopilot/internal/persistence"
)

const timeLayout = "2006-01-02 15:04:05"

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func ref(p *int64) string {
	if p == nil {
		return ""
	}
	return "#" + strconv.FormatInt(*p, 10)
}

func stamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Local().Format(timeLayout)
}

func ids(v []int64) string {
	parts := make([]string, len(v))
	for i, id := range v {
		parts[i] = "#" + strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ", ")
}

func (a *app) printTasks(tasks []persistence.Task) {
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, []string{
			strconv.FormatInt(t.ID, 10),
			"P" + strconv.Itoa(t.Priority),
			a.printer.Status(string(t.Status)),
			t.Title,
			str(t.Agent),
			str(t.ClaimedBy),
		})
	}
	a.printer.Table([]string{"ID", "PRI", "STATUS", "TITLE", "AGENT", "CLAIMED BY"}, rows)
}

func (a *app) printTask(t *persistence.Task) {
	a.printer.Fields(
		[2]string{"Task", fmt.Sprintf("#%d %s", t.ID, t.Title)},
		[2]string{"Status", a.printer.Status(string(t.Status))},
		[2]string{"Priority", "P" + strconv.Itoa(t.Priority)},
		[2]string{"Agent", str(t.Agent)},
		[2]string{"Claimed by", str(t.ClaimedBy)},
		[2]string{"Claimed at", stamp(t.ClaimedAt)},
		[2]string{"PRD", ref(t.PRDID)},
		[2]string{"Stream", ref(t.StreamID)},
		[2]string{"Parent", ref(t.ParentTaskID)},
		[2]string{"Depends on", ids(t.Dependencies)},
		[2]string{"Description", str(t.Description)},
		[2]string{"Metadata", string(t.Metadata)},
		[2]string{"Created", stamp(&t.CreatedAt)},
		[2]string{"Updated", stamp(&t.UpdatedAt)},
	)
}

func (a *app) printPRD(p *persistence.PRD) {
	a.printer.Fields(
		[2]string{"PRD", fmt.Sprintf("#%d %s", p.ID, p.Title)},
		[2]string{"Status", a.printer.Status(string(p.Status))},
		[2]string{"Description", str(p.Description)},
		[2]string{"Created", stamp(&p.CreatedAt)},
		[2]string{"Updated", stamp(&p.UpdatedAt)},
	)
	if c := str(p.Content); c != "" {
		a.printer.Info("\n%s\n", strings.TrimRight(c, "\n"))
	}
}

func (a *app) printStream(s *persistence.Stream) {
	a.printer.Fields(
		[2]string{"Stream", fmt.Sprintf("#%d %s", s.ID, s.Name)},
		[2]string{"Status", a.printer.Status(string(s.Status))},
		[2]string{"PRD", ref(s.PRDID)},
		[2]string{"Worktree", str(s.WorktreePath)},
		[2]string{"Created", stamp(&s.CreatedAt)},
	)
}

func (a *app) printWorkProducts(wps []persistence.WorkProduct) {
	rows := make([][]string, 0, len(wps))
	for _, wp := range wps {
		title := wp.Title
		if wp.Snippet != "" {
			title += "\n" + a.printer.Dim(wp.Snippet)
		}
		rows = append(rows, []string{
			strconv.FormatInt(wp.ID, 10),
			wp.Type,
			title,
			ref(wp.TaskID),
			str(wp.Agent),
			stamp(&wp.CreatedAt),
		})
	}
	a.printer.Table([]string{"ID", "TYPE", "TITLE", "TASK", "AGENT", "CREATED"}, rows)
}

func (a *app) printLog(entries []persistence.LogEntry) {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			stamp(&e.CreatedAt),
			e.Agent,
			e.Action,
			ref(e.TaskID),
			str(e.Details),
		})
	}
	a.printer.Table([]string{"TIME", "AGENT", "ACTION", "TASK", "DETAILS"}, rows)
}

func (a *app) printProgress(p *persistence.Progress) {
	rows := make([][]string, 0, len(p.Streams))
	for _, sp := range p.Streams {
		name := "(no stream)"
		if sp.StreamID != nil {
			name = sp.StreamName
		}
		rows = append(rows, progressRow(name, sp.Counts))
	}
	rows = append(rows, progressRow("TOTAL", p.Totals))
	a.printer.Table([]string{"STREAM", "PENDING", "IN PROGRESS", "COMPLETED", "BLOCKED", "CANCELLED", "DONE"}, rows)
}

func progressRow(name string, c persistence.StatusCounts) []string {
	return []string{
		name,
		strconv.Itoa(c.Pending),
		strconv.Itoa(c.InProgress),
		strconv.Itoa(c.Completed),
		strconv.Itoa(c.Blocked),
		strconv.Itoa(c.Cancelled),
		fmt.Sprintf("%.0f%%", c.Percent()*100),
	}
}
