package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	tcotel "github.com/basket/taskcopilot/internal/otel"
)

// NextFilter narrows Next. Agent matches tasks assigned to that agent and
// tasks assigned to nobody.
type NextFilter struct {
	StreamID *int64
	Agent    string
}

// Next returns the pending task an agent should pick up: every dependency
// completed, lowest priority value first, oldest id on ties. It returns
// (nil, nil) when nothing qualifies. The result is a hint; only Claim grants
// ownership.
func (s *Store) Next(ctx context.Context, f NextFilter) (*Task, error) {
	ctx, span := tcotel.StartSpan(ctx, s.tracer, "tc.task.next",
		tcotel.AttrAgent.String(f.Agent),
	)
	defer span.End()
	start := time.Now()
	defer func() {
		s.metrics.SelectDuration.Record(ctx, time.Since(start).Seconds())
	}()

	task, err := nextQ(ctx, s.db, f)
	if err != nil {
		span.RecordError(err)
		return nil, wrapErr("select next task", err)
	}
	if task != nil {
		span.SetAttributes(tcotel.AttrTaskID.Int64(task.ID))
	}
	return task, nil
}

func nextQ(ctx context.Context, q querier, f NextFilter) (*Task, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + taskColumns("t") + `
		FROM tasks t
		WHERE t.status = ?
			AND NOT EXISTS (
				SELECT 1
				FROM task_dependencies td
				JOIN tasks dep ON dep.id = td.depends_on
				WHERE td.task_id = t.id AND dep.status != ?
			)`)
	args := []any{TaskStatusPending, TaskStatusCompleted}
	if f.StreamID != nil {
		b.WriteString(` AND t.stream_id = ?`)
		args = append(args, *f.StreamID)
	}
	if agent := strings.TrimSpace(f.Agent); agent != "" {
		b.WriteString(` AND (t.agent = ? OR t.agent IS NULL)`)
		args = append(args, agent)
	}
	b.WriteString(` ORDER BY t.priority ASC, t.id ASC LIMIT 1;`)

	var task Task
	if err := scanTask(q.QueryRowContext(ctx, b.String(), args...).Scan, &task); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}
