package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Activity log actions written by the store.
const (
	ActionClaimed   = "claimed"
	ActionReleased  = "released"
	ActionHandoff   = "handoff"
	ActionCompleted = "completed"
)

const defaultLogLimit = 50

type LogEntry struct {
	ID        int64     `json:"id"`
	Agent     string    `json:"agent"`
	StreamID  *int64    `json:"stream_id"`
	TaskID    *int64    `json:"task_id"`
	Action    string    `json:"action"`
	Details   *string   `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}

// appendLogTx writes one entry inside the caller's transaction, so the entry
// exists exactly when the change it describes commits.
func (s *Store) appendLogTx(ctx context.Context, q querier, e LogEntry) error {
	if strings.TrimSpace(e.Agent) == "" || strings.TrimSpace(e.Action) == "" {
		return fmt.Errorf("%w: log entry needs agent and action", ErrValidation)
	}
	var details any
	if e.Details != nil {
		details = *e.Details
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO agent_log (agent, stream_id, task_id, action, details)
		VALUES (?, ?, ?, ?, ?);
	`, e.Agent, nullableInt64(e.StreamID), nullableInt64(e.TaskID), e.Action, details); err != nil {
		return fmt.Errorf("insert agent_log: %w", err)
	}
	s.metrics.LogEntries.Add(ctx, 1)
	s.logger.DebugContext(ctx, "activity logged", "agent", e.Agent, "action", e.Action)
	return nil
}

type LogFilter struct {
	Agent    string
	StreamID *int64
	TaskID   *int64
	// Limit defaults to 50.
	Limit int
}

// ListLog returns activity entries newest first.
func (s *Store) ListLog(ctx context.Context, f LogFilter) ([]LogEntry, error) {
	return listLogQ(ctx, s.db, f)
}

func listLogQ(ctx context.Context, q querier, f LogFilter) ([]LogEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.Agent != "" {
		where = append(where, "agent = ?")
		args = append(args, f.Agent)
	}
	if f.StreamID != nil {
		where = append(where, "stream_id = ?")
		args = append(args, *f.StreamID)
	}
	if f.TaskID != nil {
		where = append(where, "task_id = ?")
		args = append(args, *f.TaskID)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}
	query := `SELECT id, agent, stream_id, task_id, action, details, created_at FROM agent_log`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id DESC LIMIT ?;`
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list log", err)
	}
	defer rows.Close()
	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		var streamID, taskID sql.NullInt64
		var details sql.NullString
		if err := rows.Scan(&e.ID, &e.Agent, &streamID, &taskID, &e.Action, &details, &e.CreatedAt); err != nil {
			return nil, wrapErr("scan log entry", err)
		}
		e.StreamID = int64Ptr(streamID)
		e.TaskID = int64Ptr(taskID)
		e.Details = stringPtr(details)
		out = append(out, e)
	}
	return out, wrapErr("list log", rows.Err())
}
