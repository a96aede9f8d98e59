package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"
)

// StatusCounts tallies tasks by status.
type StatusCounts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Blocked    int `json:"blocked"`
	Cancelled  int `json:"cancelled"`
}

func (c StatusCounts) Total() int {
	return c.Pending + c.InProgress + c.Completed + c.Blocked + c.Cancelled
}

// Percent is the completed share of all tasks, 0 when there are none.
func (c StatusCounts) Percent() float64 {
	if c.Total() == 0 {
		return 0
	}
	return float64(c.Completed) / float64(c.Total())
}

func (c *StatusCounts) add(status TaskStatus, n int) {
	switch status {
	case TaskStatusPending:
		c.Pending += n
	case TaskStatusInProgress:
		c.InProgress += n
	case TaskStatusCompleted:
		c.Completed += n
	case TaskStatusBlocked:
		c.Blocked += n
	case TaskStatusCancelled:
		c.Cancelled += n
	}
}

// Get returns the count for one status.
func (c StatusCounts) Get(status TaskStatus) int {
	switch status {
	case TaskStatusPending:
		return c.Pending
	case TaskStatusInProgress:
		return c.InProgress
	case TaskStatusCompleted:
		return c.Completed
	case TaskStatusBlocked:
		return c.Blocked
	case TaskStatusCancelled:
		return c.Cancelled
	}
	return 0
}

type StreamProgress struct {
	StreamID     *int64        `json:"stream_id"`
	StreamName   string        `json:"stream_name"`
	StreamStatus *StreamStatus `json:"stream_status,omitempty"`
	Counts       StatusCounts  `json:"counts"`
}

type Progress struct {
	Streams []StreamProgress `json:"streams"`
	Totals  StatusCounts     `json:"totals"`
}

// Progress counts tasks per stream and status. Tasks without a stream are
// grouped under an unnamed entry. A non-nil streamID restricts the report.
func (s *Store) Progress(ctx context.Context, streamID *int64) (*Progress, error) {
	return progressQ(ctx, s.db, streamID)
}

func progressQ(ctx context.Context, q querier, streamID *int64) (*Progress, error) {
	query := `
		SELECT t.stream_id, COALESCE(st.name, ''), st.status, t.status, COUNT(*)
		FROM tasks t
		LEFT JOIN streams st ON st.id = t.stream_id`
	var args []any
	if streamID != nil {
		query += ` WHERE t.stream_id = ?`
		args = append(args, *streamID)
	}
	query += ` GROUP BY t.stream_id, t.status ORDER BY t.stream_id IS NULL, t.stream_id;`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("progress", err)
	}
	defer rows.Close()

	out := &Progress{}
	index := map[int64]int{}
	noStream := -1
	for rows.Next() {
		var (
			sid          sql.NullInt64
			name         string
			streamStatus sql.NullString
			status       TaskStatus
			n            int
		)
		if err := rows.Scan(&sid, &name, &streamStatus, &status, &n); err != nil {
			return nil, wrapErr("scan progress", err)
		}
		var pos int
		switch {
		case !sid.Valid && noStream >= 0:
			pos = noStream
		case !sid.Valid:
			out.Streams = append(out.Streams, StreamProgress{})
			pos = len(out.Streams) - 1
			noStream = pos
		default:
			p, ok := index[sid.Int64]
			if !ok {
				id := sid.Int64
				entry := StreamProgress{StreamID: &id, StreamName: name}
				if streamStatus.Valid {
					st := StreamStatus(streamStatus.String)
					entry.StreamStatus = &st
				}
				out.Streams = append(out.Streams, entry)
				p = len(out.Streams) - 1
				index[id] = p
			}
			pos = p
		}
		out.Streams[pos].Counts.add(status, n)
		out.Totals.add(status, n)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("progress", err)
	}
	return out, nil
}

// ActiveAgent is an agent currently holding a claimed, in-progress task.
type ActiveAgent struct {
	Agent      string     `json:"agent"`
	TaskID     int64      `json:"task_id"`
	TaskTitle  string     `json:"task_title"`
	StreamName string     `json:"stream_name,omitempty"`
	ClaimedAt  *time.Time `json:"claimed_at"`
}

// Dashboard is a read-only picture of the database for the watch view.
type Dashboard struct {
	Totals    StatusCounts     `json:"totals"`
	Streams   []StreamProgress `json:"streams"`
	Agents    []ActiveAgent    `json:"agents"`
	Recent    []LogEntry       `json:"recent"`
	FetchedAt time.Time        `json:"fetched_at"`
}

// DashboardSnapshot gathers everything the watch view renders. It never
// opens a transaction: every BEGIN on this connection is IMMEDIATE and a
// viewer must not hold the write lock. Archived streams are left out of the
// per-stream list.
func (s *Store) DashboardSnapshot(ctx context.Context, streamID *int64, logLimit int) (*Dashboard, error) {
	prog, err := progressQ(ctx, s.db, streamID)
	if err != nil {
		return nil, err
	}
	d := &Dashboard{Totals: prog.Totals, FetchedAt: time.Now()}
	for _, sp := range prog.Streams {
		if sp.StreamID == nil {
			continue
		}
		if sp.StreamStatus != nil && *sp.StreamStatus == StreamStatusArchived {
			continue
		}
		d.Streams = append(d.Streams, sp)
	}

	query := `
		SELECT t.claimed_by, t.id, t.title, COALESCE(st.name, ''), t.claimed_at
		FROM tasks t
		LEFT JOIN streams st ON st.id = t.stream_id
		WHERE t.claimed_by IS NOT NULL AND t.status = ?`
	args := []any{TaskStatusInProgress}
	if streamID != nil {
		query += ` AND t.stream_id = ?`
		args = append(args, *streamID)
	}
	query += ` ORDER BY t.claimed_at DESC, t.id DESC;`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("active agents", err)
	}
	for rows.Next() {
		var a ActiveAgent
		var claimedAt sql.NullTime
		if err := rows.Scan(&a.Agent, &a.TaskID, &a.TaskTitle, &a.StreamName, &claimedAt); err != nil {
			_ = rows.Close()
			return nil, wrapErr("scan active agent", err)
		}
		a.ClaimedAt = timePtr(claimedAt)
		d.Agents = append(d.Agents, a)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, wrapErr("active agents", err)
	}
	_ = rows.Close()

	if logLimit > 0 {
		d.Recent, err = listLogQ(ctx, s.db, LogFilter{StreamID: streamID, Limit: logLimit})
		if err != nil {
			return nil, err
		}
	}
	return d, nil
}

type TableCount struct {
	Table string `json:"table"`
	Rows  int64  `json:"rows"`
}

// Stats reports row counts for every data table.
func (s *Store) Stats(ctx context.Context) ([]TableCount, error) {
	tables := []string{"prds", "streams", "tasks", "task_dependencies", "work_products", "agent_log"}
	out := make([]TableCount, 0, len(tables))
	for _, table := range tables {
		var n int64
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM `+table+`;`).Scan(&n); err != nil {
			return nil, wrapErr("count "+table, err)
		}
		out = append(out, TableCount{Table: table, Rows: n})
	}
	return out, nil
}

// Backup writes a consistent copy of the database to dest, which must not
// exist yet.
func (s *Store) Backup(ctx context.Context, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("backup: %w: %s already exists", ErrValidation, dest)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?;`, dest); err != nil {
		return wrapErr("backup", err)
	}
	s.logger.InfoContext(ctx, "database backed up", "dest", dest)
	return nil
}

// IntegrityCheck runs PRAGMA integrity_check and returns its first line,
// "ok" for a healthy file.
func (s *Store) IntegrityCheck(ctx context.Context) (string, error) {
	var out string
	if err := s.db.QueryRowContext(ctx, `PRAGMA integrity_check;`).Scan(&out); err != nil {
		return "", wrapErr("integrity check", err)
	}
	return out, nil
}

func (s *Store) JournalMode(ctx context.Context) (string, error) {
	var mode string
	if err := s.db.QueryRowContext(ctx, `PRAGMA journal_mode;`).Scan(&mode); err != nil {
		return "", wrapErr("journal mode", err)
	}
	return mode, nil
}

// ClaimInvariantViolations lists tasks whose claim fields are only half set.
func (s *Store) ClaimInvariantViolations(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM tasks
		WHERE (claimed_by IS NULL) != (claimed_at IS NULL)
		ORDER BY id;
	`)
	if err != nil {
		return nil, wrapErr("claim invariant", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrapErr("scan task id", err)
		}
		ids = append(ids, id)
	}
	return ids, wrapErr("claim invariant", rows.Err())
}
