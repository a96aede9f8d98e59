package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Task is one unit of work. ClaimedBy and ClaimedAt are either both set or
// both nil.
type Task struct {
	ID           int64           `json:"id"`
	PRDID        *int64          `json:"prd_id"`
	StreamID     *int64          `json:"stream_id"`
	Title        string          `json:"title"`
	Description  *string         `json:"description"`
	Status       TaskStatus      `json:"status"`
	Agent        *string         `json:"agent"`
	ClaimedBy    *string         `json:"claimed_by"`
	ClaimedAt    *time.Time      `json:"claimed_at"`
	Priority     int             `json:"priority"`
	ParentTaskID *int64          `json:"parent_task_id"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Dependencies []int64         `json:"dependencies,omitempty"`
}

var taskColumnNames = []string{
	"id", "prd_id", "stream_id", "title", "description", "status", "agent",
	"claimed_by", "claimed_at", "priority", "parent_task_id", "metadata",
	"created_at", "updated_at",
}

// taskColumns renders the select list, optionally qualified by a table alias.
func taskColumns(alias string) string {
	if alias == "" {
		return strings.Join(taskColumnNames, ", ")
	}
	cols := make([]string, len(taskColumnNames))
	for i, c := range taskColumnNames {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

func scanTask(scanFn func(dest ...any) error, task *Task) error {
	var (
		prdID, streamID, parentID     sql.NullInt64
		description, agent, claimedBy sql.NullString
		metadata                      sql.NullString
		claimedAt                     sql.NullTime
	)
	if err := scanFn(
		&task.ID,
		&prdID,
		&streamID,
		&task.Title,
		&description,
		&task.Status,
		&agent,
		&claimedBy,
		&claimedAt,
		&task.Priority,
		&parentID,
		&metadata,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return err
	}
	task.PRDID = int64Ptr(prdID)
	task.StreamID = int64Ptr(streamID)
	task.ParentTaskID = int64Ptr(parentID)
	task.Description = stringPtr(description)
	task.Agent = stringPtr(agent)
	task.ClaimedBy = stringPtr(claimedBy)
	task.ClaimedAt = timePtr(claimedAt)
	task.Metadata = nil
	if metadata.Valid && metadata.String != "" {
		task.Metadata = json.RawMessage(metadata.String)
	}
	return nil
}

func getTaskQ(ctx context.Context, q querier, id int64) (*Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns("")+` FROM tasks WHERE id = ?;`, id)
	var task Task
	if err := scanTask(row.Scan, &task); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: task %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("select task %d: %w", id, err)
	}
	return &task, nil
}

// GetTask reads one task together with its dependency ids.
func (s *Store) GetTask(ctx context.Context, id int64) (*Task, error) {
	task, err := getTaskQ(ctx, s.db, id)
	if err != nil {
		return nil, wrapErr("get task", err)
	}
	deps, err := dependenciesQ(ctx, s.db, id)
	if err != nil {
		return nil, wrapErr("get task", err)
	}
	task.Dependencies = deps
	return task, nil
}

type CreateTaskInput struct {
	Title        string
	Description  string
	PRDID        *int64
	StreamID     *int64
	ParentTaskID *int64
	Agent        string
	// Priority defaults to DefaultPriority when nil.
	Priority *int
	// Metadata must be a JSON document when set.
	Metadata string
}

func (s *Store) validateMetadata(raw string) error {
	if raw == "" {
		return nil
	}
	if !json.Valid([]byte(raw)) {
		return fmt.Errorf("%w: metadata is not valid JSON", ErrValidation)
	}
	if s.validator != nil {
		if err := s.validator.Validate(raw); err != nil {
			return fmt.Errorf("%w: metadata: %v", ErrValidation, err)
		}
	}
	return nil
}

func (s *Store) CreateTask(ctx context.Context, in CreateTaskInput) (*Task, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return nil, fmt.Errorf("create task: %w: title is required", ErrValidation)
	}
	priority := DefaultPriority
	if in.Priority != nil {
		priority = *in.Priority
	}
	if err := validatePriority(priority); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	if err := s.validateMetadata(in.Metadata); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	var task *Task
	err := s.withTx(ctx, "create task", func(tx *sql.Tx) error {
		if err := requireRow(ctx, tx, "prds", "prd", in.PRDID); err != nil {
			return err
		}
		if err := requireRow(ctx, tx, "streams", "stream", in.StreamID); err != nil {
			return err
		}
		if err := requireRow(ctx, tx, "tasks", "parent task", in.ParentTaskID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (title, description, prd_id, stream_id, parent_task_id, agent, priority, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?);
		`, in.Title, nullableString(in.Description), nullableInt64(in.PRDID), nullableInt64(in.StreamID),
			nullableInt64(in.ParentTaskID), nullableString(in.Agent), priority, nullableString(in.Metadata))
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("task last insert id: %w", err)
		}
		task, err = getTaskQ(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.DebugContext(ctx, "task created", "task_id", task.ID, "priority", task.Priority)
	return task, nil
}

// requireRow reports ErrNotFound when id is set but names no row in table.
func requireRow(ctx context.Context, q querier, table, label string, id *int64) error {
	if id == nil {
		return nil
	}
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?;`, *id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %d", ErrNotFound, label, *id)
	}
	if err != nil {
		return fmt.Errorf("lookup %s %d: %w", label, *id, err)
	}
	return nil
}

type TaskFilter struct {
	Status   TaskStatus
	Agent    string
	StreamID *int64
	PRDID    *int64
	Limit    int
}

func (s *Store) ListTasks(ctx context.Context, f TaskFilter) ([]Task, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Agent != "" {
		where = append(where, "agent = ?")
		args = append(args, f.Agent)
	}
	if f.StreamID != nil {
		where = append(where, "stream_id = ?")
		args = append(args, *f.StreamID)
	}
	if f.PRDID != nil {
		where = append(where, "prd_id = ?")
		args = append(args, *f.PRDID)
	}
	query := `SELECT ` + taskColumns("") + ` FROM tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY priority ASC, id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list tasks", err)
	}
	defer rows.Close()
	var out []Task
	for rows.Next() {
		var t Task
		if err := scanTask(rows.Scan, &t); err != nil {
			return nil, wrapErr("scan task", err)
		}
		out = append(out, t)
	}
	return out, wrapErr("list tasks", rows.Err())
}

// UpdateTaskInput carries the fields to change; nil leaves a field alone.
// Claim ownership is never changed here.
type UpdateTaskInput struct {
	Status      *TaskStatus
	Agent       *string
	Description *string
	Priority    *int
}

func (in UpdateTaskInput) Empty() bool {
	return in.Status == nil && in.Agent == nil && in.Description == nil && in.Priority == nil
}

func (s *Store) UpdateTask(ctx context.Context, id int64, in UpdateTaskInput) (*Task, error) {
	if in.Priority != nil {
		if err := validatePriority(*in.Priority); err != nil {
			return nil, fmt.Errorf("update task: %w", err)
		}
	}
	if in.Status != nil {
		if _, err := ParseTaskStatus(string(*in.Status)); err != nil {
			return nil, fmt.Errorf("update task: %w", err)
		}
	}

	var task *Task
	err := s.withTx(ctx, "update task", func(tx *sql.Tx) error {
		current, err := getTaskQ(ctx, tx, id)
		if err != nil {
			return err
		}
		if in.Empty() {
			task = current
			return nil
		}

		sets := []string{"updated_at = CURRENT_TIMESTAMP"}
		var args []any
		if in.Status != nil {
			if !canTransition(current.Status, *in.Status) {
				return fmt.Errorf("%w: illegal transition %s -> %s", ErrValidation, current.Status, *in.Status)
			}
			sets = append(sets, "status = ?")
			args = append(args, *in.Status)
		}
		if in.Agent != nil {
			sets = append(sets, "agent = ?")
			args = append(args, nullableString(*in.Agent))
		}
		if in.Description != nil {
			sets = append(sets, "description = ?")
			args = append(args, nullableString(*in.Description))
		}
		if in.Priority != nil {
			sets = append(sets, "priority = ?")
			args = append(args, *in.Priority)
		}
		args = append(args, id, current.Status)

		res, err := tx.ExecContext(ctx, `UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ? AND status = ?;`, args...)
		if err != nil {
			return fmt.Errorf("update task %d: %w", id, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("update rows affected: %w", err)
		} else if n != 1 {
			return fmt.Errorf("%w: task %d changed concurrently", ErrConflict, id)
		}

		task, err = getTaskQ(ctx, tx, id)
		if err != nil {
			return err
		}
		// Completion is credited to whoever held the task before this update.
		if in.Status != nil && *in.Status == TaskStatusCompleted && current.Status != TaskStatusCompleted && current.Agent != nil {
			return s.appendLogTx(ctx, tx, LogEntry{
				Agent:    *current.Agent,
				StreamID: task.StreamID,
				TaskID:   &task.ID,
				Action:   ActionCompleted,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}
