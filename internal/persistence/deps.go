package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	tcotel "github.com/basket/taskcopilot/internal/otel"
)

// Dependency is one edge task -> depends_on with the dependency's state.
type Dependency struct {
	TaskID    int64      `json:"task_id"`
	DependsOn int64      `json:"depends_on"`
	Title     string     `json:"title"`
	Status    TaskStatus `json:"status"`
}

func dependenciesQ(ctx context.Context, q querier, taskID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT depends_on FROM task_dependencies WHERE task_id = ? ORDER BY depends_on;
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func hasIncompleteDependenciesQ(ctx context.Context, q querier, taskID int64) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM task_dependencies td
			JOIN tasks dep ON dep.id = td.depends_on
			WHERE td.task_id = ? AND dep.status != ?
		);
	`, taskID, TaskStatusCompleted).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check dependencies: %w", err)
	}
	return exists, nil
}

// Dependencies lists the ids taskID depends on.
func (s *Store) Dependencies(ctx context.Context, taskID int64) ([]int64, error) {
	deps, err := dependenciesQ(ctx, s.db, taskID)
	return deps, wrapErr("dependencies", err)
}

// HasIncompleteDependencies reports whether any dependency of taskID is not
// yet completed. A task with no dependencies has none incomplete.
func (s *Store) HasIncompleteDependencies(ctx context.Context, taskID int64) (bool, error) {
	blocked, err := hasIncompleteDependenciesQ(ctx, s.db, taskID)
	return blocked, wrapErr("has incomplete dependencies", err)
}

// IncompleteDependencies lists what still blocks taskID.
func (s *Store) IncompleteDependencies(ctx context.Context, taskID int64) ([]Dependency, error) {
	if _, err := getTaskQ(ctx, s.db, taskID); err != nil {
		return nil, wrapErr("blockers", err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT td.task_id, td.depends_on, dep.title, dep.status
		FROM task_dependencies td
		JOIN tasks dep ON dep.id = td.depends_on
		WHERE td.task_id = ? AND dep.status != ?
		ORDER BY td.depends_on;
	`, taskID, TaskStatusCompleted)
	if err != nil {
		return nil, wrapErr("blockers", err)
	}
	defer rows.Close()
	var out []Dependency
	for rows.Next() {
		var d Dependency
		if err := rows.Scan(&d.TaskID, &d.DependsOn, &d.Title, &d.Status); err != nil {
			return nil, wrapErr("scan blocker", err)
		}
		out = append(out, d)
	}
	return out, wrapErr("blockers", rows.Err())
}

// AddDependency records that taskID cannot start before dependsOn completes.
// Self edges, duplicate edges and edges that would close a cycle are
// rejected with ErrValidation.
func (s *Store) AddDependency(ctx context.Context, taskID, dependsOn int64) error {
	if taskID == dependsOn {
		return fmt.Errorf("add dependency: %w: task %d cannot depend on itself", ErrValidation, taskID)
	}
	ctx, span := tcotel.StartSpan(ctx, s.tracer, "tc.task.depend",
		tcotel.AttrTaskID.Int64(taskID),
		tcotel.AttrDependsOn.Int64(dependsOn),
	)
	defer span.End()

	err := s.withTx(ctx, "add dependency", func(tx *sql.Tx) error {
		if err := requireRow(ctx, tx, "tasks", "task", &taskID); err != nil {
			return err
		}
		if err := requireRow(ctx, tx, "tasks", "task", &dependsOn); err != nil {
			return err
		}
		cyclic, err := reachesQ(ctx, tx, dependsOn, taskID)
		if err != nil {
			return err
		}
		if cyclic {
			return fmt.Errorf("%w: task %d already depends on task %d; edge would create a cycle", ErrValidation, dependsOn, taskID)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO task_dependencies (task_id, depends_on) VALUES (?, ?);
		`, taskID, dependsOn)
		if err != nil {
			return fmt.Errorf("insert dependency: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("dependency rows affected: %w", err)
		} else if n == 0 {
			return fmt.Errorf("%w: task %d already depends on task %d", ErrValidation, taskID, dependsOn)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	s.logger.DebugContext(ctx, "dependency added", "task_id", taskID, "depends_on", dependsOn)
	return nil
}

// reachesQ reports whether target is reachable from start by following
// depends_on edges.
func reachesQ(ctx context.Context, q querier, start, target int64) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `
		WITH RECURSIVE reach(id) AS (
			SELECT depends_on FROM task_dependencies WHERE task_id = ?
			UNION
			SELECT td.depends_on FROM task_dependencies td JOIN reach r ON td.task_id = r.id
		)
		SELECT 1 FROM reach WHERE id = ? LIMIT 1;
	`, start, target).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("walk dependencies: %w", err)
	}
	return true, nil
}

func (s *Store) RemoveDependency(ctx context.Context, taskID, dependsOn int64) error {
	return s.withTx(ctx, "remove dependency", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM task_dependencies WHERE task_id = ? AND depends_on = ?;
		`, taskID, dependsOn)
		if err != nil {
			return fmt.Errorf("delete dependency: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("dependency rows affected: %w", err)
		} else if n == 0 {
			return fmt.Errorf("%w: task %d does not depend on task %d", ErrNotFound, taskID, dependsOn)
		}
		return nil
	})
}

// CyclicTasks returns the tasks that can never become eligible because they
// sit on, or behind, a dependency cycle. Insertion rejects cycles, so this
// only finds damage written by other tools.
func (s *Store) CyclicTasks(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT task_id, depends_on FROM task_dependencies;`)
	if err != nil {
		return nil, wrapErr("cyclic tasks", err)
	}
	defer rows.Close()

	inDegree := map[int64]int{}
	dependents := map[int64][]int64{}
	for rows.Next() {
		var taskID, dependsOn int64
		if err := rows.Scan(&taskID, &dependsOn); err != nil {
			return nil, wrapErr("scan dependency edge", err)
		}
		inDegree[taskID]++
		if _, ok := inDegree[dependsOn]; !ok {
			inDegree[dependsOn] = 0
		}
		dependents[dependsOn] = append(dependents[dependsOn], taskID)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("cyclic tasks", err)
	}

	// Kahn's algorithm: whatever is never released is stuck.
	var queue []int64
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, dep := range dependents[id] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	var stuck []int64
	for id, deg := range inDegree {
		if deg > 0 {
			stuck = append(stuck, id)
		}
	}
	slices.Sort(stuck)
	return stuck, nil
}
