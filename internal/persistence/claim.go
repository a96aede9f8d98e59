package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	tcotel "github.com/basket/taskcopilot/internal/otel"
)

// Claim gives agent exclusive ownership of a pending task. The check and the
// write are one conditional UPDATE inside an immediate transaction, so of any
// number of concurrent claimants across processes exactly one succeeds and
// the rest get ErrConflict. A successful claim and its "claimed" log entry
// commit together.
func (s *Store) Claim(ctx context.Context, taskID int64, agent string) (*Task, error) {
	agent = strings.TrimSpace(agent)
	if agent == "" {
		return nil, fmt.Errorf("claim task: %w: agent is required", ErrValidation)
	}

	ctx, span := tcotel.StartSpan(ctx, s.tracer, "tc.task.claim",
		tcotel.AttrTaskID.Int64(taskID),
		tcotel.AttrAgent.String(agent),
	)
	defer span.End()
	s.metrics.ClaimAttempts.Add(ctx, 1)

	var task *Task
	err := s.withTx(ctx, "claim task", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE tasks
			SET claimed_by = ?,
				claimed_at = CURRENT_TIMESTAMP,
				status = ?,
				agent = ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
				AND (claimed_by IS NULL OR claimed_by = ?)
				AND status = ?;
		`, agent, TaskStatusInProgress, agent, taskID, agent, TaskStatusPending)
		if err != nil {
			return fmt.Errorf("update claim: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("claim rows affected: %w", err)
		}
		if affected != 1 {
			return claimRejection(ctx, tx, taskID)
		}

		task, err = getTaskQ(ctx, tx, taskID)
		if err != nil {
			return err
		}
		details := "Claimed by " + agent
		return s.appendLogTx(ctx, tx, LogEntry{
			Agent:    agent,
			StreamID: task.StreamID,
			TaskID:   &task.ID,
			Action:   ActionClaimed,
			Details:  &details,
		})
	})
	if err != nil {
		s.recordFailure(ctx, span, "claim", taskID, agent, err)
		return nil, err
	}
	s.logger.InfoContext(ctx, "task claimed", "task_id", taskID, "agent", agent)
	return task, nil
}

// claimRejection explains why the conditional update matched nothing.
// Every zero-row outcome is a conflict, a missing task included; the
// detail text says which case it was.
func claimRejection(ctx context.Context, q querier, taskID int64) error {
	var (
		status    TaskStatus
		claimedBy sql.NullString
	)
	err := q.QueryRowContext(ctx, `SELECT status, claimed_by FROM tasks WHERE id = ?;`, taskID).Scan(&status, &claimedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: task %d does not exist", ErrConflict, taskID)
	}
	if err != nil {
		return fmt.Errorf("inspect task %d: %w", taskID, err)
	}
	if claimedBy.Valid {
		return fmt.Errorf("%w: task %d is %s and claimed by %s", ErrConflict, taskID, status, claimedBy.String)
	}
	return fmt.Errorf("%w: task %d is %s", ErrConflict, taskID, status)
}

// Release hands an in-progress task back to the pending pool. Only the
// current claimant may release; the claim fields are cleared together.
func (s *Store) Release(ctx context.Context, taskID int64, agent string) (*Task, error) {
	agent = strings.TrimSpace(agent)
	if agent == "" {
		return nil, fmt.Errorf("release task: %w: agent is required", ErrValidation)
	}

	ctx, span := tcotel.StartSpan(ctx, s.tracer, "tc.task.release",
		tcotel.AttrTaskID.Int64(taskID),
		tcotel.AttrAgent.String(agent),
	)
	defer span.End()

	var task *Task
	err := s.withTx(ctx, "release task", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE tasks
			SET claimed_by = NULL,
				claimed_at = NULL,
				status = ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND claimed_by = ? AND status = ?;
		`, TaskStatusPending, taskID, agent, TaskStatusInProgress)
		if err != nil {
			return fmt.Errorf("update release: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("release rows affected: %w", err)
		}
		if affected != 1 {
			return claimRejection(ctx, tx, taskID)
		}
		task, err = getTaskQ(ctx, tx, taskID)
		if err != nil {
			return err
		}
		details := "Released by " + agent
		return s.appendLogTx(ctx, tx, LogEntry{
			Agent:    agent,
			StreamID: task.StreamID,
			TaskID:   &task.ID,
			Action:   ActionReleased,
			Details:  &details,
		})
	})
	if err != nil {
		s.recordFailure(ctx, span, "release", taskID, agent, err)
		return nil, err
	}
	s.logger.InfoContext(ctx, "task released", "task_id", taskID, "agent", agent)
	return task, nil
}

func (s *Store) recordFailure(ctx context.Context, span trace.Span, op string, taskID int64, agent string, err error) {
	kind := Classify(err)
	span.SetAttributes(tcotel.AttrOutcome.String(kind.String()))
	attrs := []any{"op", op, "task_id", taskID, "agent", agent, "error", err}
	switch kind {
	case KindConflict, KindNotFound, KindValidation:
		if kind == KindConflict && op == "claim" {
			s.metrics.ClaimConflicts.Add(ctx, 1)
		}
		s.logger.InfoContext(ctx, op+" rejected", attrs...)
	case KindDatabase:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.WarnContext(ctx, op+" failed", attrs...)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.ErrorContext(ctx, op+" failed", attrs...)
	}
}
