package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	tcotel "github.com/basket/taskcopilot/internal/otel"
)

// handoffContextLimit caps the free-text context kept in the log, in runes.
const handoffContextLimit = 200

type HandoffInput struct {
	TaskID  int64
	From    string
	To      string
	Context string
}

// Handoff reassigns a task from one agent to another and records why. The
// claim fields are left alone, so an in-progress task stays claimed by From
// and a Claim by To conflicts until From releases it.
func (s *Store) Handoff(ctx context.Context, in HandoffInput) (*Task, error) {
	in.From = strings.TrimSpace(in.From)
	in.To = strings.TrimSpace(in.To)
	if in.From == "" || in.To == "" {
		return nil, fmt.Errorf("handoff: %w: from and to agents are required", ErrValidation)
	}

	ctx, span := tcotel.StartSpan(ctx, s.tracer, "tc.task.handoff",
		tcotel.AttrTaskID.Int64(in.TaskID),
		tcotel.AttrAgent.String(in.From),
		tcotel.AttrTargetAgent.String(in.To),
	)
	defer span.End()

	details := fmt.Sprintf("%s -> %s: %s", in.From, in.To, truncateRunes(in.Context, handoffContextLimit))
	var task *Task
	err := s.withTx(ctx, "handoff", func(tx *sql.Tx) error {
		current, err := getTaskQ(ctx, tx, in.TaskID)
		if err != nil {
			return err
		}
		if err := s.appendLogTx(ctx, tx, LogEntry{
			Agent:    in.From,
			StreamID: current.StreamID,
			TaskID:   &current.ID,
			Action:   ActionHandoff,
			Details:  &details,
		}); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET agent = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;
		`, in.To, in.TaskID); err != nil {
			return fmt.Errorf("reassign task: %w", err)
		}
		task, err = getTaskQ(ctx, tx, in.TaskID)
		return err
	})
	if err != nil {
		s.recordFailure(ctx, span, "handoff", in.TaskID, in.From, err)
		return nil, err
	}
	s.logger.InfoContext(ctx, "task handed off", "task_id", in.TaskID, "from", in.From, "to", in.To)
	return task, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
