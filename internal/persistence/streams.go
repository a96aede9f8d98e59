package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Stream is a named line of work, usually one per worktree or agent team.
type Stream struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	PRDID        *int64       `json:"prd_id"`
	Status       StreamStatus `json:"status"`
	WorktreePath *string      `json:"worktree_path"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

const streamColumns = `id, name, prd_id, status, worktree_path, created_at, updated_at`

func scanStream(scanFn func(dest ...any) error, st *Stream) error {
	var prdID sql.NullInt64
	var worktree sql.NullString
	if err := scanFn(&st.ID, &st.Name, &prdID, &st.Status, &worktree, &st.CreatedAt, &st.UpdatedAt); err != nil {
		return err
	}
	st.PRDID = int64Ptr(prdID)
	st.WorktreePath = stringPtr(worktree)
	return nil
}

type CreateStreamInput struct {
	Name         string
	PRDID        *int64
	WorktreePath string
}

func (s *Store) CreateStream(ctx context.Context, in CreateStreamInput) (*Stream, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, fmt.Errorf("create stream: %w: name is required", ErrValidation)
	}
	if _, err := strconv.ParseInt(in.Name, 10, 64); err == nil {
		return nil, fmt.Errorf("create stream: %w: name %q is numeric and would shadow stream ids", ErrValidation, in.Name)
	}

	var stream *Stream
	err := s.withTx(ctx, "create stream", func(tx *sql.Tx) error {
		if err := requireRow(ctx, tx, "prds", "prd", in.PRDID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO streams (name, prd_id, worktree_path) VALUES (?, ?, ?);
		`, in.Name, nullableInt64(in.PRDID), nullableString(in.WorktreePath))
		if err != nil {
			if sentinelFor(err) == ErrValidation {
				return fmt.Errorf("%w: stream %q already exists", ErrValidation, in.Name)
			}
			return fmt.Errorf("insert stream: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("stream last insert id: %w", err)
		}
		stream, err = getStreamQ(ctx, tx, strconv.FormatInt(id, 10))
		return err
	})
	return stream, err
}

// getStreamQ resolves a stream by numeric id or by name.
func getStreamQ(ctx context.Context, q querier, ref string) (*Stream, error) {
	ref = strings.TrimSpace(ref)
	var row *sql.Row
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		row = q.QueryRowContext(ctx, `SELECT `+streamColumns+` FROM streams WHERE id = ?;`, id)
	} else {
		row = q.QueryRowContext(ctx, `SELECT `+streamColumns+` FROM streams WHERE name = ?;`, ref)
	}
	var st Stream
	err := scanStream(row.Scan, &st)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: stream %q", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("select stream %q: %w", ref, err)
	}
	return &st, nil
}

// GetStream looks a stream up by id or name.
func (s *Store) GetStream(ctx context.Context, ref string) (*Stream, error) {
	st, err := getStreamQ(ctx, s.db, ref)
	return st, wrapErr("get stream", err)
}

func (s *Store) ListStreams(ctx context.Context, status StreamStatus) ([]Stream, error) {
	query := `SELECT ` + streamColumns + ` FROM streams`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id ASC;`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list streams", err)
	}
	defer rows.Close()
	var out []Stream
	for rows.Next() {
		var st Stream
		if err := scanStream(rows.Scan, &st); err != nil {
			return nil, wrapErr("scan stream", err)
		}
		out = append(out, st)
	}
	return out, wrapErr("list streams", rows.Err())
}

func (s *Store) UpdateStreamStatus(ctx context.Context, ref string, status StreamStatus) (*Stream, error) {
	if _, err := ParseStreamStatus(string(status)); err != nil {
		return nil, fmt.Errorf("update stream: %w", err)
	}
	var stream *Stream
	err := s.withTx(ctx, "update stream", func(tx *sql.Tx) error {
		current, err := getStreamQ(ctx, tx, ref)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE streams SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;
		`, status, current.ID); err != nil {
			return fmt.Errorf("update stream %d: %w", current.ID, err)
		}
		stream, err = getStreamQ(ctx, tx, strconv.FormatInt(current.ID, 10))
		return err
	})
	return stream, err
}
