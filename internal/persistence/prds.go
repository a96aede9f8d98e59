package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PRD is a requirements document that groups streams and tasks.
type PRD struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Content     *string   `json:"content,omitempty"`
	Status      PRDStatus `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

const prdColumns = `id, title, description, content, status, created_at, updated_at`

func scanPRD(scanFn func(dest ...any) error, p *PRD) error {
	var description, content sql.NullString
	if err := scanFn(&p.ID, &p.Title, &description, &content, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return err
	}
	p.Description = stringPtr(description)
	p.Content = stringPtr(content)
	return nil
}

func getPRDQ(ctx context.Context, q querier, id int64) (*PRD, error) {
	var p PRD
	err := scanPRD(q.QueryRowContext(ctx, `SELECT `+prdColumns+` FROM prds WHERE id = ?;`, id).Scan, &p)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: prd %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("select prd %d: %w", id, err)
	}
	return &p, nil
}

type CreatePRDInput struct {
	Title       string
	Description string
	Content     string
}

func (s *Store) CreatePRD(ctx context.Context, in CreatePRDInput) (*PRD, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return nil, fmt.Errorf("create prd: %w: title is required", ErrValidation)
	}
	var prd *PRD
	err := s.withTx(ctx, "create prd", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO prds (title, description, content) VALUES (?, ?, ?);
		`, in.Title, nullableString(in.Description), nullableString(in.Content))
		if err != nil {
			return fmt.Errorf("insert prd: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("prd last insert id: %w", err)
		}
		prd, err = getPRDQ(ctx, tx, id)
		return err
	})
	return prd, err
}

func (s *Store) GetPRD(ctx context.Context, id int64) (*PRD, error) {
	p, err := getPRDQ(ctx, s.db, id)
	return p, wrapErr("get prd", err)
}

// ListPRDs returns PRDs newest first without their content. An empty status
// lists all of them.
func (s *Store) ListPRDs(ctx context.Context, status PRDStatus) ([]PRD, error) {
	query := `SELECT id, title, description, NULL, status, created_at, updated_at FROM prds`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id DESC;`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list prds", err)
	}
	defer rows.Close()
	var out []PRD
	for rows.Next() {
		var p PRD
		if err := scanPRD(rows.Scan, &p); err != nil {
			return nil, wrapErr("scan prd", err)
		}
		out = append(out, p)
	}
	return out, wrapErr("list prds", rows.Err())
}

type UpdatePRDInput struct {
	Title   *string
	Status  *PRDStatus
	Content *string
}

func (s *Store) UpdatePRD(ctx context.Context, id int64, in UpdatePRDInput) (*PRD, error) {
	sets := []string{"updated_at = CURRENT_TIMESTAMP"}
	var args []any
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, fmt.Errorf("update prd: %w: title cannot be empty", ErrValidation)
		}
		sets = append(sets, "title = ?")
		args = append(args, title)
	}
	if in.Status != nil {
		if _, err := ParsePRDStatus(string(*in.Status)); err != nil {
			return nil, fmt.Errorf("update prd: %w", err)
		}
		sets = append(sets, "status = ?")
		args = append(args, *in.Status)
	}
	if in.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, nullableString(*in.Content))
	}
	args = append(args, id)

	var prd *PRD
	err := s.withTx(ctx, "update prd", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE prds SET `+strings.Join(sets, ", ")+` WHERE id = ?;`, args...)
		if err != nil {
			return fmt.Errorf("update prd %d: %w", id, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("prd rows affected: %w", err)
		} else if n == 0 {
			return fmt.Errorf("%w: prd %d", ErrNotFound, id)
		}
		prd, err = getPRDQ(ctx, tx, id)
		return err
	})
	return prd, err
}
