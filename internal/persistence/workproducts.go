package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

const defaultSearchLimit = 10

// WorkProduct is an artifact an agent produced for a task. Large bodies live
// in a file below the content directory and Content is filled on read.
type WorkProduct struct {
	ID        int64     `json:"id"`
	TaskID    *int64    `json:"task_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Content   *string   `json:"content,omitempty"`
	FilePath  *string   `json:"file_path"`
	Agent     *string   `json:"agent"`
	CreatedAt time.Time `json:"created_at"`
	Snippet   string    `json:"snippet,omitempty"`
}

const wpColumns = `wp.id, wp.task_id, wp.type, wp.title, wp.content, wp.file_path, wp.agent, wp.created_at`

func scanWorkProduct(scanFn func(dest ...any) error, wp *WorkProduct, extra ...any) error {
	var taskID sql.NullInt64
	var content, filePath, agent sql.NullString
	dest := append([]any{&wp.ID, &taskID, &wp.Type, &wp.Title, &content, &filePath, &agent, &wp.CreatedAt}, extra...)
	if err := scanFn(dest...); err != nil {
		return err
	}
	wp.TaskID = int64Ptr(taskID)
	wp.Content = stringPtr(content)
	wp.FilePath = stringPtr(filePath)
	wp.Agent = stringPtr(agent)
	return nil
}

type StoreWorkProductInput struct {
	TaskID  int64
	Type    string
	Title   string
	Content string
	Agent   string
}

// StoreWorkProduct records an artifact. Bodies above the inline threshold
// are written to <content dir>/<id>.md and only the path is kept in the row.
func (s *Store) StoreWorkProduct(ctx context.Context, in StoreWorkProductInput) (*WorkProduct, error) {
	in.Type = strings.TrimSpace(in.Type)
	in.Title = strings.TrimSpace(in.Title)
	if in.Type == "" || in.Title == "" {
		return nil, fmt.Errorf("store work product: %w: type and title are required", ErrValidation)
	}
	external := len(in.Content) > s.inlineThreshold

	var (
		wp      *WorkProduct
		written string
	)
	err := s.withTx(ctx, "store work product", func(tx *sql.Tx) error {
		written = ""
		if err := requireRow(ctx, tx, "tasks", "task", &in.TaskID); err != nil {
			return err
		}
		var inline sql.NullString
		if !external {
			inline = sql.NullString{String: in.Content, Valid: true}
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO work_products (task_id, type, title, content, agent) VALUES (?, ?, ?, ?, ?);
		`, in.TaskID, in.Type, in.Title, inline, nullableString(in.Agent))
		if err != nil {
			return fmt.Errorf("insert work product: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("work product last insert id: %w", err)
		}
		if external {
			if err := os.MkdirAll(s.contentDir, 0o755); err != nil {
				return fmt.Errorf("%w: create content dir: %w", ErrStorage, err)
			}
			path := filepath.Join(s.contentDir, strconv.FormatInt(id, 10)+".md")
			if err := os.WriteFile(path, []byte(in.Content), 0o644); err != nil {
				return fmt.Errorf("%w: write work product body: %w", ErrStorage, err)
			}
			written = path
			if _, err := tx.ExecContext(ctx, `UPDATE work_products SET file_path = ? WHERE id = ?;`, path, id); err != nil {
				return fmt.Errorf("record work product path: %w", err)
			}
		}
		wp, err = getWorkProductQ(ctx, tx, id)
		return err
	})
	if err != nil {
		if written != "" {
			_ = os.Remove(written)
		}
		return nil, err
	}
	if external {
		body := in.Content
		wp.Content = &body
	}
	s.logger.DebugContext(ctx, "work product stored", "wp_id", wp.ID, "task_id", in.TaskID, "external", external)
	return wp, nil
}

func getWorkProductQ(ctx context.Context, q querier, id int64) (*WorkProduct, error) {
	var wp WorkProduct
	err := scanWorkProduct(q.QueryRowContext(ctx, `SELECT `+wpColumns+` FROM work_products wp WHERE wp.id = ?;`, id).Scan, &wp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: work product %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("select work product %d: %w", id, err)
	}
	return &wp, nil
}

// GetWorkProduct returns the artifact with its body, reading it back from
// disk when it was stored externally.
func (s *Store) GetWorkProduct(ctx context.Context, id int64) (*WorkProduct, error) {
	wp, err := getWorkProductQ(ctx, s.db, id)
	if err != nil {
		return nil, wrapErr("get work product", err)
	}
	if wp.FilePath != nil && wp.Content == nil {
		body, err := os.ReadFile(*wp.FilePath)
		if err != nil {
			s.logger.WarnContext(ctx, "work product body unreadable", "wp_id", id, "path", *wp.FilePath, "error", err)
			placeholder := fmt.Sprintf("[content file missing: %s]", *wp.FilePath)
			wp.Content = &placeholder
		} else {
			text := string(body)
			wp.Content = &text
		}
	}
	return wp, nil
}

type WorkProductFilter struct {
	TaskID *int64
	Type   string
	Agent  string
}

// ListWorkProducts lists artifacts newest first without their bodies.
func (s *Store) ListWorkProducts(ctx context.Context, f WorkProductFilter) ([]WorkProduct, error) {
	var (
		where []string
		args  []any
	)
	if f.TaskID != nil {
		where = append(where, "wp.task_id = ?")
		args = append(args, *f.TaskID)
	}
	if f.Type != "" {
		where = append(where, "wp.type = ?")
		args = append(args, f.Type)
	}
	if f.Agent != "" {
		where = append(where, "wp.agent = ?")
		args = append(args, f.Agent)
	}
	query := `SELECT ` + wpColumns + ` FROM work_products wp`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY wp.id DESC;`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list work products", err)
	}
	defer rows.Close()
	var out []WorkProduct
	for rows.Next() {
		var wp WorkProduct
		if err := scanWorkProduct(rows.Scan, &wp); err != nil {
			return nil, wrapErr("scan work product", err)
		}
		wp.Content = nil
		out = append(out, wp)
	}
	return out, wrapErr("list work products", rows.Err())
}

// SearchWorkProducts runs a full-text query over title, content, type and
// agent. Bodies stored externally are matched on their metadata only.
func (s *Store) SearchWorkProducts(ctx context.Context, query string, limit int) ([]WorkProduct, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search work products: %w: query is required", ErrValidation)
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+wpColumns+`, snippet(work_products_fts, '[', ']', '...', -1, 16)
		FROM work_products_fts
		JOIN work_products wp ON wp.id = work_products_fts.docid
		WHERE work_products_fts MATCH ?
		ORDER BY wp.id DESC
		LIMIT ?;
	`, query, limit)
	if err != nil {
		return nil, searchErr(err)
	}
	defer rows.Close()
	var out []WorkProduct
	for rows.Next() {
		var wp WorkProduct
		var snippet sql.NullString
		if err := scanWorkProduct(rows.Scan, &wp, &snippet); err != nil {
			return nil, wrapErr("scan search hit", err)
		}
		wp.Content = nil
		wp.Snippet = snippet.String
		out = append(out, wp)
	}
	if err := rows.Err(); err != nil {
		return nil, searchErr(err)
	}
	return out, nil
}

// searchErr reports malformed MATCH expressions as validation failures.
func searchErr(err error) error {
	if code, ok := sqliteCode(err); ok && code == sqlite3.ErrError {
		return fmt.Errorf("search work products: %w: %v", ErrValidation, err)
	}
	return wrapErr("search work products", err)
}
