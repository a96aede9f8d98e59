package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/trace"

	tcotel "github.com/basket/taskcopilot/internal/otel"
)

const (
	// DirName is the per-project directory that holds the database.
	DirName = ".copilot"
	// FileName is the database file inside DirName.
	FileName = "tasks.db"

	defaultBusyTimeout     = 5 * time.Second
	defaultBusyRetries     = 3
	defaultInlineThreshold = 100 * 1024
)

// MetadataValidator checks task metadata before it is written.
type MetadataValidator interface {
	Validate(raw string) error
}

// Options tune a Store. The zero value is usable.
type Options struct {
	// BusyTimeout is handed to the driver; it waits this long on a locked
	// database before reporting busy.
	BusyTimeout time.Duration
	// BusyRetries bounds the retry loop around each write transaction.
	// Negative disables retries.
	BusyRetries int
	// InlineThreshold is the largest work product body kept in the row.
	InlineThreshold int
	// ContentDir receives work product bodies above InlineThreshold.
	// Defaults to "wp" next to the database file.
	ContentDir string

	Logger            *slog.Logger
	Tracer            trace.Tracer
	Metrics           *tcotel.Metrics
	MetadataValidator MetadataValidator
}

// Store is one process's handle on the shared task database. Several
// processes may open the same file; SQLite locking is the only coordination.
type Store struct {
	db   *sql.DB
	path string

	busyRetries     int
	inlineThreshold int
	contentDir      string

	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *tcotel.Metrics
	validator MetadataValidator
}

// querier is satisfied by *sql.DB and *sql.Tx so helpers run inside the
// caller's transaction scope.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DefaultPath returns the database location below dir.
func DefaultPath(dir string) string {
	return filepath.Join(dir, DirName, FileName)
}

func Open(path string, opts Options) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: database path is empty", ErrValidation)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w: %w", ErrStorage, err)
	}

	busyTimeout := opts.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = defaultBusyTimeout
	}
	// _txlock=immediate makes every BeginTx take the write lock up front, so
	// a read-then-write transaction can never be upgraded into a deadlock.
	dsn := fmt.Sprintf("%s?_busy_timeout=%d&_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL&_txlock=immediate",
		path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w: %w", ErrStorage, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{
		db:              db,
		path:            path,
		busyRetries:     opts.BusyRetries,
		inlineThreshold: opts.InlineThreshold,
		contentDir:      opts.ContentDir,
		logger:          opts.Logger,
		tracer:          opts.Tracer,
		metrics:         opts.Metrics,
		validator:       opts.MetadataValidator,
	}
	if s.busyRetries == 0 {
		s.busyRetries = defaultBusyRetries
	} else if s.busyRetries < 0 {
		s.busyRetries = 0
	}
	if s.inlineThreshold <= 0 {
		s.inlineThreshold = defaultInlineThreshold
	}
	if s.contentDir == "" {
		s.contentDir = filepath.Join(filepath.Dir(path), "wp")
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	s.logger = s.logger.With("component", "store")
	if s.tracer == nil || s.metrics == nil {
		p, err := tcotel.Init(context.Background(), tcotel.Config{})
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if s.tracer == nil {
			s.tracer = p.Tracer
		}
		if s.metrics == nil {
			s.metrics = p.Metrics
		}
	}

	ctx := context.Background()
	if err := s.configurePragmas(ctx); err != nil {
		_ = db.Close()
		return nil, wrapErr("configure database", err)
	}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, wrapErr("migrate schema", err)
	}
	return s, nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// Path is the database file this store was opened on.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	return s.db.Close()
}

// retryOnBusy retries f when SQLite returns BUSY or LOCKED, using exponential
// backoff with bounded jitter. The driver's busy timeout already waited once
// per attempt, so a handful of retries is enough.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// isSQLiteBusy checks if an error is a SQLite BUSY (5) or LOCKED (6) error.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBusy) {
		return true
	}
	if code, ok := sqliteCode(err); ok {
		return code == sqlite3.ErrBusy || code == sqlite3.ErrLocked
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "database schema is locked")
}

// withTx runs fn inside one immediate transaction, retrying the whole unit
// when the database stays busy. fn must be safe to re-run.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	attempt := 0
	err := retryOnBusy(ctx, s.busyRetries, func() error {
		if attempt > 0 {
			s.metrics.BusyRetries.Add(ctx, 1)
			s.logger.WarnContext(ctx, "database busy, retrying", "op", op, "attempt", attempt)
		}
		attempt++

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin %s tx: %w", op, err)
		}
		defer func() { _ = tx.Rollback() }()
		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s tx: %w", op, err)
		}
		return nil
	})
	if err != nil && isSQLiteBusy(err) && !errors.Is(err, ErrBusy) {
		return fmt.Errorf("%s: %w after %d attempts: %w", op, ErrBusy, attempt, err)
	}
	return wrapErr(op, err)
}

func (s *Store) configurePragmas(ctx context.Context) error {
	// The DSN sets these per connection; repeat them so an existing file
	// created by another tool is switched over too.
	pragma := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, q := range pragma {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	return retryOnBusy(ctx, s.busyRetries, func() error {
		return s.migrate(ctx)
	})
}

func (s *Store) migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var maxVersion int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&maxVersion); err != nil {
		return fmt.Errorf("read migration max version: %w", err)
	}
	if maxVersion > schemaVersionLatest {
		return fmt.Errorf("%w: db schema version %d is newer than supported %d", ErrStorage, maxVersion, schemaVersionLatest)
	}

	steps := []struct {
		version  int
		checksum string
		stmts    []string
	}{
		{schemaVersionV1, schemaChecksumV1, schemaV1},
		{schemaVersionV2, schemaChecksumV2, schemaV2},
	}
	for _, step := range steps {
		if step.version <= maxVersion {
			var existing string
			if err := tx.QueryRowContext(ctx, `SELECT checksum FROM schema_migrations WHERE version = ?;`, step.version).Scan(&existing); err != nil {
				return fmt.Errorf("read schema migration checksum: %w", err)
			}
			if existing != step.checksum {
				return fmt.Errorf("%w: schema checksum mismatch for version %d: got %q want %q", ErrStorage, step.version, existing, step.checksum)
			}
			continue
		}
		for _, stmt := range step.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply schema v%d: %w", step.version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO schema_migrations (version, checksum) VALUES (?, ?);
		`, step.version, step.checksum); err != nil {
			return fmt.Errorf("record schema v%d: %w", step.version, err)
		}
		s.logger.InfoContext(ctx, "schema migrated", "version", step.version, "checksum", step.checksum)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration tx: %w", err)
	}
	return nil
}

// SchemaVersion reports the highest applied migration.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&v); err != nil {
		return 0, wrapErr("read schema version", err)
	}
	return v, nil
}

// LatestSchemaVersion is the migration level this build writes.
func LatestSchemaVersion() int {
	return schemaVersionLatest
}

func nullableInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullableString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
