package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/taskcopilot/internal/config"
	"github.com/basket/taskcopilot/internal/metadata"
	tcotel "github.com/basket/taskcopilot/internal/otel"
	"github.com/basket/taskcopilot/internal/persistence"
	"github.com/basket/taskcopilot/internal/printer"
	"github.com/basket/taskcopilot/internal/shared"
	"github.com/basket/taskcopilot/internal/telemetry"
)

// app holds what one invocation shares between commands. The store and
// everything around it are opened lazily so `tc version` and `tc db path`
// never touch the database.
type app struct {
	stdout, stderr io.Writer

	dbFlag  string
	jsonOut bool
	verbose bool

	printer   *printer.Printer
	cfg       config.Config
	logger    *slog.Logger
	logCloser io.Closer
	provider  *tcotel.Provider
	span      trace.Span
	store     *persistence.Store

	exitCode int
}

// openAt prepares logging, telemetry and the store for the database at
// dbPath and stores a span-carrying context on cmd.
func (a *app) openAt(cmd *cobra.Command, dbPath string) (*persistence.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	cfg, err := config.Load(dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", persistence.ErrValidation, err)
	}
	a.cfg = cfg

	logger, closer, err := telemetry.NewLogger(cfg.Dir, cfg.LogLevel, a.verbose)
	if err != nil {
		return nil, err
	}
	a.logger, a.logCloser = logger, closer

	ctx := cmd.Context()
	provider, err := tcotel.Init(ctx, cfg.OTel)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.provider = provider
	ctx, a.span = tcotel.StartCommandSpan(ctx, provider.Tracer, cmd.CommandPath())
	if cfg.Agent != "" {
		ctx = shared.WithAgent(ctx, cfg.Agent)
	}
	cmd.SetContext(ctx)

	opts := persistence.Options{
		BusyTimeout:     cfg.BusyTimeout(),
		BusyRetries:     cfg.StoreRetries(),
		InlineThreshold: cfg.WorkProducts.InlineThresholdBytes,
		ContentDir:      resolveIn(cfg.Dir, cfg.WorkProducts.Dir),
		Logger:          logger,
		Tracer:          provider.Tracer,
		Metrics:         provider.Metrics,
	}
	if cfg.MetadataSchema != "" {
		v, err := metadata.Load(resolveIn(cfg.Dir, cfg.MetadataSchema))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", persistence.ErrValidation, err)
		}
		opts.MetadataValidator = v
		logger.DebugContext(ctx, "metadata schema loaded", "component", "cli", "schema", v.Source())
	}

	store, err := persistence.Open(dbPath, opts)
	if err != nil {
		return nil, err
	}
	a.store = store
	logger.DebugContext(ctx, "store opened", "component", "cli", "path", dbPath, "command", cmd.CommandPath())
	return store, nil
}

// open finds an existing database; only `tc init` creates one.
func (a *app) open(cmd *cobra.Command) (*persistence.Store, error) {
	dbPath, err := a.resolveDB()
	if err != nil {
		return nil, err
	}
	return a.openAt(cmd, dbPath)
}

func (a *app) resolveDB() (string, error) {
	dbPath, err := config.ResolveDBPath(a.dbFlag)
	if err != nil {
		return "", fmt.Errorf("%w: %w", persistence.ErrStorage, err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		return "", fmt.Errorf("%w: %w: %s", persistence.ErrStorage, config.ErrNoDatabase, dbPath)
	}
	return dbPath, nil
}

func (a *app) close(ctx context.Context) {
	if a.span != nil {
		a.span.End()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.provider != nil {
		if err := a.provider.Shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown failed", "component", "cli", "error", err)
		}
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

// agent picks the acting agent: the flag, then the configured default
// (which TC_AGENT overrides).
func (a *app) agent(flag string) (string, error) {
	if s := strings.TrimSpace(flag); s != "" {
		return s, nil
	}
	if a.cfg.Agent != "" {
		return a.cfg.Agent, nil
	}
	return "", fmt.Errorf("%w: --agent is required (or set TC_AGENT)", persistence.ErrValidation)
}

// streamRef resolves a --stream value given as id or name.
func (a *app) streamRef(cmd *cobra.Command, ref string) (*int64, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, nil
	}
	st, err := a.store.GetStream(cmd.Context(), ref)
	if err != nil {
		return nil, err
	}
	return &st.ID, nil
}

func resolveIn(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

func parseID(kind, raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(raw), "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s id %q is not a positive integer", persistence.ErrValidation, kind, raw)
	}
	return id, nil
}

// optionalID returns nil for an unset flag.
func optionalID(cmd *cobra.Command, flag string, v int64) *int64 {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &v
}
