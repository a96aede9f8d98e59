// Package telemetry builds the structured logger every tc command writes to.
package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/basket/taskcopilot/internal/shared"
)

// LogFileName is the JSON-lines log kept next to the database.
const LogFileName = "tc.jsonl"

// NewLogger opens <dir>/logs/tc.jsonl for appending and returns a JSON
// logger over it. Callers add their own "component" attribute. With verbose
// set, records are mirrored to stderr so they never mix with command output.
func NewLogger(dir, level string, verbose bool) (*slog.Logger, io.Closer, error) {
	logDir := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, err
	}

	file, err := os.OpenFile(filepath.Join(logDir, LogFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}

	var w io.Writer = file
	if verbose {
		w = io.MultiWriter(os.Stderr, file)
	}
	return newLogger(w, level), file, nil
}

// Discard returns a logger for the part of a command that runs before the
// database, and with it the log directory, is known.
func Discard() *slog.Logger {
	return newLogger(io.Discard, "error")
}

func newLogger(w io.Writer, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "timestamp"
			}
			return a
		},
	})
	return slog.New(&contextHandler{Handler: handler})
}

// contextHandler stamps every record with the trace id and acting agent
// carried by the context it was logged with.
type contextHandler struct {
	slog.Handler
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(slog.String("trace_id", shared.TraceID(ctx)))
	if agent := shared.Agent(ctx); agent != "" {
		r.AddAttrs(slog.String("acting_agent", agent))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
