package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeEvent reports a write to the database, its WAL or config.yaml.
type ChangeEvent struct {
	Path string
	Op   fsnotify.Op
}

// Watcher follows writes made by any process to the files of one database.
// Bursts are coalesced so a single transaction yields one event.
type Watcher struct {
	dir      string
	names    map[string]struct{}
	debounce time.Duration
	logger   *slog.Logger
	events   chan ChangeEvent
}

func NewWatcher(dbPath string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	base := filepath.Base(dbPath)
	return &Watcher{
		dir: filepath.Dir(dbPath),
		names: map[string]struct{}{
			base:          {},
			base + "-wal": {},
			FileName:      {},
		},
		debounce: 250 * time.Millisecond,
		logger:   logger.With("component", "watcher"),
		events:   make(chan ChangeEvent, 1),
	}
}

func (w *Watcher) Events() <-chan ChangeEvent {
	return w.events
}

// Start watches the database directory until ctx is done. The directory is
// watched rather than the files because the WAL comes and goes.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return err
	}

	go func() {
		defer fsw.Close()
		defer close(w.events)
		var (
			pending *ChangeEvent
			timer   <-chan time.Time
		)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if _, ok := w.names[filepath.Base(ev.Name)]; !ok {
					continue
				}
				if pending == nil {
					timer = time.After(w.debounce)
				}
				pending = &ChangeEvent{Path: ev.Name, Op: ev.Op}
			case <-timer:
				if pending != nil {
					select {
					case w.events <- *pending:
					default:
					}
					w.logger.Debug("database files changed", "path", pending.Path, "op", pending.Op.String())
				}
				pending, timer = nil, nil
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("watcher error", "error", err)
			}
		}
	}()
	return nil
}
