package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/taskcopilot/internal/config"
)

func TestWatcher_DetectsWALWrite(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, config.DBFileName)
	if err := os.WriteFile(dbPath, nil, 0o644); err != nil {
		t.Fatalf("write db: %v", err)
	}

	w := config.NewWatcher(dbPath, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	walPath := dbPath + "-wal"
	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	_ = os.WriteFile(walPath, []byte("frame"), 0o644)

	for {
		select {
		case ev := <-w.Events():
			if filepath.Base(ev.Path) != config.DBFileName+"-wal" {
				t.Fatalf("unexpected event path %s", ev.Path)
			}
			return
		case <-tick.C:
			// Re-write in case the watch was not registered yet.
			_ = os.WriteFile(walPath, []byte("frame"), 0o644)
		case <-deadline:
			t.Fatal("timed out waiting for WAL change event")
		}
	}
}

func TestWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, config.DBFileName)

	w := config.NewWatcher(dbPath, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	for i := 0; i < 5; i++ {
		_ = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)
		time.Sleep(20 * time.Millisecond)
	}
	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event for %s", ev.Path)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatcher_ClosesEventsOnCancel(t *testing.T) {
	dir := t.TempDir()
	w := config.NewWatcher(filepath.Join(dir, config.DBFileName), nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	cancel()
	select {
	case _, ok := <-w.Events():
		if ok {
			t.Fatal("expected closed channel after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed after cancel")
	}
}
