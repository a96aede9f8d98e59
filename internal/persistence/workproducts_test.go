package persistence_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/taskcopilot/internal/persistence"
)

func openSmallInlineStore(t *testing.T) *persistence.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := persistence.Open(filepath.Join(dir, "tasks.db"), persistence.Options{
		InlineThreshold: 64,
		ContentDir:      filepath.Join(dir, "wp"),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreWorkProduct_InlineAndExternal(t *testing.T) {
	store := openSmallInlineStore(t)
	ctx := context.Background()
	task := mustCreateTask(t, store, persistence.CreateTaskInput{Title: "design"})

	small, err := store.StoreWorkProduct(ctx, persistence.StoreWorkProductInput{
		TaskID: task.ID, Type: "note", Title: "short", Content: "tiny body", Agent: "me",
	})
	if err != nil {
		t.Fatalf("store small: %v", err)
	}
	if small.FilePath != nil {
		t.Fatalf("small body should be inline, got file %s", *small.FilePath)
	}

	body := strings.Repeat("architecture decision record\n", 10)
	big, err := store.StoreWorkProduct(ctx, persistence.StoreWorkProductInput{
		TaskID: task.ID, Type: "adr", Title: "big", Content: body, Agent: "me",
	})
	if err != nil {
		t.Fatalf("store big: %v", err)
	}
	if big.FilePath == nil {
		t.Fatal("large body should be stored externally")
	}
	onDisk, err := os.ReadFile(*big.FilePath)
	if err != nil || string(onDisk) != body {
		t.Fatalf("external file = %q, %v", onDisk, err)
	}

	got, err := store.GetWorkProduct(ctx, big.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content == nil || *got.Content != body {
		t.Fatal("get should read the body back from disk")
	}

	if err := os.Remove(*big.FilePath); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, err = store.GetWorkProduct(ctx, big.ID)
	if err != nil {
		t.Fatalf("get with missing file: %v", err)
	}
	if got.Content == nil || !strings.HasPrefix(*got.Content, "[content file missing: ") {
		t.Fatalf("expected placeholder, got %v", got.Content)
	}

	list, err := store.ListWorkProducts(ctx, persistence.WorkProductFilter{TaskID: &task.ID})
	if err != nil || len(list) != 2 || list[0].ID != big.ID || list[0].Content != nil {
		t.Fatalf("list = %+v, %v", list, err)
	}
	notes, _ := store.ListWorkProducts(ctx, persistence.WorkProductFilter{Type: "note"})
	if len(notes) != 1 {
		t.Fatalf("type filter: %+v", notes)
	}
}

func TestStoreWorkProduct_Validation(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	if _, err := store.StoreWorkProduct(ctx, persistence.StoreWorkProductInput{TaskID: 1, Type: "note"}); !errors.Is(err, persistence.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := store.StoreWorkProduct(ctx, persistence.StoreWorkProductInput{TaskID: 9999, Type: "note", Title: "x"}); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetWorkProduct(ctx, 9999); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSearchWorkProducts(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	task := mustCreateTask(t, store, persistence.CreateTaskInput{Title: "research"})
	for _, in := range []persistence.StoreWorkProductInput{
		{TaskID: task.ID, Type: "note", Title: "Caching plan", Content: "use a write-through cache for sessions"},
		{TaskID: task.ID, Type: "note", Title: "Login flow", Content: "oauth device grant"},
	} {
		if _, err := store.StoreWorkProduct(ctx, in); err != nil {
			t.Fatalf("store: %v", err)
		}
	}

	hits, err := store.SearchWorkProducts(ctx, "cache", 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].Title != "Caching plan" {
		t.Fatalf("unexpected hits %+v", hits)
	}
	if !strings.Contains(hits[0].Snippet, "[cache]") {
		t.Fatalf("snippet should mark the match, got %q", hits[0].Snippet)
	}

	if _, err := store.SearchWorkProducts(ctx, "  ", 0); !errors.Is(err, persistence.ErrValidation) {
		t.Fatalf("empty query: expected ErrValidation, got %v", err)
	}
}
