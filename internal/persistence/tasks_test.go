package persistence_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/basket/taskcopilot/internal/persistence"
)

func TestCreateTask_DefaultsAndValidation(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	task := mustCreateTask(t, store, persistence.CreateTaskInput{Title: "  trimmed  "})
	if task.Title != "trimmed" || task.Status != persistence.TaskStatusPending || task.Priority != persistence.DefaultPriority {
		t.Fatalf("unexpected defaults: %+v", task)
	}
	if task.ClaimedBy != nil || task.ClaimedAt != nil {
		t.Fatal("new task must be unclaimed")
	}

	tests := []struct {
		name string
		in   persistence.CreateTaskInput
		want error
	}{
		{"empty title", persistence.CreateTaskInput{Title: " "}, persistence.ErrValidation},
		{"priority high", persistence.CreateTaskInput{Title: "x", Priority: priority(4)}, persistence.ErrValidation},
		{"priority low", persistence.CreateTaskInput{Title: "x", Priority: priority(-1)}, persistence.ErrValidation},
		{"bad metadata", persistence.CreateTaskInput{Title: "x", Metadata: "{nope"}, persistence.ErrValidation},
		{"missing stream", persistence.CreateTaskInput{Title: "x", StreamID: ptr(int64(77))}, persistence.ErrNotFound},
		{"missing prd", persistence.CreateTaskInput{Title: "x", PRDID: ptr(int64(77))}, persistence.ErrNotFound},
		{"missing parent", persistence.CreateTaskInput{Title: "x", ParentTaskID: ptr(int64(77))}, persistence.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := store.CreateTask(ctx, tt.in); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

type rejectAll struct{}

func (rejectAll) Validate(string) error { return errors.New("missing field owner") }

func TestCreateTask_MetadataValidator(t *testing.T) {
	dbPath := t.TempDir() + "/tasks.db"
	store, err := persistence.Open(dbPath, persistence.Options{MetadataValidator: rejectAll{}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	_, err = store.CreateTask(context.Background(), persistence.CreateTaskInput{Title: "x", Metadata: `{"a":1}`})
	if !errors.Is(err, persistence.ErrValidation) || !strings.Contains(err.Error(), "missing field owner") {
		t.Fatalf("expected validator error, got %v", err)
	}
	if _, err := store.CreateTask(context.Background(), persistence.CreateTaskInput{Title: "no metadata"}); err != nil {
		t.Fatalf("tasks without metadata skip the validator: %v", err)
	}
}

func TestListTasks_Filters(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	prd, err := store.CreatePRD(ctx, persistence.CreatePRDInput{Title: "Auth"})
	if err != nil {
		t.Fatalf("create prd: %v", err)
	}
	mustCreateTask(t, store, persistence.CreateTaskInput{Title: "a", Agent: "me", PRDID: &prd.ID})
	b := mustCreateTask(t, store, persistence.CreateTaskInput{Title: "b", Agent: "qa"})
	mustCreateTask(t, store, persistence.CreateTaskInput{Title: "c"})
	if _, err := store.Claim(ctx, b.ID, "qa"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	all, err := store.ListTasks(ctx, persistence.TaskFilter{})
	if err != nil || len(all) != 3 {
		t.Fatalf("list all = %d, %v", len(all), err)
	}
	inProgress, _ := store.ListTasks(ctx, persistence.TaskFilter{Status: persistence.TaskStatusInProgress})
	if len(inProgress) != 1 || inProgress[0].ID != b.ID {
		t.Fatalf("status filter: %+v", inProgress)
	}
	mine, _ := store.ListTasks(ctx, persistence.TaskFilter{Agent: "me"})
	if len(mine) != 1 || mine[0].Title != "a" {
		t.Fatalf("agent filter: %+v", mine)
	}
	byPRD, _ := store.ListTasks(ctx, persistence.TaskFilter{PRDID: &prd.ID})
	if len(byPRD) != 1 {
		t.Fatalf("prd filter: %+v", byPRD)
	}
	limited, _ := store.ListTasks(ctx, persistence.TaskFilter{Limit: 2})
	if len(limited) != 2 {
		t.Fatalf("limit: %d", len(limited))
	}
}

func TestUpdateTask_TransitionsAndCompletionLog(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	task := mustCreateTask(t, store, persistence.CreateTaskInput{Title: "ship it"})
	if _, err := store.Claim(ctx, task.ID, "me"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	done := persistence.TaskStatusCompleted
	updated, err := store.UpdateTask(ctx, task.ID, persistence.UpdateTaskInput{Status: &done, Priority: priority(0)})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if updated.Status != done || updated.Priority != 0 {
		t.Fatalf("unexpected task after update: %+v", updated)
	}
	if updated.ClaimedBy == nil || updated.ClaimedAt == nil {
		t.Fatal("update must not touch claim fields")
	}

	entries, _ := store.ListLog(ctx, persistence.LogFilter{TaskID: &task.ID})
	if len(entries) != 2 || entries[0].Action != persistence.ActionCompleted || entries[0].Agent != "me" {
		t.Fatalf("expected completed entry by me, got %+v", entries)
	}

	inProgress := persistence.TaskStatusInProgress
	if _, err := store.UpdateTask(ctx, task.ID, persistence.UpdateTaskInput{Status: &inProgress}); !errors.Is(err, persistence.ErrValidation) {
		t.Fatalf("completed -> in_progress: expected ErrValidation, got %v", err)
	}
	bogus := persistence.TaskStatus("archived")
	if _, err := store.UpdateTask(ctx, task.ID, persistence.UpdateTaskInput{Status: &bogus}); !errors.Is(err, persistence.ErrValidation) {
		t.Fatalf("unknown status: expected ErrValidation, got %v", err)
	}
	if _, err := store.UpdateTask(ctx, 9999, persistence.UpdateTaskInput{Status: &done}); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("missing task: expected ErrNotFound, got %v", err)
	}
}

func TestUpdateTask_CompletionWithoutAgentWritesNoLog(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	task := mustCreateTask(t, store, persistence.CreateTaskInput{Title: "orphan"})
	done := persistence.TaskStatusCompleted
	if _, err := store.UpdateTask(ctx, task.ID, persistence.UpdateTaskInput{Status: &done}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	entries, _ := store.ListLog(ctx, persistence.LogFilter{})
	if len(entries) != 0 {
		t.Fatalf("expected no log entries, got %+v", entries)
	}
}

func TestUpdateTask_CompletionCreditsPreviousAgent(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	done := persistence.TaskStatusCompleted

	owned := mustCreateTask(t, store, persistence.CreateTaskInput{Title: "owned", Agent: "alice"})
	updated, err := store.UpdateTask(ctx, owned.ID, persistence.UpdateTaskInput{Status: &done, Agent: ptr("bob")})
	if err != nil {
		t.Fatalf("complete and reassign: %v", err)
	}
	if updated.Agent == nil || *updated.Agent != "bob" {
		t.Fatalf("expected agent bob after update, got %v", updated.Agent)
	}
	entries, _ := store.ListLog(ctx, persistence.LogFilter{TaskID: &owned.ID})
	if len(entries) != 1 || entries[0].Action != persistence.ActionCompleted || entries[0].Agent != "alice" {
		t.Fatalf("expected completed entry by alice, got %+v", entries)
	}

	unowned := mustCreateTask(t, store, persistence.CreateTaskInput{Title: "unowned"})
	if _, err := store.UpdateTask(ctx, unowned.ID, persistence.UpdateTaskInput{Status: &done, Agent: ptr("bob")}); err != nil {
		t.Fatalf("complete unowned: %v", err)
	}
	entries, _ = store.ListLog(ctx, persistence.LogFilter{TaskID: &unowned.ID})
	if len(entries) != 0 {
		t.Fatalf("expected no entry for a task nobody held, got %+v", entries)
	}
}

func TestHandoff(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	task := mustCreateTask(t, store, persistence.CreateTaskInput{Title: "review"})
	if _, err := store.Claim(ctx, task.ID, "me"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	long := strings.Repeat("é", 250)
	handed, err := store.Handoff(ctx, persistence.HandoffInput{TaskID: task.ID, From: "me", To: "qa", Context: long})
	if err != nil {
		t.Fatalf("handoff: %v", err)
	}
	if handed.Agent == nil || *handed.Agent != "qa" {
		t.Fatalf("expected agent qa, got %v", handed.Agent)
	}
	if handed.ClaimedBy == nil || *handed.ClaimedBy != "me" {
		t.Fatalf("handoff must leave the claim alone, got %v", handed.ClaimedBy)
	}
	if _, err := store.Claim(ctx, task.ID, "qa"); !errors.Is(err, persistence.ErrConflict) {
		t.Fatalf("recipient claim while sender holds it: expected ErrConflict, got %v", err)
	}

	entries, _ := store.ListLog(ctx, persistence.LogFilter{Agent: "me", TaskID: &task.ID})
	if len(entries) != 2 || entries[0].Action != persistence.ActionHandoff {
		t.Fatalf("expected handoff entry, got %+v", entries)
	}
	want := "me -> qa: " + strings.Repeat("é", 200)
	if entries[0].Details == nil || *entries[0].Details != want {
		t.Fatalf("details not truncated to 200 runes")
	}

	if _, err := store.Handoff(ctx, persistence.HandoffInput{TaskID: task.ID, From: "me"}); !errors.Is(err, persistence.ErrValidation) {
		t.Fatalf("missing to: expected ErrValidation, got %v", err)
	}
	if _, err := store.Handoff(ctx, persistence.HandoffInput{TaskID: 9999, From: "me", To: "qa"}); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("missing task: expected ErrNotFound, got %v", err)
	}
}

func ptr[T any](v T) *T { return &v }
