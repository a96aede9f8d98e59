package persistence_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/basket/taskcopilot/internal/persistence"
)

func TestClaim_SetsOwnershipAndLogs(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	task := mustCreateTask(t, store, persistence.CreateTaskInput{Title: "write parser"})

	claimed, err := store.Claim(ctx, task.ID, "me")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != persistence.TaskStatusInProgress {
		t.Fatalf("expected in_progress, got %s", claimed.Status)
	}
	if claimed.ClaimedBy == nil || *claimed.ClaimedBy != "me" || claimed.ClaimedAt == nil {
		t.Fatalf("claim fields not set together: by=%v at=%v", claimed.ClaimedBy, claimed.ClaimedAt)
	}
	if claimed.Agent == nil || *claimed.Agent != "me" {
		t.Fatalf("expected agent=me, got %v", claimed.Agent)
	}

	entries, err := store.ListLog(ctx, persistence.LogFilter{TaskID: &task.ID})
	if err != nil {
		t.Fatalf("list log: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != persistence.ActionClaimed {
		t.Fatalf("expected one claimed entry, got %+v", entries)
	}
	if entries[0].Details == nil || *entries[0].Details != "Claimed by me" {
		t.Fatalf("unexpected details: %v", entries[0].Details)
	}
}

func TestClaim_SecondAgentConflicts(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	task := mustCreateTask(t, store, persistence.CreateTaskInput{Title: "contested"})

	if _, err := store.Claim(ctx, task.ID, "me"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	_, err := store.Claim(ctx, task.ID, "qa")
	if !errors.Is(err, persistence.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	got, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ClaimedBy == nil || *got.ClaimedBy != "me" {
		t.Fatalf("losing claim changed owner: %v", got.ClaimedBy)
	}
	entries, _ := store.ListLog(ctx, persistence.LogFilter{TaskID: &task.ID})
	if len(entries) != 1 {
		t.Fatalf("rejected claim must not log, got %d entries", len(entries))
	}
}

func TestClaim_OwnerCannotReclaimInProgressTask(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	task := mustCreateTask(t, store, persistence.CreateTaskInput{Title: "already mine"})

	if _, err := store.Claim(ctx, task.ID, "me"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := store.Claim(ctx, task.ID, "me"); !errors.Is(err, persistence.ErrConflict) {
		t.Fatalf("expected ErrConflict for non-pending task, got %v", err)
	}
}

func TestClaim_RejectsNonPendingAndMissing(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	task := mustCreateTask(t, store, persistence.CreateTaskInput{Title: "done already"})
	done := persistence.TaskStatusCompleted
	if _, err := store.UpdateTask(ctx, task.ID, persistence.UpdateTaskInput{Status: &done}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if _, err := store.Claim(ctx, task.ID, "me"); !errors.Is(err, persistence.ErrConflict) {
		t.Fatalf("expected ErrConflict for completed task, got %v", err)
	}
	_, err := store.Claim(ctx, 9999, "me")
	if !errors.Is(err, persistence.ErrConflict) {
		t.Fatalf("expected ErrConflict for missing task, got %v", err)
	}
	if kind := persistence.Classify(err); kind != persistence.KindConflict {
		t.Fatalf("expected conflict kind for missing task, got %s", kind)
	}
	if _, err := store.Claim(ctx, task.ID, "  "); !errors.Is(err, persistence.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty agent, got %v", err)
	}
}

func TestClaim_ConcurrentProcessesExactlyOneWins(t *testing.T) {
	store, dbPath := openTestStore(t)
	ctx := context.Background()
	task := mustCreateTask(t, store, persistence.CreateTaskInput{Title: "race"})

	const contenders = 8
	stores := make([]*persistence.Store, contenders)
	for i := range stores {
		stores[i] = openPeer(t, dbPath)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
		other     []error
	)
	start := make(chan struct{})
	for i, s := range stores {
		wg.Add(1)
		go func(i int, s *persistence.Store) {
			defer wg.Done()
			<-start
			_, err := s.Claim(ctx, task.ID, string(rune('a'+i)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, persistence.ErrConflict):
				conflicts++
			default:
				other = append(other, err)
			}
		}(i, s)
	}
	close(start)
	wg.Wait()

	if len(other) > 0 {
		t.Fatalf("unexpected errors: %v", other)
	}
	if wins != 1 || conflicts != contenders-1 {
		t.Fatalf("expected 1 win and %d conflicts, got %d wins %d conflicts", contenders-1, wins, conflicts)
	}
	entries, err := store.ListLog(ctx, persistence.LogFilter{TaskID: &task.ID})
	if err != nil {
		t.Fatalf("list log: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one claim entry, got %d", len(entries))
	}
}

func TestRelease(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	task := mustCreateTask(t, store, persistence.CreateTaskInput{Title: "give back"})

	if _, err := store.Release(ctx, task.ID, "me"); !errors.Is(err, persistence.ErrConflict) {
		t.Fatalf("release of unclaimed task: expected ErrConflict, got %v", err)
	}
	if _, err := store.Release(ctx, 9999, "me"); !errors.Is(err, persistence.ErrConflict) {
		t.Fatalf("release of missing task: expected ErrConflict, got %v", err)
	}
	if _, err := store.Claim(ctx, task.ID, "me"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := store.Release(ctx, task.ID, "qa"); !errors.Is(err, persistence.ErrConflict) {
		t.Fatalf("release by non-owner: expected ErrConflict, got %v", err)
	}

	released, err := store.Release(ctx, task.ID, "me")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.Status != persistence.TaskStatusPending || released.ClaimedBy != nil || released.ClaimedAt != nil {
		t.Fatalf("release left claim state behind: %+v", released)
	}

	if _, err := store.Claim(ctx, task.ID, "qa"); err != nil {
		t.Fatalf("reclaim after release: %v", err)
	}
	entries, _ := store.ListLog(ctx, persistence.LogFilter{TaskID: &task.ID})
	if len(entries) != 3 || entries[1].Action != persistence.ActionReleased {
		t.Fatalf("expected claimed, released, claimed; got %+v", entries)
	}
}

func TestClaim_HeldWriteLockReportsBusy(t *testing.T) {
	_, dbPath := openTestStore(t)
	ctx := context.Background()
	store, err := persistence.Open(dbPath, persistence.Options{BusyTimeout: 100 * time.Millisecond, BusyRetries: -1})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	task := mustCreateTask(t, store, persistence.CreateTaskInput{Title: "locked out"})

	// Transactions begin immediate, so an open one holds the write lock.
	holder := openPeer(t, dbPath)
	tx, err := holder.DB().BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin holder tx: %v", err)
	}

	_, err = store.Claim(ctx, task.ID, "me")
	if !errors.Is(err, persistence.ErrBusy) {
		_ = tx.Rollback()
		t.Fatalf("expected ErrBusy while another connection writes, got %v", err)
	}
	kind := persistence.Classify(err)
	if kind != persistence.KindDatabase || kind.ExitCode() != 5 {
		_ = tx.Rollback()
		t.Fatalf("expected database kind with exit 5, got %s (%d)", kind, kind.ExitCode())
	}

	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback holder tx: %v", err)
	}
	claimed, err := store.Claim(ctx, task.ID, "me")
	if err != nil {
		t.Fatalf("claim after lock released: %v", err)
	}
	if claimed.ClaimedBy == nil || *claimed.ClaimedBy != "me" {
		t.Fatalf("expected claim by me, got %+v", claimed)
	}
}
