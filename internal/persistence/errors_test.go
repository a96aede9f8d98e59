package persistence

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/mattn/go-sqlite3"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
		exit int
	}{
		{"nil", nil, KindNone, 0},
		{"plain", errors.New("boom"), KindGeneric, 1},
		{"not found", fmt.Errorf("get task: %w: task 9", ErrNotFound), KindNotFound, 2},
		{"conflict", fmt.Errorf("claim: %w", ErrConflict), KindConflict, 3},
		{"validation", ErrValidation, KindValidation, 4},
		{"busy", fmt.Errorf("x: %w", ErrBusy), KindDatabase, 5},
		{"storage", ErrStorage, KindDatabase, 5},
		{"raw busy", sqlite3.Error{Code: sqlite3.ErrBusy}, KindDatabase, 5},
		{"raw corrupt", sqlite3.Error{Code: sqlite3.ErrCorrupt}, KindDatabase, 5},
		{"raw unique", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, KindValidation, 4},
		{"raw fk", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintForeignKey}, KindNotFound, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got != tt.want {
				t.Fatalf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
			if got.ExitCode() != tt.exit {
				t.Fatalf("exit code = %d, want %d", got.ExitCode(), tt.exit)
			}
		})
	}
}

func TestWrapErr_AttachesSentinel(t *testing.T) {
	raw := sqlite3.Error{Code: sqlite3.ErrFull}
	err := wrapErr("insert task", raw)
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage in chain: %v", err)
	}
	var sqlErr sqlite3.Error
	if !errors.As(err, &sqlErr) || sqlErr.Code != sqlite3.ErrFull {
		t.Fatalf("driver error lost from chain: %v", err)
	}

	wrapped := wrapErr("claim", fmt.Errorf("%w: task 3", ErrConflict))
	if !errors.Is(wrapped, ErrConflict) || errors.Is(wrapped, ErrStorage) {
		t.Fatalf("sentinel errors should pass through unchanged: %v", wrapped)
	}

	if wrapErr("noop", nil) != nil {
		t.Fatal("wrapErr(nil) must be nil")
	}
	if !errors.Is(wrapErr("list", context.Canceled), context.Canceled) {
		t.Fatal("context errors must stay matchable")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		ok       bool
	}{
		{TaskStatusPending, TaskStatusInProgress, true},
		{TaskStatusPending, TaskStatusPending, true},
		{TaskStatusInProgress, TaskStatusCompleted, true},
		{TaskStatusBlocked, TaskStatusPending, true},
		{TaskStatusCompleted, TaskStatusPending, true},
		{TaskStatusCompleted, TaskStatusInProgress, false},
		{TaskStatusCancelled, TaskStatusCompleted, false},
		{TaskStatus("archived"), TaskStatusPending, false},
	}
	for _, tt := range tests {
		if got := canTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("canTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("héllo", 2); got != "hé" {
		t.Fatalf("truncateRunes = %q", got)
	}
	if got := truncateRunes("short", 200); got != "short" {
		t.Fatalf("truncateRunes = %q", got)
	}
}
