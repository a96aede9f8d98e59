package doctor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/basket/taskcopilot/internal/config"
	"github.com/basket/taskcopilot/internal/persistence"
)

func setup(t *testing.T) (config.Config, func(context.Context) (*persistence.Store, error)) {
	t.Helper()
	dbPath := config.DBPathIn(t.TempDir())
	store, err := persistence.Open(dbPath, persistence.Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = store.Close()
	cfg := config.Default(dbPath)
	open := func(context.Context) (*persistence.Store, error) {
		return persistence.Open(dbPath, persistence.Options{})
	}
	return cfg, open
}

func resultByName(t *testing.T, d Diagnosis, name string) CheckResult {
	t.Helper()
	for _, r := range d.Results {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("no %q result in %+v", name, d.Results)
	return CheckResult{}
}

func TestRun_HealthyDatabase(t *testing.T) {
	cfg, open := setup(t)
	d := Run(context.Background(), Inputs{Config: &cfg, Open: open, Version: "test"})

	if !d.Healthy() {
		t.Fatalf("expected healthy, got %+v", d.Results)
	}
	if len(d.Results) != 7 {
		t.Fatalf("expected 7 checks, got %d", len(d.Results))
	}
	for _, r := range d.Results {
		if r.Status != StatusPass {
			t.Errorf("%s: %s %s", r.Name, r.Status, r.Message)
		}
	}
	if d.System.Version != "test" || d.Database != cfg.DBPath {
		t.Fatalf("unexpected header %+v %s", d.System, d.Database)
	}
}

func TestRun_ConfigErrorSkipsDatabase(t *testing.T) {
	d := Run(context.Background(), Inputs{ConfigErr: errors.New("busy_timeout_ms must be >= 0")})
	if d.Healthy() {
		t.Fatal("config error must fail the diagnosis")
	}
	if r := resultByName(t, d, "Config"); r.Status != StatusFail {
		t.Fatalf("config = %+v", r)
	}
	if r := resultByName(t, d, "Integrity"); r.Status != StatusSkip {
		t.Fatalf("integrity = %+v", r)
	}
}

func TestRun_MissingDatabaseFails(t *testing.T) {
	cfg := config.Default(filepath.Join(t.TempDir(), "nope", "tasks.db"))
	d := Run(context.Background(), Inputs{Config: &cfg, Open: func(context.Context) (*persistence.Store, error) {
		t.Fatal("open must not be called for a missing file")
		return nil, nil
	}})
	if r := resultByName(t, d, "Database"); r.Status != StatusFail {
		t.Fatalf("database = %+v", r)
	}
}

func TestRun_DetectsDamage(t *testing.T) {
	cfg, open := setup(t)
	ctx := context.Background()
	store, err := open(ctx)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	a, _ := store.CreateTask(ctx, persistence.CreateTaskInput{Title: "a"})
	b, _ := store.CreateTask(ctx, persistence.CreateTaskInput{Title: "b"})
	if err := store.AddDependency(ctx, b.ID, a.ID); err != nil {
		t.Fatalf("dep: %v", err)
	}
	db := store.DB()
	// Simulate writes from a tool that bypasses the store.
	stmts := []string{
		`INSERT INTO task_dependencies (task_id, depends_on) VALUES (1, 2);`,
		`DROP TRIGGER tasks_claim_pair_upd;`,
		`UPDATE tasks SET claimed_by = 'ghost' WHERE id = 2;`,
	}
	for _, q := range stmts {
		if _, err := db.Exec(q); err != nil {
			t.Fatalf("%s: %v", q, err)
		}
	}
	_ = store.Close()

	d := Run(ctx, Inputs{Config: &cfg, Open: open})
	if d.Healthy() {
		t.Fatal("expected unhealthy diagnosis")
	}
	if r := resultByName(t, d, "Claim invariant"); r.Status != StatusFail || r.Detail != "task ids [2]" {
		t.Fatalf("claims = %+v", r)
	}
	if r := resultByName(t, d, "Dependency cycles"); r.Status != StatusFail {
		t.Fatalf("cycles = %+v", r)
	}
}
