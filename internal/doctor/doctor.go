package doctor

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/basket/taskcopilot/internal/config"
	"github.com/basket/taskcopilot/internal/persistence"
)

const (
	StatusPass = "PASS"
	StatusWarn = "WARN"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Database  string        `json:"database,omitempty"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Healthy reports whether no check failed. Warnings do not count.
func (d Diagnosis) Healthy() bool {
	for _, r := range d.Results {
		if r.Status == StatusFail {
			return false
		}
	}
	return true
}

// Inputs is what the caller could resolve before diagnosing. Open is only
// called when the configuration loaded.
type Inputs struct {
	Config    *config.Config
	ConfigErr error
	Open      func(ctx context.Context) (*persistence.Store, error)
	Version   string
}

type storeCheck func(ctx context.Context, s *persistence.Store) CheckResult

// Run executes all diagnostic checks. Checks that need the database are
// skipped when it cannot be opened.
func Run(ctx context.Context, in Inputs) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: in.Version,
		},
	}
	if in.Config != nil {
		d.Database = in.Config.DBPath
	}

	d.Results = append(d.Results, checkConfig(in.Config, in.ConfigErr))

	storeChecks := []struct {
		name string
		fn   storeCheck
	}{
		{"Journal mode", checkJournalMode},
		{"Integrity", checkIntegrity},
		{"Schema", checkSchema},
		{"Claim invariant", checkClaims},
		{"Dependency cycles", checkCycles},
	}

	store, dbResult := openDatabase(ctx, in)
	d.Results = append(d.Results, dbResult)
	if store == nil {
		for _, c := range storeChecks {
			d.Results = append(d.Results, CheckResult{Name: c.name, Status: StatusSkip, Message: "Database unavailable"})
		}
		return d
	}
	defer store.Close()

	for _, c := range storeChecks {
		d.Results = append(d.Results, c.fn(ctx, store))
	}
	return d
}

func checkConfig(cfg *config.Config, err error) CheckResult {
	if err != nil {
		return CheckResult{Name: "Config", Status: StatusFail, Message: "Configuration invalid", Detail: err.Error()}
	}
	if cfg == nil {
		return CheckResult{Name: "Config", Status: StatusFail, Message: "Configuration not loaded"}
	}
	if !cfg.FromFile {
		return CheckResult{Name: "Config", Status: StatusPass, Message: "Using defaults (no config.yaml)", Detail: "fingerprint " + cfg.Fingerprint()}
	}
	return CheckResult{
		Name:    "Config",
		Status:  StatusPass,
		Message: fmt.Sprintf("Loaded from %s", config.ConfigPath(cfg.Dir)),
		Detail:  "fingerprint " + cfg.Fingerprint(),
	}
}

func openDatabase(ctx context.Context, in Inputs) (*persistence.Store, CheckResult) {
	if in.Config == nil || in.ConfigErr != nil || in.Open == nil {
		return nil, CheckResult{Name: "Database", Status: StatusSkip, Message: "Config missing"}
	}
	if _, err := os.Stat(in.Config.DBPath); err != nil {
		return nil, CheckResult{Name: "Database", Status: StatusFail, Message: fmt.Sprintf("Cannot stat %s", in.Config.DBPath), Detail: err.Error()}
	}
	store, err := in.Open(ctx)
	if err != nil {
		return nil, CheckResult{Name: "Database", Status: StatusFail, Message: fmt.Sprintf("Open failed: %v", err)}
	}
	return store, CheckResult{Name: "Database", Status: StatusPass, Message: fmt.Sprintf("Opened %s", store.Path())}
}

func checkJournalMode(ctx context.Context, s *persistence.Store) CheckResult {
	mode, err := s.JournalMode(ctx)
	if err != nil {
		return CheckResult{Name: "Journal mode", Status: StatusFail, Message: fmt.Sprintf("Query failed: %v", err)}
	}
	if !strings.EqualFold(mode, "wal") {
		return CheckResult{
			Name:    "Journal mode",
			Status:  StatusWarn,
			Message: fmt.Sprintf("journal_mode=%s", mode),
			Detail:  "Concurrent agents need WAL; the filesystem may not support it",
		}
	}
	return CheckResult{Name: "Journal mode", Status: StatusPass, Message: "journal_mode=wal"}
}

func checkIntegrity(ctx context.Context, s *persistence.Store) CheckResult {
	res, err := s.IntegrityCheck(ctx)
	if err != nil {
		return CheckResult{Name: "Integrity", Status: StatusFail, Message: fmt.Sprintf("integrity_check failed: %v", err)}
	}
	if res != "ok" {
		return CheckResult{Name: "Integrity", Status: StatusFail, Message: "integrity_check reported damage", Detail: res}
	}
	return CheckResult{Name: "Integrity", Status: StatusPass, Message: "integrity_check ok"}
}

func checkSchema(ctx context.Context, s *persistence.Store) CheckResult {
	v, err := s.SchemaVersion(ctx)
	if err != nil {
		return CheckResult{Name: "Schema", Status: StatusFail, Message: fmt.Sprintf("Query failed: %v", err)}
	}
	if v != persistence.LatestSchemaVersion() {
		return CheckResult{Name: "Schema", Status: StatusWarn, Message: fmt.Sprintf("version %d, expected %d", v, persistence.LatestSchemaVersion())}
	}
	return CheckResult{Name: "Schema", Status: StatusPass, Message: fmt.Sprintf("version %d", v)}
}

func checkClaims(ctx context.Context, s *persistence.Store) CheckResult {
	bad, err := s.ClaimInvariantViolations(ctx)
	if err != nil {
		return CheckResult{Name: "Claim invariant", Status: StatusFail, Message: fmt.Sprintf("Query failed: %v", err)}
	}
	if len(bad) > 0 {
		return CheckResult{
			Name:    "Claim invariant",
			Status:  StatusFail,
			Message: fmt.Sprintf("%d task(s) with claimed_by and claimed_at out of step", len(bad)),
			Detail:  fmt.Sprintf("task ids %v", bad),
		}
	}
	return CheckResult{Name: "Claim invariant", Status: StatusPass, Message: "claimed_by and claimed_at agree on every task"}
}

func checkCycles(ctx context.Context, s *persistence.Store) CheckResult {
	stuck, err := s.CyclicTasks(ctx)
	if err != nil {
		return CheckResult{Name: "Dependency cycles", Status: StatusFail, Message: fmt.Sprintf("Query failed: %v", err)}
	}
	if len(stuck) > 0 {
		return CheckResult{
			Name:    "Dependency cycles",
			Status:  StatusFail,
			Message: fmt.Sprintf("%d task(s) can never become eligible", len(stuck)),
			Detail:  fmt.Sprintf("task ids %v; remove an edge with tc task deps remove", stuck),
		}
	}
	return CheckResult{Name: "Dependency cycles", Status: StatusPass, Message: "dependency graph is acyclic"}
}
