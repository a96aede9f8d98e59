package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/basket/taskcopilot/internal/config"
)

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(config.ConfigPath(dir), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	dbPath := config.DBPathIn(t.TempDir())
	cfg, err := config.Load(dbPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.FromFile {
		t.Fatal("no config.yaml was written")
	}
	if cfg.Dir != filepath.Dir(dbPath) {
		t.Fatalf("Dir = %q", cfg.Dir)
	}
	if cfg.BusyTimeout() != 5*time.Second {
		t.Fatalf("BusyTimeout = %v", cfg.BusyTimeout())
	}
	if cfg.WorkProducts.InlineThresholdBytes != 100*1024 {
		t.Fatalf("inline threshold = %d", cfg.WorkProducts.InlineThresholdBytes)
	}
	if cfg.RefreshInterval() != 5*time.Second || cfg.Watch.LogEntries != 10 {
		t.Fatalf("watch defaults = %+v", cfg.Watch)
	}
	if cfg.Watch.FollowWrites == nil || !*cfg.Watch.FollowWrites {
		t.Fatal("follow_writes should default to true")
	}
	if cfg.OTel.Enabled {
		t.Fatal("otel must be off by default")
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	root := t.TempDir()
	dbPath := config.DBPathIn(root)
	writeConfig(t, filepath.Dir(dbPath), `
log_level: DEBUG
agent: builder
busy_retries: 7
metadata_schema: schema/task.json
work_products:
  inline_threshold_bytes: 2048
  dir: bodies
watch:
  refresh_seconds: 2
  compact: true
`)
	t.Setenv("TC_AGENT", "reviewer")
	t.Setenv("TC_BUSY_TIMEOUT_MS", "1500")

	cfg, err := config.Load(dbPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.FromFile {
		t.Fatal("expected FromFile")
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level not normalized: %q", cfg.LogLevel)
	}
	if cfg.Agent != "reviewer" {
		t.Fatalf("env should override file agent, got %q", cfg.Agent)
	}
	if cfg.BusyRetries != 7 || cfg.BusyTimeoutMS != 1500 {
		t.Fatalf("busy settings = %d retries, %dms", cfg.BusyRetries, cfg.BusyTimeoutMS)
	}
	if cfg.WorkProducts.Dir != filepath.Join(cfg.Dir, "bodies") {
		t.Fatalf("relative wp dir not resolved: %q", cfg.WorkProducts.Dir)
	}
	if cfg.MetadataSchema != filepath.Join(cfg.Dir, "schema", "task.json") {
		t.Fatalf("relative schema path not resolved: %q", cfg.MetadataSchema)
	}
	if !cfg.Watch.Compact || cfg.Watch.RefreshSeconds != 2 {
		t.Fatalf("watch = %+v", cfg.Watch)
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
		want string
	}{
		{name: "log level", body: "log_level: chatty\n", want: "log_level"},
		{name: "retries", body: "busy_retries: 99\n", want: "busy_retries"},
		{name: "refresh", body: "watch:\n  refresh_seconds: -1\n", want: "refresh_seconds"},
		{name: "sample rate", body: "otel:\n  sample_rate: 2\n", want: "sample_rate"},
		{name: "yaml", body: "log_level: [unterminated\n", want: "parse"},
		{name: "env int", env: map[string]string{"TC_BUSY_RETRIES": "lots"}, want: "TC_BUSY_RETRIES"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dbPath := config.DBPathIn(t.TempDir())
			if tt.body != "" {
				writeConfig(t, filepath.Dir(dbPath), tt.body)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.Load(dbPath)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestFindDBPath_WalksUp(t *testing.T) {
	root := t.TempDir()
	dbPath := config.DBPathIn(root)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(dbPath, nil, 0o644); err != nil {
		t.Fatalf("touch db: %v", err)
	}
	nested := filepath.Join(root, "src", "pkg", "deep")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir nested: %v", err)
	}

	got, err := config.FindDBPath(nested)
	if err != nil {
		t.Fatalf("FindDBPath: %v", err)
	}
	want, _ := filepath.EvalSymlinks(dbPath)
	gotReal, _ := filepath.EvalSymlinks(got)
	if gotReal != want {
		t.Fatalf("FindDBPath = %q, want %q", got, dbPath)
	}
}

func TestFindDBPath_NotFound(t *testing.T) {
	_, err := config.FindDBPath(t.TempDir())
	if !errors.Is(err, config.ErrNoDatabase) {
		t.Fatalf("expected ErrNoDatabase, got %v", err)
	}
}

func TestResolveDBPath_Precedence(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), "env.db")
	t.Setenv("TC_DB", envPath)

	got, err := config.ResolveDBPath("")
	if err != nil || got != envPath {
		t.Fatalf("env path: got %q, %v", got, err)
	}

	flagPath := filepath.Join(t.TempDir(), "flag.db")
	got, err = config.ResolveDBPath(flagPath)
	if err != nil || got != flagPath {
		t.Fatalf("flag path: got %q, %v", got, err)
	}
}

func TestStoreRetries(t *testing.T) {
	cfg := config.Default("/tmp/x/tasks.db")
	if cfg.StoreRetries() != 3 {
		t.Fatalf("StoreRetries = %d", cfg.StoreRetries())
	}
	cfg.BusyRetries = 0
	if cfg.StoreRetries() >= 0 {
		t.Fatalf("zero retries must disable retrying, got %d", cfg.StoreRetries())
	}
}
