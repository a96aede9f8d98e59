// Package config locates the task database and loads tc settings from
// defaults, <db dir>/config.yaml and TC_* environment variables, in that
// order.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/basket/taskcopilot/internal/otel"
)

const (
	// DirName holds the database, its logs and externally stored bodies.
	DirName = ".copilot"
	// DBFileName is the database file inside DirName.
	DBFileName = "tasks.db"
	// FileName is the optional settings file next to the database.
	FileName = "config.yaml"
)

// ErrNoDatabase is returned when no .copilot/tasks.db exists in the working
// directory or any of its parents.
var ErrNoDatabase = errors.New("no .copilot/tasks.db found (run `tc init`)")

type WorkProductsConfig struct {
	// InlineThresholdBytes is the largest body kept inside the database.
	InlineThresholdBytes int `yaml:"inline_threshold_bytes"`
	// Dir overrides where larger bodies are written. Relative paths are
	// resolved against the database directory.
	Dir string `yaml:"dir"`
}

type WatchConfig struct {
	RefreshSeconds int  `yaml:"refresh_seconds"`
	Compact        bool `yaml:"compact"`
	LogEntries     int  `yaml:"log_entries"`
	// FollowWrites refreshes the dashboard as soon as the database changes
	// instead of waiting for the next tick.
	FollowWrites *bool `yaml:"follow_writes,omitempty"`
}

type Config struct {
	// DBPath is the resolved database file; Dir is its directory.
	DBPath string `yaml:"-"`
	Dir    string `yaml:"-"`
	// FromFile is true when config.yaml existed and was parsed.
	FromFile bool `yaml:"-"`

	LogLevel      string `yaml:"log_level"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
	BusyRetries   int    `yaml:"busy_retries"`
	// Agent is the default agent name for claim, release and next.
	Agent string `yaml:"agent"`
	// MetadataSchema is a JSON Schema file that task metadata must satisfy.
	MetadataSchema string `yaml:"metadata_schema"`

	WorkProducts WorkProductsConfig `yaml:"work_products"`
	Watch        WatchConfig        `yaml:"watch"`
	OTel         otel.Config        `yaml:"otel"`
}

func defaultConfig() Config {
	follow := true
	return Config{
		LogLevel:      "info",
		BusyTimeoutMS: 5000,
		BusyRetries:   3,
		WorkProducts: WorkProductsConfig{
			InlineThresholdBytes: 100 * 1024,
		},
		Watch: WatchConfig{
			RefreshSeconds: 5,
			LogEntries:     10,
			FollowWrites:   &follow,
		},
		OTel: otel.Config{
			Exporter: "none",
		},
	}
}

// Default returns the built-in settings for the database at dbPath.
func Default(dbPath string) Config {
	cfg := defaultConfig()
	cfg.DBPath = dbPath
	cfg.Dir = filepath.Dir(dbPath)
	return cfg
}

// DBPathIn is where `tc init` puts the database below root.
func DBPathIn(root string) string {
	return filepath.Join(root, DirName, DBFileName)
}

// FindDBPath walks up from start looking for .copilot/tasks.db.
func FindDBPath(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", start, err)
	}
	for {
		candidate := DBPathIn(dir)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNoDatabase
		}
		dir = parent
	}
}

// ResolveDBPath picks the database for this invocation: an explicit flag,
// then TC_DB, then the nearest .copilot/tasks.db above the working directory.
func ResolveDBPath(flag string) (string, error) {
	if p := strings.TrimSpace(flag); p != "" {
		return filepath.Abs(p)
	}
	if p := strings.TrimSpace(os.Getenv("TC_DB")); p != "" {
		return filepath.Abs(p)
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("working directory: %w", err)
	}
	return FindDBPath(wd)
}

// ConfigPath is the settings file that belongs to the database in dir.
func ConfigPath(dir string) string {
	return filepath.Join(dir, FileName)
}

// Load builds the configuration for the database at dbPath.
func Load(dbPath string) (Config, error) {
	cfg := Default(dbPath)

	data, err := os.ReadFile(ConfigPath(cfg.Dir))
	switch {
	case err == nil:
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", FileName, err)
			}
		}
		cfg.FromFile = true
	case os.IsNotExist(err):
	default:
		return cfg, fmt.Errorf("read %s: %w", FileName, err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if raw := os.Getenv("TC_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("TC_AGENT"); raw != "" {
		cfg.Agent = raw
	}
	ints := []struct {
		name string
		dst  *int
	}{
		{"TC_BUSY_TIMEOUT_MS", &cfg.BusyTimeoutMS},
		{"TC_BUSY_RETRIES", &cfg.BusyRetries},
		{"TC_WATCH_REFRESH", &cfg.Watch.RefreshSeconds},
		{"TC_WP_INLINE_THRESHOLD", &cfg.WorkProducts.InlineThresholdBytes},
	}
	for _, e := range ints {
		raw := os.Getenv(e.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%s: %q is not an integer", e.name, raw)
		}
		*e.dst = v
	}
	if raw := os.Getenv("TC_OTEL_EXPORTER"); raw != "" {
		cfg.OTel.Enabled = raw != "none"
		cfg.OTel.Exporter = raw
	}
	if raw := os.Getenv("TC_OTEL_ENDPOINT"); raw != "" {
		cfg.OTel.Endpoint = raw
	}
	return nil
}

func normalize(cfg *Config) {
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.Agent = strings.TrimSpace(cfg.Agent)
	if cfg.Watch.RefreshSeconds == 0 {
		cfg.Watch.RefreshSeconds = 5
	}
	if cfg.Watch.LogEntries == 0 {
		cfg.Watch.LogEntries = 10
	}
	if cfg.Watch.FollowWrites == nil {
		follow := true
		cfg.Watch.FollowWrites = &follow
	}
	if cfg.WorkProducts.Dir != "" && !filepath.IsAbs(cfg.WorkProducts.Dir) {
		cfg.WorkProducts.Dir = filepath.Join(cfg.Dir, cfg.WorkProducts.Dir)
	}
	if cfg.MetadataSchema != "" && !filepath.IsAbs(cfg.MetadataSchema) {
		cfg.MetadataSchema = filepath.Join(cfg.Dir, cfg.MetadataSchema)
	}
	if cfg.OTel.ServiceName == "" {
		cfg.OTel.ServiceName = "tc"
	}
}

func validate(cfg Config) error {
	var errs []error
	switch cfg.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q must be debug, info, warn or error", cfg.LogLevel))
	}
	if cfg.BusyTimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("busy_timeout_ms must be >= 0, got %d", cfg.BusyTimeoutMS))
	}
	if cfg.BusyRetries < 0 || cfg.BusyRetries > 20 {
		errs = append(errs, fmt.Errorf("busy_retries must be between 0 and 20, got %d", cfg.BusyRetries))
	}
	if cfg.WorkProducts.InlineThresholdBytes < 1 {
		errs = append(errs, fmt.Errorf("work_products.inline_threshold_bytes must be positive, got %d", cfg.WorkProducts.InlineThresholdBytes))
	}
	if cfg.Watch.RefreshSeconds < 1 {
		errs = append(errs, fmt.Errorf("watch.refresh_seconds must be >= 1, got %d", cfg.Watch.RefreshSeconds))
	}
	if cfg.Watch.LogEntries < 0 {
		errs = append(errs, fmt.Errorf("watch.log_entries must be >= 0, got %d", cfg.Watch.LogEntries))
	}
	if cfg.OTel.SampleRate < 0 || cfg.OTel.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("otel.sample_rate must be within [0,1], got %v", cfg.OTel.SampleRate))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid %s: %w", FileName, errors.Join(errs...))
	}
	return nil
}

// BusyTimeout is the driver wait before SQLite reports busy.
func (c Config) BusyTimeout() time.Duration {
	return time.Duration(c.BusyTimeoutMS) * time.Millisecond
}

// StoreRetries converts BusyRetries to the store's convention, where zero
// means "use the default" and negative disables retrying.
func (c Config) StoreRetries() int {
	if c.BusyRetries == 0 {
		return -1
	}
	return c.BusyRetries
}

func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.Watch.RefreshSeconds) * time.Second
}

// Fingerprint identifies the effective settings, for doctor output.
func (c Config) Fingerprint() string {
	data, _ := yaml.Marshal(c)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
