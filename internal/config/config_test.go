package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oxbowlabs/steward/internal/work"
)

func validConfig() Config {
	cfg := Default()
	cfg.ConcurrencyPerRole = map[string]int{"dev": 2, "review": 1}
	cfg.LabelToRoleMap = map[string]RouteTarget{
		"bug": {Role: "dev", Priority: work.P1},
	}
	return cfg
}

func TestDefaultSLATable(t *testing.T) {
	cfg := Default()
	cases := []struct {
		p    work.Priority
		want time.Duration
		ok   bool
	}{
		{work.P0, time.Hour, true},
		{work.P1, 4 * time.Hour, true},
		{work.P2, 24 * time.Hour, true},
		{work.P3, 72 * time.Hour, true},
		{work.P4, 0, false},
	}
	for _, c := range cases {
		got, ok := cfg.SLA(c.p)
		if ok != c.ok || got != c.want {
			t.Fatalf("SLA(%s) = %v,%v want %v,%v", c.p, got, ok, c.want, c.ok)
		}
	}
}

func TestValidateAcceptsGoodConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejectsUnknownRole(t *testing.T) {
	cfg := validConfig()
	cfg.LabelToRoleMap["feature"] = RouteTarget{Role: "ghost", Priority: work.P2}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("want error for unknown role reference")
	}
}

func TestValidateRejectsMissingSLAEntry(t *testing.T) {
	cfg := validConfig()
	delete(cfg.SLATable, "P2")
	if err := cfg.Validate(); err == nil {
		t.Fatalf("want error for missing SLA entry")
	}
}

func TestValidateRejectsNoRoles(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("want error with no configured roles")
	}
}

func TestValidateRejectsBadBackoff(t *testing.T) {
	cfg := validConfig()
	cfg.RetryBackoffCap = Duration(time.Second)
	cfg.RetryBackoffBase = Duration(time.Minute)
	if err := cfg.Validate(); err == nil {
		t.Fatalf("want error for cap below base")
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "steward.yaml")
	data := []byte(`
concurrency_per_role:
  dev: 3
label_to_role_map:
  bug:
    role: dev
    priority: P0
max_retries: 5
retry_backoff_base: 10s
poll_interval: 1m
`)
	if err := os.WriteFile(file, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxRetries != 5 {
		t.Fatalf("max_retries = %d", cfg.MaxRetries)
	}
	if cfg.RetryBackoffBase.Std() != 10*time.Second {
		t.Fatalf("backoff base = %v", cfg.RetryBackoffBase.Std())
	}
	if cfg.PollInterval.Std() != time.Minute {
		t.Fatalf("poll interval = %v", cfg.PollInterval.Std())
	}
	if got := cfg.LabelToRoleMap["bug"]; got.Role != "dev" || got.Priority != work.P0 {
		t.Fatalf("label rule = %+v", got)
	}
	// defaults survive the overlay
	if _, ok := cfg.SLA(work.P1); !ok {
		t.Fatalf("default SLA table lost on load")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate loaded: %v", err)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "steward.json")
	data := []byte(`{"concurrency_per_role":{"dev":2},"worker_timeout":"5m","default_role":"dev"}`)
	if err := os.WriteFile(file, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WorkerTimeout.Std() != 5*time.Minute {
		t.Fatalf("worker timeout = %v", cfg.WorkerTimeout.Std())
	}
	if cfg.DefaultRole != "dev" {
		t.Fatalf("default role = %q", cfg.DefaultRole)
	}
}

func TestFromEnv(t *testing.T) {
	cfg := validConfig()
	t.Setenv("STEWARD_MAX_RETRIES", "7")
	t.Setenv("STEWARD_POLL_INTERVAL", "90s")
	t.Setenv("STEWARD_TRACKER_URL", "https://tracker.example.com")
	FromEnv(&cfg)
	if cfg.MaxRetries != 7 {
		t.Fatalf("env max retries")
	}
	if cfg.PollInterval.Std() != 90*time.Second {
		t.Fatalf("env poll interval")
	}
	if cfg.Tracker.BaseURL != "https://tracker.example.com" {
		t.Fatalf("env tracker url")
	}
}

func TestInvokeTimeoutPerPriorityOverride(t *testing.T) {
	cfg := validConfig()
	cfg.WorkerTimeouts = map[string]Duration{"P0": Duration(time.Minute)}
	if cfg.InvokeTimeout(work.P0) != time.Minute {
		t.Fatalf("P0 override not applied")
	}
	if cfg.InvokeTimeout(work.P2) != cfg.WorkerTimeout.Std() {
		t.Fatalf("P2 should use the ceiling")
	}
}
