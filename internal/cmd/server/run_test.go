package serverrun

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	cfgpkg "github.com/oxbowlabs/steward/internal/config"
	pebblestore "github.com/oxbowlabs/steward/internal/storage/pebble"
	"github.com/oxbowlabs/steward/internal/work"
)

func TestGetenvDefault(t *testing.T) {
	if err := os.Setenv("STEWARD_TEST_VAR", "from_env"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("STEWARD_TEST_VAR") })

	if got := getenvDefault("STEWARD_TEST_VAR", "fallback"); got != "from_env" {
		t.Errorf("set var = %q, want from_env", got)
	}
	if got := getenvDefault("STEWARD_TEST_VAR_UNSET", "fallback"); got != "fallback" {
		t.Errorf("unset var = %q, want fallback", got)
	}
}

func TestDataDirFallback(t *testing.T) {
	opts := Options{}
	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}
	if opts.DataDir == "" {
		t.Fatal("DataDir empty after fallback")
	}
	if sub := filepath.Join(opts.DataDir, "journal"); sub == opts.DataDir {
		t.Fatal("journal subdirectory not distinct")
	}
}

func TestRunRejectsBadConfig(t *testing.T) {
	cfg := cfgpkg.Default()
	// No roles configured.
	err := Run(context.Background(), Options{
		DataDir:  t.TempDir(),
		HTTPAddr: "127.0.0.1:0",
		Fsync:    pebblestore.FsyncModeNever,
		Config:   cfg,
	})
	if err == nil {
		t.Fatal("Run accepted config without roles")
	}
}

func TestRunStartsAndShutsDown(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping server startup test in short mode")
	}

	cfg := cfgpkg.Default()
	cfg.ConcurrencyPerRole = map[string]int{"builder": 1}
	cfg.LabelToRoleMap = map[string]cfgpkg.RouteTarget{
		"build": {Role: "builder", Priority: work.P1},
	}
	cfg.Tracker.BaseURL = "http://127.0.0.1:1" // unreachable; poll errors are absorbed

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := Run(ctx, Options{
		DataDir:  t.TempDir(),
		HTTPAddr: "127.0.0.1:0",
		Fsync:    pebblestore.FsyncModeNever,
		Config:   cfg,
	})
	if err != nil {
		t.Fatalf("Run returned %v, want clean shutdown", err)
	}
}
