package config

import (
	"os"
	"strconv"
	"time"
)

// FromEnv overlays STEWARD_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("STEWARD_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("STEWARD_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PollInterval = Duration(d)
		}
	}
	if v := os.Getenv("STEWARD_DISPATCH_TICK"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.DispatchTick = Duration(d)
		}
	}
	if v := os.Getenv("STEWARD_RETRY_BACKOFF_BASE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RetryBackoffBase = Duration(d)
		}
	}
	if v := os.Getenv("STEWARD_RETRY_BACKOFF_CAP"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RetryBackoffCap = Duration(d)
		}
	}
	if v := os.Getenv("STEWARD_WORKER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WorkerTimeout = Duration(d)
		}
	}
	if v := os.Getenv("STEWARD_TRACKER_URL"); v != "" {
		cfg.Tracker.BaseURL = v
	}
	if v := os.Getenv("STEWARD_TRACKER_TOKEN"); v != "" {
		cfg.Tracker.Token = v
	}
	if v := os.Getenv("STEWARD_TRACKER_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Tracker.PageSize = n
		}
	}
	if v := os.Getenv("STEWARD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("STEWARD_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}
