package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	logpkg "github.com/oxbowlabs/steward/pkg/log"

	"github.com/oxbowlabs/steward/internal/work"
)

// Duration wraps time.Duration so config files can use "4h" / "90s" forms in
// both JSON and YAML.
type Duration time.Duration

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalText implements encoding.TextUnmarshaler (used by yaml.v3).
func (d *Duration) UnmarshalText(b []byte) error {
	parsed, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalJSON accepts either a duration string or integer nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return d.UnmarshalText([]byte(s))
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON renders the duration string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// RouteTarget is where a matched classification rule sends an item.
type RouteTarget struct {
	Role     string        `json:"role" yaml:"role"`
	Priority work.Priority `json:"priority" yaml:"priority"`
}

// ExprRule routes items matching a CEL expression over the raw item fields.
// Expression rules run after label and keyword rules, before the default.
type ExprRule struct {
	Expr     string        `json:"expr" yaml:"expr"`
	Role     string        `json:"role" yaml:"role"`
	Priority work.Priority `json:"priority" yaml:"priority"`
}

// TrackerConfig points steward at the external issue tracker.
type TrackerConfig struct {
	BaseURL  string `json:"base_url" yaml:"base_url"`
	Token    string `json:"token" yaml:"token"`
	PageSize int    `json:"page_size" yaml:"page_size"`
}

// Config is the full static configuration surface. All values are fixed at
// process start; Validate rejects partial or inconsistent configuration
// before anything else runs.
type Config struct {
	LabelToRoleMap map[string]RouteTarget `json:"label_to_role_map" yaml:"label_to_role_map"`
	TitleKeywords  map[string]RouteTarget `json:"title_keywords" yaml:"title_keywords"`
	BodyKeywords   map[string]RouteTarget `json:"body_keywords" yaml:"body_keywords"`
	ExprRules      []ExprRule             `json:"expr_rules" yaml:"expr_rules"`

	// DefaultRole, when set, catches items no rule matched instead of
	// parking them in the dead-letter bucket.
	DefaultRole     string        `json:"default_role" yaml:"default_role"`
	DefaultPriority work.Priority `json:"default_priority" yaml:"default_priority"`

	// SLATable maps "P0".."P4" to the allowed time between creation and
	// completion. A zero duration means unbounded (no breach events).
	SLATable map[string]Duration `json:"sla_table" yaml:"sla_table"`

	MaxRetries       int      `json:"max_retries" yaml:"max_retries"`
	RetryBackoffBase Duration `json:"retry_backoff_base" yaml:"retry_backoff_base"`
	RetryBackoffCap  Duration `json:"retry_backoff_cap" yaml:"retry_backoff_cap"`

	// ConcurrencyPerRole bounds in-flight items per role and doubles as the
	// closed set of valid roles.
	ConcurrencyPerRole map[string]int `json:"concurrency_per_role" yaml:"concurrency_per_role"`

	PollInterval Duration `json:"poll_interval" yaml:"poll_interval"`
	DispatchTick Duration `json:"dispatch_tick" yaml:"dispatch_tick"`

	// WorkerTimeout is the fixed invocation ceiling; WorkerTimeouts, when
	// present, overrides it per priority level.
	WorkerTimeout  Duration            `json:"worker_timeout" yaml:"worker_timeout"`
	WorkerTimeouts map[string]Duration `json:"worker_timeouts" yaml:"worker_timeouts"`

	// WorkerEndpoints maps a role to the HTTP endpoint its worker listens
	// on. Roles without an endpoint fail invocation terminally.
	WorkerEndpoints map[string]string `json:"worker_endpoints" yaml:"worker_endpoints"`

	Tracker TrackerConfig `json:"tracker" yaml:"tracker"`
	Log     logpkg.Config `json:"log" yaml:"log"`
}

// Default returns built-in defaults: the baseline SLA table, three retries,
// and conservative timing.
func Default() Config {
	return Config{
		DefaultPriority: work.P3,
		SLATable: map[string]Duration{
			"P0": Duration(1 * time.Hour),
			"P1": Duration(4 * time.Hour),
			"P2": Duration(24 * time.Hour),
			"P3": Duration(72 * time.Hour),
			"P4": 0,
		},
		MaxRetries:       3,
		RetryBackoffBase: Duration(30 * time.Second),
		RetryBackoffCap:  Duration(15 * time.Minute),
		PollInterval:     Duration(30 * time.Second),
		DispatchTick:     Duration(1 * time.Second),
		WorkerTimeout:    Duration(10 * time.Minute),
		Tracker:          TrackerConfig{PageSize: 100},
		Log:              logpkg.Config{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a JSON or YAML file (by extension), layered
// over Default(). An empty path returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, &Error{Key: path, Reason: err.Error()}
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, &Error{Key: path, Reason: err.Error()}
		}
	}
	return cfg, nil
}

// Error is a fatal configuration error. It is the only error class that
// aborts process startup.
type Error struct {
	Key    string
	Reason string
}

func (e *Error) Error() string { return fmt.Sprintf("config: %s: %s", e.Key, e.Reason) }

// SLA returns the SLA duration for a priority. ok is false when the priority
// has no deadline (unbounded).
func (c *Config) SLA(p work.Priority) (time.Duration, bool) {
	d, present := c.SLATable[p.String()]
	if !present || d == 0 {
		return 0, false
	}
	return d.Std(), true
}

// InvokeTimeout returns the worker invocation timeout for a priority.
func (c *Config) InvokeTimeout(p work.Priority) time.Duration {
	if d, ok := c.WorkerTimeouts[p.String()]; ok && d > 0 {
		return d.Std()
	}
	return c.WorkerTimeout.Std()
}

// Roles returns the configured role set.
func (c *Config) Roles() []work.Role {
	out := make([]work.Role, 0, len(c.ConcurrencyPerRole))
	for r := range c.ConcurrencyPerRole {
		out = append(out, work.Role(r))
	}
	return out
}

func (c *Config) knownRole(role string) bool {
	_, ok := c.ConcurrencyPerRole[role]
	return ok
}

func (c *Config) validateTarget(key string, t RouteTarget) error {
	if t.Role == "" {
		return &Error{Key: key, Reason: "rule target missing role"}
	}
	if !c.knownRole(t.Role) {
		return &Error{Key: key, Reason: fmt.Sprintf("rule targets unknown role %q (not in concurrency_per_role)", t.Role)}
	}
	if !t.Priority.Valid() {
		return &Error{Key: key, Reason: fmt.Sprintf("invalid priority %d", int(t.Priority))}
	}
	return nil
}

// Validate fails fast on partial or inconsistent configuration.
func (c *Config) Validate() error {
	if len(c.ConcurrencyPerRole) == 0 {
		return &Error{Key: "concurrency_per_role", Reason: "at least one role is required"}
	}
	for role, n := range c.ConcurrencyPerRole {
		if role == "" {
			return &Error{Key: "concurrency_per_role", Reason: "empty role name"}
		}
		if n <= 0 {
			return &Error{Key: "concurrency_per_role." + role, Reason: "concurrency must be positive"}
		}
	}
	for label, t := range c.LabelToRoleMap {
		if err := c.validateTarget("label_to_role_map."+label, t); err != nil {
			return err
		}
	}
	for kw, t := range c.TitleKeywords {
		if err := c.validateTarget("title_keywords."+kw, t); err != nil {
			return err
		}
	}
	for kw, t := range c.BodyKeywords {
		if err := c.validateTarget("body_keywords."+kw, t); err != nil {
			return err
		}
	}
	for i, r := range c.ExprRules {
		key := fmt.Sprintf("expr_rules[%d]", i)
		if r.Expr == "" {
			return &Error{Key: key, Reason: "empty expression"}
		}
		if err := c.validateTarget(key, RouteTarget{Role: r.Role, Priority: r.Priority}); err != nil {
			return err
		}
	}
	if c.DefaultRole != "" && !c.knownRole(c.DefaultRole) {
		return &Error{Key: "default_role", Reason: fmt.Sprintf("unknown role %q", c.DefaultRole)}
	}
	if !c.DefaultPriority.Valid() {
		return &Error{Key: "default_priority", Reason: "invalid priority"}
	}
	for p := work.P0; p <= work.P4; p++ {
		if _, present := c.SLATable[p.String()]; !present {
			return &Error{Key: "sla_table", Reason: fmt.Sprintf("missing entry for %s", p)}
		}
	}
	if c.MaxRetries < 0 {
		return &Error{Key: "max_retries", Reason: "must be >= 0"}
	}
	if c.RetryBackoffBase <= 0 {
		return &Error{Key: "retry_backoff_base", Reason: "must be positive"}
	}
	if c.RetryBackoffCap < c.RetryBackoffBase {
		return &Error{Key: "retry_backoff_cap", Reason: "must be >= retry_backoff_base"}
	}
	if c.PollInterval <= 0 {
		return &Error{Key: "poll_interval", Reason: "must be positive"}
	}
	if c.DispatchTick <= 0 {
		return &Error{Key: "dispatch_tick", Reason: "must be positive"}
	}
	if c.WorkerTimeout <= 0 {
		return &Error{Key: "worker_timeout", Reason: "must be positive"}
	}
	for p, d := range c.WorkerTimeouts {
		if _, err := work.ParsePriority(p); err != nil {
			return &Error{Key: "worker_timeouts." + p, Reason: "unknown priority"}
		}
		if d <= 0 {
			return &Error{Key: "worker_timeouts." + p, Reason: "must be positive"}
		}
	}
	for role, url := range c.WorkerEndpoints {
		if !c.knownRole(role) {
			return &Error{Key: "worker_endpoints." + role, Reason: "unknown role"}
		}
		if url == "" {
			return &Error{Key: "worker_endpoints." + role, Reason: "empty endpoint"}
		}
	}
	if c.Tracker.PageSize <= 0 {
		return &Error{Key: "tracker.page_size", Reason: "must be positive"}
	}
	return nil
}
