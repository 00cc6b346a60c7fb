// Package config loads and validates steward's static configuration:
// classification rules, the SLA table, retry policy, per-role concurrency,
// and tracker connection settings. Configuration is layered file < env and
// is immutable after startup; Validate rejects partial configuration before
// the coordinator starts.
package config
