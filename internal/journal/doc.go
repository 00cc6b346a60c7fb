// Package journal persists item state transitions to an append-only
// Pebble-backed log. Records are checksummed and keyed per item in
// sequence order so that full per-item histories can be read back for
// escalation reports and startup accounting.
package journal
