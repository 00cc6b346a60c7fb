// Package pebblestore wraps a Pebble database behind a small surface used by
// the transition journal: batched atomic writes with a process-wide fsync
// policy, copy-out point reads, and raw iterators for prefix scans.
package pebblestore
