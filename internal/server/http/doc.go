// Package httpserver serves the read-only ops API: health, per-role queue
// depths and slot occupancy, single-item lookup with transition history, and
// the current escalation list.
package httpserver
