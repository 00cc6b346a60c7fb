// Package reconcile turns invocation outcomes and deadline breaches into
// state transitions. It owns the retry budget, the exponential requeue
// backoff, escalation fan-out to sinks, and the write-back worker that
// flushes terminal state to the external tracker.
package reconcile
