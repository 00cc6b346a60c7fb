// Package dispatch pulls queued items into worker invocations. The
// dispatcher honors per-role concurrency limits, claims items in strict
// priority order through the store's compare-and-set, and forwards each
// invocation outcome to the reconciler as a Completion.
package dispatch
