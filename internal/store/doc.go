// Package store holds the in-memory work queue: per-role priority buckets
// with FIFO order inside each bucket, plus the item state table. It is the
// single shared mutable structure in the coordinator; every mutation is an
// atomic compare-and-set on the item's state under one lock, so concurrent
// dispatch attempts on the same item can never both succeed.
//
// The external tracker remains the durable record. The store is a
// rebuildable cache of it plus scheduling metadata, and items leave the
// store only after reaching a terminal state and being flushed back.
package store
