// Package sla maintains deadline watches for items in flight. Deadlines are
// derived from priority at creation time and fixed thereafter; each breach
// event fires exactly once per item via the store's latch, and unbounded
// priorities are simply never tracked.
package sla
