// Package tracker defines the narrow contract steward needs from the
// external issue tracker (paginated open-item listing plus three idempotent
// writes) and a REST client implementing it with rate-limit-aware retry.
//
// The tracker is the durable record of work; everything steward holds in
// memory is rederivable from it. Transient tracker errors (429, 5xx,
// network) are absorbed here with jittered exponential backoff and never
// reach scheduling logic.
package tracker
