// Package poll keeps the in-memory queue consistent with the external
// tracker. Each pass ingests newly opened items through the classifier,
// registers SLA deadlines, withdraws items the tracker no longer lists, and
// sweeps withdrawn items out of memory after a grace window.
package poll
