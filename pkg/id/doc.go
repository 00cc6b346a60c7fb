// Package id generates process-local, time-ordered 128-bit tokens.
//
// Tokens are big-endian [timestamp_ms | sequence] pairs, so lexical order is
// generation order. The dispatcher uses them as claim tokens: a fresh token
// per successful claim makes stale releases detectable by comparison.
package id
