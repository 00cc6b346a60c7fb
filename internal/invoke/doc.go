// Package invoke calls the external worker for one item at a time with a
// priority-derived timeout, and normalizes every call into one of three
// envelope outcomes: success, failure (with the worker's fatal flag), or
// timeout. Payload content is opaque here.
package invoke
