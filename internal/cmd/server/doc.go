// Package serverrun boots the steward coordinator and ops server with
// signal-aware shutdown. It is the shared entrypoint behind the
// `steward server start` command.
package serverrun
