// Package log provides steward's structured logging facade.
//
// The package exposes a small Logger interface with leveled methods and a
// simple Field type for structured context. Output is rendered through a
// pluggable Formatter (text or JSON) and written to one or more Outputs.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("dispatcher"), log.Str("role", "dev"))
//	l.Info("slot released", log.Int("active", 2))
//
// Use ApplyConfig to build a logger from a declarative Config. To capture
// standard library log output (for example from Pebble), use RedirectStdLog.
package log
