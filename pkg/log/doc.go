// Package log is the structured logger handed to every broker component.
//
// A Logger carries Fields; children made with With, WithField or
// WithComponent share the parent's level, formatter and outputs, so a
// SetLevel on the root applies everywhere. Records pass through a log/slog
// handler that resolves groups, applies key redaction and sampling, and
// then renders the entry with a Formatter to each Output.
//
//	l := log.NewLogger(log.WithLevel(log.DebugLevel), log.WithFormatter(&log.TextFormatter{}))
//	l = l.With(log.Component("destination"), log.Str("destination", "orders"))
//	l.Debug("message stored", log.Uint64("id", 42))
//
// ApplyConfig builds the same thing from the broker's log section, and
// RedirectStdLog captures output from libraries that write to the
// standard library logger.
package log
