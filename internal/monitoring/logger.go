package monitoring

import (
	"io"
	"log"
)

// LogWriters holds the io.Writers for each logging stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

// Logger is the operator-facing logger handed to every component that needs
// to report something. It is a plain value: the orchestrator receives one and
// threads it (or a prefixed copy from With) down to drivers and sources.
type Logger struct {
	writers LogWriters
	ops     *log.Logger
	diag    *log.Logger
	trace   *log.Logger
}

// NewLogger builds a Logger whose three streams carry the given prefix.
// Pass nil for any writer to disable that stream.
func NewLogger(prefix string, w LogWriters) *Logger {
	return &Logger{
		writers: w,
		ops:     newLogger(prefix, w.Ops),
		diag:    newLogger(prefix, w.Diag),
		trace:   newLogger(prefix, w.Trace),
	}
}

// Discard returns a Logger with every stream disabled.
func Discard() *Logger {
	return NewLogger("", LogWriters{})
}

// With returns a Logger sharing the same writers under a new prefix.
func (l *Logger) With(prefix string) *Logger {
	if l == nil {
		return Discard()
	}
	return NewLogger(prefix, l.writers)
}

// newLogger creates a *log.Logger for a given writer, or returns nil if w is nil.
func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	if prefix != "" {
		prefix = "[" + prefix + "] "
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// Opsf logs to the ops stream (actionable warnings, errors, lifecycle events).
func (l *Logger) Opsf(format string, args ...interface{}) {
	if l != nil && l.ops != nil {
		l.ops.Printf(format, args...)
	}
}

// Diagf logs to the diag stream (day-to-day diagnostics, tuning context).
func (l *Logger) Diagf(format string, args ...interface{}) {
	if l != nil && l.diag != nil {
		l.diag.Printf(format, args...)
	}
}

// Tracef logs to the trace stream (high-frequency per-frame telemetry).
func (l *Logger) Tracef(format string, args ...interface{}) {
	if l != nil && l.trace != nil {
		l.trace.Printf(format, args...)
	}
}
