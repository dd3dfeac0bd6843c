package monitoring

import (
	"io"
	"log"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Streams bundles the three log streams used by the vision and control
// packages:
//
//   - ops: actionable warnings (calibration retries, actuator failures)
//   - diag: tuning context (warm-up progress, blob areas, PID state)
//   - trace: per-frame telemetry
//
// A nil writer disables the corresponding stream. The zero value discards
// everything.
type Streams struct {
	ops   *log.Logger
	diag  *log.Logger
	trace *log.Logger
}

// NewStreams builds Streams whose lines carry the given prefix, e.g. "[control] ".
func NewStreams(prefix string, ops, diag, trace io.Writer) Streams {
	return Streams{
		ops:   newLogger(prefix, ops),
		diag:  newLogger(prefix, diag),
		trace: newLogger(prefix, trace),
	}
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// Opsf logs to the ops stream.
func (s Streams) Opsf(format string, args ...interface{}) {
	if s.ops != nil {
		s.ops.Printf(format, args...)
	}
}

// Diagf logs to the diag stream.
func (s Streams) Diagf(format string, args ...interface{}) {
	if s.diag != nil {
		s.diag.Printf(format, args...)
	}
}

// Tracef logs to the trace stream.
func (s Streams) Tracef(format string, args ...interface{}) {
	if s.trace != nil {
		s.trace.Printf(format, args...)
	}
}

// TraceEnabled reports whether the trace stream has a writer, so callers can
// skip building expensive per-frame messages.
func (s Streams) TraceEnabled() bool {
	return s.trace != nil
}
