package l2background

import (
	"io"

	"github.com/banshee-data/carcontrol/internal/monitoring"
)

var logs monitoring.Streams

// SetLogWriters configures the three logging streams for the l2background package.
// Pass nil for any writer to disable that stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	logs = monitoring.NewStreams("[l2background] ", ops, diag, trace)
}

// opsf logs to the ops stream (actionable warnings, errors).
func opsf(format string, args ...interface{}) { logs.Opsf(format, args...) }

// diagf logs to the diag stream (warm-up progress, model statistics).
func diagf(format string, args ...interface{}) { logs.Diagf(format, args...) }

// tracef logs to the trace stream (per-frame label counts).
func tracef(format string, args ...interface{}) { logs.Tracef(format, args...) }
