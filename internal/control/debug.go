package control

import (
	"io"

	"github.com/banshee-data/carcontrol/internal/monitoring"
)

var logs monitoring.Streams

// SetLogWriters configures the three logging streams for the control package.
// Pass nil for any writer to disable that stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	logs = monitoring.NewStreams("[control] ", ops, diag, trace)
}

// opsf logs to the ops stream (state transitions, calibration retries, actuator failures).
func opsf(format string, args ...interface{}) { logs.Opsf(format, args...) }

// diagf logs to the diag stream (frame misses, goal distance).
func diagf(format string, args ...interface{}) { logs.Diagf(format, args...) }

// tracef logs to the trace stream (per-cycle PID state and commands).
func tracef(format string, args ...interface{}) { logs.Tracef(format, args...) }
