package l4estimate

import (
	"io"

	"github.com/banshee-data/carcontrol/internal/monitoring"
)

var logs monitoring.Streams

// SetLogWriters configures the three logging streams for the l4estimate package.
// Pass nil for any writer to disable that stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	logs = monitoring.NewStreams("[l4estimate] ", ops, diag, trace)
}

// opsf logs to the ops stream (filter failures).
func opsf(format string, args ...interface{}) { logs.Opsf(format, args...) }

// diagf logs to the diag stream (warm-up progress).
func diagf(format string, args ...interface{}) { logs.Diagf(format, args...) }

// tracef logs to the trace stream (per-frame blobs and orientation updates).
func tracef(format string, args ...interface{}) { logs.Tracef(format, args...) }
