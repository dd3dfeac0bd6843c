// Package debug records what the tracker saw: mask snapshots, annotated
// frames, trajectory plots and live debug pages. Nothing here feeds back
// into control.
package debug

import (
	"image"
	"time"

	"github.com/banshee-data/carcontrol/internal/actuator"
	"github.com/banshee-data/carcontrol/internal/monitoring"
	"github.com/banshee-data/carcontrol/internal/vision/l4estimate"
)

// Checkpoint names used during calibration.
const (
	CheckpointInitialPosition = "initial_position"
	CheckpointAfterSpin       = "after_spin"
	CheckpointAfterBackward   = "after_backward"
	CheckpointAfterForward    = "after_forward"
)

// Sample is one observation of the control loop.
type Sample struct {
	Time  time.Time
	Cycle int
	State string

	Raw   *image.Gray // thresholded mask
	Clean *image.Gray // mask after hole filling
	Frame *image.RGBA // camera frame as received
	Box   image.Rectangle

	Position       l4estimate.Position
	HasPosition    bool
	Orientation    float64
	HasOrientation bool
	Convention     l4estimate.Convention

	Command actuator.Command
}

// Sink receives samples. Implementations must not retain the images beyond
// the call unless they copy them.
type Sink interface {
	Observe(s Sample)
	Checkpoint(name string, s Sample)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Observe(Sample)            {}
func (Nop) Checkpoint(string, Sample) {}

// Safe wraps s so that a panic inside it is logged and swallowed.
func Safe(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	return safeSink{s}
}

type safeSink struct{ inner Sink }

func (s safeSink) Observe(sample Sample) {
	defer recoverSink("Observe")
	s.inner.Observe(sample)
}

func (s safeSink) Checkpoint(name string, sample Sample) {
	defer recoverSink("Checkpoint " + name)
	s.inner.Checkpoint(name, sample)
}

func recoverSink(op string) {
	if r := recover(); r != nil {
		monitoring.Logf("[debug] sink %s panicked: %v", op, r)
	}
}

// Multi fans samples out to every sink, each wrapped with Safe.
func Multi(sinks ...Sink) Sink {
	m := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			m = append(m, Safe(s))
		}
	}
	return m
}

type multi []Sink

func (m multi) Observe(s Sample) {
	for _, sink := range m {
		sink.Observe(s)
	}
}

func (m multi) Checkpoint(name string, s Sample) {
	for _, sink := range m {
		sink.Checkpoint(name, s)
	}
}
