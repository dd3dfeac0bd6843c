package control

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/carcontrol/internal/actuator"
	"github.com/banshee-data/carcontrol/internal/debug"
	"github.com/banshee-data/carcontrol/internal/vision/l4estimate"
)

// Vehicle is the single serialisation point between the tracker and the
// drive. Every estimation step and every command dispatch goes through its
// mutex, so concurrent tasks never interleave inside one position pair.
type Vehicle struct {
	mu              sync.Mutex
	tracker         *l4estimate.Tracker
	sink            actuator.Sink
	actuatorTimeout time.Duration
	last            actuator.Command
}

// NewVehicle wraps tracker and sink. An actuatorTimeout of zero leaves
// dispatch bounded only by the caller's context.
func NewVehicle(tracker *l4estimate.Tracker, sink actuator.Sink, actuatorTimeout time.Duration) *Vehicle {
	return &Vehicle{tracker: tracker, sink: sink, actuatorTimeout: actuatorTimeout}
}

// Drive dispatches cmd to the sink under the actuator timeout.
func (v *Vehicle) Drive(ctx context.Context, cmd actuator.Command) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.drive(ctx, cmd)
}

func (v *Vehicle) drive(ctx context.Context, cmd actuator.Command) error {
	v.last = cmd
	return actuator.Dispatch(ctx, v.sink, cmd, v.actuatorTimeout)
}

// WarmUp runs the background warm-up on the tracker's source.
func (v *Vehicle) WarmUp(ctx context.Context, frames int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tracker.WarmUp(ctx, frames)
}

// SamplePosition runs one estimation cycle.
func (v *Vehicle) SamplePosition(ctx context.Context) (l4estimate.Position, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tracker.SamplePosition(ctx)
}

// UpdateOrientation refreshes position and orientation.
func (v *Vehicle) UpdateOrientation(ctx context.Context) (float64, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tracker.UpdateOrientation(ctx)
}

// Position returns the held position.
func (v *Vehicle) Position() (l4estimate.Position, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tracker.State().Position()
}

// Orientation returns the held orientation.
func (v *Vehicle) Orientation() (float64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tracker.State().Orientation()
}

// LastCommand returns the most recently dispatched command.
func (v *Vehicle) LastCommand() actuator.Command {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.last
}

// Step runs one serialised control cycle: refresh the orientation, let
// decide pick a command from the resulting state and dispatch it. When the
// frame error is terminal (see frameFatal) nothing is dispatched. A
// transient frame error still runs decide on the stale state.
func (v *Vehicle) Step(ctx context.Context, decide func(*l4estimate.TrackState) actuator.Command) (cmd actuator.Command, frameErr, driveErr error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	_, _, frameErr = v.tracker.UpdateOrientation(ctx)
	if frameErr != nil && frameFatal(ctx, frameErr) {
		return actuator.Command{}, frameErr, nil
	}
	cmd = decide(v.tracker.State())
	return cmd, frameErr, v.drive(ctx, cmd)
}

// Sample captures the current track and the latest estimate for the debug
// sinks.
func (v *Vehicle) Sample(now time.Time, cycle int, state State) debug.Sample {
	v.mu.Lock()
	defer v.mu.Unlock()

	ts := v.tracker.State()
	s := debug.Sample{
		Time:       now,
		Cycle:      cycle,
		State:      state.String(),
		Convention: ts.Convention(),
		Command:    v.last,
	}
	s.Position, s.HasPosition = ts.Position()
	s.Orientation, s.HasOrientation = ts.Orientation()
	if est, ok := v.tracker.LastEstimate(); ok {
		s.Raw = est.Segments.Raw
		s.Clean = est.Segments.Clean
		s.Frame = est.Frame
		if est.Found {
			s.Box = est.Segments.Best.Box
		}
	}
	return s
}
