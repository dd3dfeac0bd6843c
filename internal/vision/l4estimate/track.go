package l4estimate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/carcontrol/internal/vision/l1frames"
)

// TrackState holds the current position and orientation estimate. Both are
// optional until established. Orientation is only ever recomputed from two
// distinct positions.
type TrackState struct {
	conv Convention

	pos    Position
	hasPos bool

	orient    float64
	hasOrient bool
}

// NewTrackState returns an empty TrackState using conv for derived angles.
func NewTrackState(conv Convention) *TrackState {
	return &TrackState{conv: conv}
}

// Convention returns the angle convention of the state.
func (s *TrackState) Convention() Convention { return s.conv }

// Position returns the held position, if any.
func (s *TrackState) Position() (Position, bool) { return s.pos, s.hasPos }

// Orientation returns the held orientation in degrees, if any.
func (s *TrackState) Orientation() (float64, bool) { return s.orient, s.hasOrient }

// Observe records p as the current position.
func (s *TrackState) Observe(p Position) {
	s.pos, s.hasPos = p, true
}

// Advance derives orientation from the displacement ref -> cur and records
// cur as the current position. Coincident positions leave the orientation
// untouched. It reports whether the orientation was recomputed.
func (s *TrackState) Advance(ref, cur Position) bool {
	s.Observe(cur)
	deg, ok := Heading(ref, cur, s.conv)
	if !ok {
		return false
	}
	s.orient, s.hasOrient = deg, true
	return true
}

// Reset clears position and orientation.
func (s *TrackState) Reset() {
	*s = TrackState{conv: s.conv}
}

// Tracker composes a frame source, an estimator and a TrackState. It is not
// safe for concurrent use; callers serialise access.
type Tracker struct {
	src          l1frames.Source
	est          *Estimator
	state        *TrackState
	frameTimeout time.Duration

	last    Estimate
	hasLast bool
}

// NewTracker builds a Tracker. A frameTimeout of zero disables the
// per-frame deadline.
func NewTracker(src l1frames.Source, est *Estimator, conv Convention, frameTimeout time.Duration) *Tracker {
	return &Tracker{
		src:          src,
		est:          est,
		state:        NewTrackState(conv),
		frameTimeout: frameTimeout,
	}
}

// State returns the tracker's TrackState.
func (t *Tracker) State() *TrackState { return t.state }

// Estimator returns the tracker's estimator.
func (t *Tracker) Estimator() *Estimator { return t.est }

// LastEstimate returns the most recent estimate, for debug output.
func (t *Tracker) LastEstimate() (Estimate, bool) { return t.last, t.hasLast }

// WarmUp runs the estimator warm-up on the tracker's source. Each frame is
// pulled under the frame timeout, so a stalled source uses up the miss
// budget instead of blocking.
func (t *Tracker) WarmUp(ctx context.Context, n int) error {
	return t.est.WarmUp(ctx, timedSource{t}, n)
}

// timedSource reads the tracker's source through next.
type timedSource struct{ t *Tracker }

func (s timedSource) Next(ctx context.Context) (l1frames.Frame, error) { return s.t.next(ctx) }
func (s timedSource) Close() error                                     { return s.t.src.Close() }

// next pulls one frame under the frame timeout. A deadline that expires
// while ctx itself is still live is reported as a transient miss.
func (t *Tracker) next(ctx context.Context) (l1frames.Frame, error) {
	fctx := ctx
	if t.frameTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, t.frameTimeout)
		defer cancel()
	}
	frame, err := t.src.Next(fctx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, l1frames.ErrFrameUnavailable) {
			err = fmt.Errorf("%w: no frame within %v", l1frames.ErrFrameUnavailable, t.frameTimeout)
		}
		return l1frames.Frame{}, err
	}
	return frame, nil
}

// sample runs one estimation cycle without touching the TrackState.
func (t *Tracker) sample(ctx context.Context) (Estimate, error) {
	frame, err := t.next(ctx)
	if err != nil {
		return Estimate{}, err
	}
	est, err := t.est.Estimate(frame)
	if err != nil {
		return Estimate{}, err
	}
	t.last, t.hasLast = est, true
	return est, nil
}

// SamplePosition runs one estimation cycle and returns the held position.
// A frame failure leaves the TrackState untouched.
func (t *Tracker) SamplePosition(ctx context.Context) (Position, bool, error) {
	est, err := t.sample(ctx)
	if err != nil {
		return Position{}, false, err
	}
	if est.Found {
		t.state.Observe(est.Position)
	}
	p, ok := t.state.Position()
	return p, ok, nil
}

// UpdateOrientation refreshes position and orientation. The held position
// is the reference; when none exists one estimation cycle is forced first.
// One more cycle yields the current position and, when it differs from the
// reference, a new orientation. A frame failure in either cycle leaves the
// TrackState as it was before the call.
func (t *Tracker) UpdateOrientation(ctx context.Context) (float64, bool, error) {
	before := *t.state

	ref, hasRef := t.state.Position()
	if !hasRef {
		est, err := t.sample(ctx)
		if err != nil {
			return 0, false, err
		}
		if est.Found {
			ref, hasRef = est.Position, true
		}
	}

	est, err := t.sample(ctx)
	if err != nil {
		*t.state = before
		return 0, false, err
	}

	switch {
	case hasRef && est.Found:
		if t.state.Advance(ref, est.Position) {
			deg, _ := t.state.Orientation()
			tracef("orientation %v -> %v = %.1f deg", ref, est.Position, deg)
		}
	case hasRef:
		t.state.Observe(ref)
	case est.Found:
		t.state.Observe(est.Position)
	}

	deg, ok := t.state.Orientation()
	return deg, ok, nil
}
