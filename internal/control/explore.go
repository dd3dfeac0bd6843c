package control

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/carcontrol/internal/actuator"
)

// Explore warms up the background model, then drives random wheel commands
// every ExplorePeriod while a second task refreshes position and orientation
// every CyclePeriod. Both tasks share the Vehicle and stop when ctx is
// cancelled or MaxCycles sensing cycles have run. A zero command is sent on
// the way out.
//
// Explore returns ctx.Err() when cancelled and a wrapped io.EOF when the
// frame source ended.
func (l *Loop) Explore(ctx context.Context) error {
	defer l.stop()

	l.setState(StateUncalibratedPosition)
	if err := l.warmUp(ctx); err != nil {
		return err
	}
	l.setState(StateTracking)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.exploreMotion(gctx) })
	g.Go(func() error { return l.exploreSensing(gctx) })
	err := g.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, errExploreDone) {
		return nil
	}
	return err
}

// randomCommand draws each wheel uniformly from [-s, s].
func (l *Loop) randomCommand() actuator.Command {
	s := l.cfg.CalibrationSpeed
	return actuator.Command{
		Left:  (2*l.rng.Float64() - 1) * s,
		Right: (2*l.rng.Float64() - 1) * s,
	}
}

func (l *Loop) exploreMotion(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		cmd := l.randomCommand()
		tracef("explore command %v", cmd)
		l.drive(ctx, cmd)
		if err := l.wait(ctx, l.cfg.ExplorePeriod); err != nil {
			return nil
		}
	}
}

func (l *Loop) exploreSensing(ctx context.Context) error {
	for cycle := 1; ; cycle++ {
		if ctx.Err() != nil {
			return nil
		}
		start := l.clock.Now()
		if _, _, err := l.vehicle.UpdateOrientation(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if frameFatal(ctx, err) {
				return l.frameExit(ctx, err)
			}
			l.frameMiss("explore", err)
		}
		l.count(func(s *Stats) { s.Cycles++ })
		l.debug.Observe(l.vehicle.Sample(l.clock.Now(), cycle, StateTracking))

		if l.cfg.MaxCycles > 0 && cycle >= l.cfg.MaxCycles {
			return errExploreDone
		}
		if err := l.wait(ctx, l.cfg.CyclePeriod-l.clock.Since(start)); err != nil {
			return nil
		}
	}
}

// errExploreDone stops the motion task once the sensing task hit MaxCycles.
var errExploreDone = errors.New("explore cycle limit reached")
