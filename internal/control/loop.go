package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/banshee-data/carcontrol/internal/actuator"
	"github.com/banshee-data/carcontrol/internal/config"
	"github.com/banshee-data/carcontrol/internal/debug"
	"github.com/banshee-data/carcontrol/internal/timeutil"
	"github.com/banshee-data/carcontrol/internal/vision/l4estimate"
)

// State is the control loop phase.
type State int

const (
	StateUncalibratedPosition State = iota
	StateUncalibratedOrientation
	StateTracking
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUncalibratedPosition:
		return "UNCALIBRATED_POSITION"
	case StateUncalibratedOrientation:
		return "UNCALIBRATED_ORIENTATION"
	case StateTracking:
		return "TRACKING"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// defaultStopTimeout bounds the final zero command when no actuator timeout
// is configured.
const defaultStopTimeout = time.Second

// LoopConfig holds everything the loop needs besides its collaborators.
type LoopConfig struct {
	PID       PIDConfig
	Objective Objective

	CyclePeriod     time.Duration
	ActuatorTimeout time.Duration
	MaxCycles       int // 0 runs until cancelled or reached

	WarmUpFrames        int
	CalibrationSpeed    float64
	CalibrationMove     time.Duration
	CalibrationAttempts int

	ExplorePeriod time.Duration
}

// LoopConfigFromTuning builds a LoopConfig from a loaded TuningConfig.
func LoopConfigFromTuning(cfg *config.TuningConfig) (LoopConfig, error) {
	obj, err := ObjectiveFromTuning(cfg)
	if err != nil {
		return LoopConfig{}, err
	}
	return LoopConfig{
		PID:                 PIDConfigFromTuning(cfg),
		Objective:           obj,
		CyclePeriod:         cfg.GetCyclePeriod(),
		ActuatorTimeout:     cfg.GetActuatorTimeout(),
		MaxCycles:           cfg.GetMaxCycles(),
		WarmUpFrames:        cfg.GetWarmUpFrames(),
		CalibrationSpeed:    cfg.GetCalibrationSpeed(),
		CalibrationMove:     cfg.GetCalibrationMove(),
		CalibrationAttempts: cfg.GetCalibrationAttempts(),
		ExplorePeriod:       cfg.GetExplorePeriod(),
	}, nil
}

// Validate checks the loop parameters. PID bounds are checked by NewPID.
func (c LoopConfig) Validate() error {
	if err := c.Objective.Validate(); err != nil {
		return err
	}
	if c.CyclePeriod <= 0 {
		return fmt.Errorf("cycle period must be positive, got %v", c.CyclePeriod)
	}
	if c.CalibrationAttempts < 1 {
		return fmt.Errorf("calibration attempts must be at least 1, got %d", c.CalibrationAttempts)
	}
	if c.CalibrationMove < 0 || c.ActuatorTimeout < 0 || c.ExplorePeriod < 0 {
		return errors.New("durations must be non-negative")
	}
	if c.WarmUpFrames < 0 || c.MaxCycles < 0 {
		return errors.New("frame and cycle counts must be non-negative")
	}
	return nil
}

// Stats summarises a run.
type Stats struct {
	State               string `json:"state"`
	Cycles              int    `json:"cycles"`
	FrameMisses         int    `json:"frame_misses"`
	ActuatorFailures    int    `json:"actuator_failures"`
	CalibrationAttempts int    `json:"calibration_attempts"`
	Reached             bool   `json:"reached"`
}

// Option configures a Loop.
type Option func(*Loop)

// WithClock sets the clock used for waits and sample timestamps.
func WithClock(c timeutil.Clock) Option {
	return func(l *Loop) { l.clock = c }
}

// WithDebug attaches a debug sink. Panics inside it are recovered.
func WithDebug(s debug.Sink) Option {
	return func(l *Loop) { l.debug = debug.Safe(s) }
}

// WithRand sets the random source used by Explore.
func WithRand(r *rand.Rand) Option {
	return func(l *Loop) { l.rng = r }
}

// Loop sequences calibration, tracking and the final stop for one vehicle.
// A Loop runs once: call either Run or Explore.
type Loop struct {
	cfg     LoopConfig
	vehicle *Vehicle
	pid     *PID
	clock   timeutil.Clock
	debug   debug.Sink
	rng     *rand.Rand

	mu    sync.Mutex
	state State
	stats Stats

	stopOnce sync.Once
}

// NewLoop validates cfg and composes the loop around tracker and sink.
func NewLoop(cfg LoopConfig, tracker *l4estimate.Tracker, sink actuator.Sink, options ...Option) (*Loop, error) {
	if tracker == nil || sink == nil {
		return nil, errors.New("control loop needs a tracker and a sink")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("loop config: %w", err)
	}
	pid, err := NewPID(cfg.PID)
	if err != nil {
		return nil, err
	}
	l := &Loop{
		cfg:     cfg,
		vehicle: NewVehicle(tracker, sink, cfg.ActuatorTimeout),
		pid:     pid,
		clock:   timeutil.RealClock{},
		debug:   debug.Nop{},
	}
	for _, o := range options {
		o(l)
	}
	if l.rng == nil {
		seed := uint64(l.clock.Now().UnixNano())
		l.rng = rand.New(rand.NewPCG(seed, seed>>1))
	}
	return l, nil
}

// Vehicle returns the loop's serialised vehicle handle.
func (l *Loop) Vehicle() *Vehicle { return l.vehicle }

// PID returns a snapshot of the controller state.
func (l *Loop) PID() ControllerState {
	l.vehicle.mu.Lock()
	defer l.vehicle.mu.Unlock()
	return l.pid.State()
}

// State returns the current phase.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Stats returns counters for the run so far.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.stats
	st.State = l.state.String()
	return st
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	prev := l.state
	l.state = s
	l.mu.Unlock()
	if prev != s {
		opsf("%s -> %s", prev, s)
	}
}

func (l *Loop) count(fn func(*Stats)) {
	l.mu.Lock()
	fn(&l.stats)
	l.mu.Unlock()
}

// Run calibrates position, then orientation, then tracks the objective until
// ctx is cancelled, the objective is reached or MaxCycles have run. A zero
// command is always sent on the way out.
//
// Run returns nil when the objective was reached or the cycle limit hit,
// ctx.Err() when cancelled, a *CalibrationError when calibration gave up and
// a wrapped io.EOF when the frame source ended.
func (l *Loop) Run(ctx context.Context) error {
	defer l.stop()

	if err := l.calibratePosition(ctx); err != nil {
		return err
	}
	if err := l.calibrateOrientation(ctx); err != nil {
		return err
	}
	return l.track(ctx)
}

// frameFatal reports whether a frame error ends the run rather than
// skipping a cycle.
func frameFatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, io.EOF)
}

func (l *Loop) frameExit(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("frame source: %w", err)
}

func (l *Loop) frameMiss(phase string, err error) {
	l.count(func(s *Stats) { s.FrameMisses++ })
	diagf("%s: frame miss: %v", phase, err)
}

func (l *Loop) warmUp(ctx context.Context) error {
	if err := l.vehicle.WarmUp(ctx, l.cfg.WarmUpFrames); err != nil {
		if frameFatal(ctx, err) {
			return l.frameExit(ctx, err)
		}
		return &CalibrationError{Phase: StateUncalibratedPosition, Err: err}
	}
	return nil
}

func (l *Loop) calibratePosition(ctx context.Context) error {
	l.setState(StateUncalibratedPosition)
	if err := l.warmUp(ctx); err != nil {
		return err
	}

	s := l.cfg.CalibrationSpeed
	var lastErr error
	for attempt := 1; attempt <= l.cfg.CalibrationAttempts; attempt++ {
		l.count(func(st *Stats) { st.CalibrationAttempts++ })

		if _, _, err := l.vehicle.SamplePosition(ctx); err != nil {
			if frameFatal(ctx, err) {
				return l.frameExit(ctx, err)
			}
			l.frameMiss("position calibration", err)
			lastErr = err
		}
		l.checkpoint(debug.CheckpointInitialPosition)

		if err := l.move(ctx, actuator.Spin(s)); err != nil {
			return err
		}

		p, ok, err := l.vehicle.SamplePosition(ctx)
		if err != nil {
			if frameFatal(ctx, err) {
				return l.frameExit(ctx, err)
			}
			l.frameMiss("position calibration", err)
			lastErr = err
		}
		l.checkpoint(debug.CheckpointAfterSpin)

		if ok {
			opsf("position established at %v after %d attempt(s)", p, attempt)
			return nil
		}
		opsf("no position after attempt %d/%d", attempt, l.cfg.CalibrationAttempts)
	}
	return &CalibrationError{Phase: StateUncalibratedPosition, Attempts: l.cfg.CalibrationAttempts, Err: lastErr}
}

func (l *Loop) calibrateOrientation(ctx context.Context) error {
	l.setState(StateUncalibratedOrientation)

	s := l.cfg.CalibrationSpeed
	var lastErr error
	for attempt := 1; attempt <= l.cfg.CalibrationAttempts; attempt++ {
		l.count(func(st *Stats) { st.CalibrationAttempts++ })

		if err := l.move(ctx, actuator.PassThrough(-s)); err != nil {
			return err
		}
		if _, _, err := l.vehicle.SamplePosition(ctx); err != nil {
			if frameFatal(ctx, err) {
				return l.frameExit(ctx, err)
			}
			l.frameMiss("orientation calibration", err)
			lastErr = err
		}
		l.checkpoint(debug.CheckpointAfterBackward)

		if err := l.move(ctx, actuator.PassThrough(s)); err != nil {
			return err
		}
		deg, ok, err := l.vehicle.UpdateOrientation(ctx)
		if err != nil {
			if frameFatal(ctx, err) {
				return l.frameExit(ctx, err)
			}
			l.frameMiss("orientation calibration", err)
			lastErr = err
		}
		l.checkpoint(debug.CheckpointAfterForward)

		if ok {
			opsf("orientation established at %.1f deg after %d attempt(s)", deg, attempt)
			return nil
		}
		opsf("no orientation after attempt %d/%d", attempt, l.cfg.CalibrationAttempts)
	}
	return &CalibrationError{Phase: StateUncalibratedOrientation, Attempts: l.cfg.CalibrationAttempts, Err: lastErr}
}

// move drives cmd for CalibrationMove, then stops. Actuator failures are
// logged; only cancellation is returned.
func (l *Loop) move(ctx context.Context, cmd actuator.Command) error {
	l.drive(ctx, cmd)
	if err := l.wait(ctx, l.cfg.CalibrationMove); err != nil {
		return err
	}
	l.drive(ctx, actuator.Stop)
	return ctx.Err()
}

func (l *Loop) drive(ctx context.Context, cmd actuator.Command) {
	if err := l.vehicle.Drive(ctx, cmd); err != nil {
		l.count(func(s *Stats) { s.ActuatorFailures++ })
		opsf("dispatch %v: %v", cmd, err)
	}
}

func (l *Loop) track(ctx context.Context) error {
	l.setState(StateTracking)
	obj := l.cfg.Objective

	settled := 0
	for cycle := 1; ; cycle++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := l.clock.Now()

		reached := false
		cmd, frameErr, driveErr := l.vehicle.Step(ctx, func(ts *l4estimate.TrackState) actuator.Command {
			sp, meas, ok := obj.Evaluate(ts)
			if !ok {
				settled = 0
				return actuator.Stop
			}
			u := l.pid.Update(sp, meas)
			if l.pid.State().InBand {
				settled++
			} else {
				settled = 0
			}
			if obj.Reached(ts, settled) {
				reached = true
				return actuator.Stop
			}
			return obj.Command(u)
		})
		if frameErr != nil {
			if frameFatal(ctx, frameErr) {
				return l.frameExit(ctx, frameErr)
			}
			l.frameMiss("tracking", frameErr)
		}
		if driveErr != nil {
			l.count(func(s *Stats) { s.ActuatorFailures++ })
			opsf("cycle %d: %v", cycle, driveErr)
		}
		l.count(func(s *Stats) { s.Cycles++ })

		ps := l.PID()
		tracef("cycle=%d sp=%.2f err=%.2f i=%.3f u=%.3f cmd=%v", cycle, ps.Setpoint, ps.Error, ps.Integral, ps.Output, cmd)
		l.debug.Observe(l.vehicle.Sample(l.clock.Now(), cycle, StateTracking))

		if reached {
			l.count(func(s *Stats) { s.Reached = true })
			opsf("objective %s reached after %d cycles", obj.Kind, cycle)
			return nil
		}
		if l.cfg.MaxCycles > 0 && cycle >= l.cfg.MaxCycles {
			opsf("cycle limit %d reached", l.cfg.MaxCycles)
			return nil
		}
		if err := l.wait(ctx, l.cfg.CyclePeriod-l.clock.Since(start)); err != nil {
			return err
		}
	}
}

// wait blocks for d on the loop clock or until ctx is done.
func (l *Loop) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.clock.After(d):
		return nil
	}
}

func (l *Loop) checkpoint(name string) {
	l.debug.Checkpoint(name, l.vehicle.Sample(l.clock.Now(), 0, l.State()))
}

// stop sends the zero command once, on a context of its own so that a
// cancelled run still halts the drive.
func (l *Loop) stop() {
	l.stopOnce.Do(func() {
		l.setState(StateStopped)
		timeout := l.cfg.ActuatorTimeout
		if timeout <= 0 {
			timeout = defaultStopTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		l.drive(ctx, actuator.Stop)
		l.debug.Observe(l.vehicle.Sample(l.clock.Now(), l.Stats().Cycles, StateStopped))
	})
}
