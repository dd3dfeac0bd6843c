// Package sim is an in-process top-down simulator of a differential-drive
// robot on a flat floor. A Simulator is at once a frame source, a wheel sink
// and a session collaborator, and Handler serves the same capabilities over
// HTTP for cmd/carsim.
package sim

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/carcontrol/internal/actuator"
	"github.com/banshee-data/carcontrol/internal/config"
	"github.com/banshee-data/carcontrol/internal/timeutil"
	"github.com/banshee-data/carcontrol/internal/vision/l1frames"
	"github.com/banshee-data/carcontrol/internal/vision/l4estimate"
)

// ErrNoSession is returned when the simulator is used before Connect.
var ErrNoSession = errors.New("sim: no active session")

// ErrSessionActive is returned by Connect while a session is running.
var ErrSessionActive = errors.New("sim: session already active")

var (
	_ l1frames.Source = (*Simulator)(nil)
	_ actuator.Sink   = (*Simulator)(nil)
)

// Config describes the scene and the robot.
type Config struct {
	Width, Height int
	Start         l4estimate.Position
	StartHeading  float64 // degrees, image convention
	RevealAfter   int     // frames rendered without the robot

	BodyLength float64 // along the heading, px
	BodyWidth  float64 // px
	WheelBase  float64 // px between wheels
	Speed      float64 // px/s per unit wheel command

	Floor, Grid, Body, Nose color.RGBA
}

// DefaultConfig returns a 320×240 scene with a 30×20 px robot.
func DefaultConfig() Config {
	return Config{
		Width:      320,
		Height:     240,
		Start:      l4estimate.Position{X: 80, Y: 120},
		BodyLength: 30,
		BodyWidth:  20,
		WheelBase:  20,
		Speed:      40,
		Floor:      color.RGBA{70, 90, 70, 255},
		Grid:       color.RGBA{64, 82, 64, 255},
		Body:       color.RGBA{220, 60, 40, 255},
		Nose:       color.RGBA{240, 220, 60, 255},
	}
}

// ConfigFromTuning overlays the sim_* tuning options on DefaultConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	c := DefaultConfig()
	c.Width, c.Height = cfg.GetSimSize()
	x, y, h := cfg.GetSimStart()
	c.Start = l4estimate.Position{X: x, Y: y}
	c.StartHeading = h
	c.RevealAfter = cfg.GetSimRevealAfter()
	return c
}

// Validate checks that the robot fits in the scene.
func (c Config) Validate() error {
	if c.Width < 16 || c.Height < 16 {
		return fmt.Errorf("scene must be at least 16x16, got %dx%d", c.Width, c.Height)
	}
	if c.BodyLength <= 0 || c.BodyWidth <= 0 || c.WheelBase <= 0 || c.Speed <= 0 {
		return errors.New("body size, wheel base and speed must be positive")
	}
	if m := c.margin(); 2*m >= float64(c.Width) || 2*m >= float64(c.Height) {
		return fmt.Errorf("robot does not fit in a %dx%d scene", c.Width, c.Height)
	}
	if c.RevealAfter < 0 {
		return fmt.Errorf("RevealAfter must be non-negative, got %d", c.RevealAfter)
	}
	return nil
}

// margin is the closest the robot centre may get to a wall.
func (c Config) margin() float64 {
	return math.Hypot(c.BodyLength, c.BodyWidth)/2 + 1
}

// Pose is the robot's true position and heading (degrees, image
// convention).
type Pose struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
}

// Position returns the pose position.
func (p Pose) Position() l4estimate.Position {
	return l4estimate.Position{X: p.X, Y: p.Y}
}

// Simulator integrates differential-drive kinematics on its clock and
// renders the scene on demand. It is safe for concurrent use.
type Simulator struct {
	cfg   Config
	clock timeutil.Clock
	floor *image.RGBA

	mu          sync.Mutex
	connected   bool
	x, y, theta float64 // theta in radians, image convention
	wheels      actuator.Command
	last        time.Time
	frames      int
	seq         uint64
}

// New validates cfg and returns a disconnected Simulator.
func New(cfg Config, clock timeutil.Clock) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sim config: %w", err)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Simulator{cfg: cfg, clock: clock, floor: renderFloor(cfg)}, nil
}

// Config returns the simulator configuration.
func (s *Simulator) Config() Config { return s.cfg }

// Connect starts a session: the robot is placed at the start pose with its
// wheels stopped and the reveal counter restarts.
func (s *Simulator) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return ErrSessionActive
	}
	s.connected = true
	s.x, s.y = s.cfg.Start.X, s.cfg.Start.Y
	s.theta = s.cfg.StartHeading * math.Pi / 180
	s.wheels = actuator.Stop
	s.last = s.clock.Now()
	s.frames = 0
	return nil
}

// Disconnect stops the wheels and ends the session. Disconnecting an idle
// simulator is a no-op.
func (s *Simulator) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	s.integrate(s.clock.Now())
	s.wheels = actuator.Stop
	s.connected = false
	return nil
}

// Connected reports whether a session is active.
func (s *Simulator) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Apply sets the wheel velocities from now on.
func (s *Simulator) Apply(ctx context.Context, cmd actuator.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !cmd.Valid() {
		return fmt.Errorf("sim: invalid command %v", cmd)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNoSession
	}
	s.integrate(s.clock.Now())
	s.wheels = cmd
	return nil
}

// Next renders the scene at the current clock time.
func (s *Simulator) Next(ctx context.Context) (l1frames.Frame, error) {
	if err := ctx.Err(); err != nil {
		return l1frames.Frame{}, fmt.Errorf("%w: %v", l1frames.ErrFrameUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return l1frames.Frame{}, ErrNoSession
	}
	now := s.clock.Now()
	s.integrate(now)
	s.frames++
	s.seq++
	img := s.renderLocked(s.frames > s.cfg.RevealAfter)
	return l1frames.Frame{Seq: s.seq, Timestamp: now, Image: img}, nil
}

// Close implements l1frames.Source. The session stays open.
func (s *Simulator) Close() error { return nil }

// Pose returns the true pose at the current clock time.
func (s *Simulator) Pose() Pose {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		s.integrate(s.clock.Now())
	}
	return Pose{X: s.x, Y: s.y, Heading: l4estimate.NormalizeDegrees(s.theta * 180 / math.Pi)}
}

// Wheels returns the wheel command currently applied.
func (s *Simulator) Wheels() actuator.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wheels
}

// Frames returns how many frames this session has rendered.
func (s *Simulator) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

const integrationStep = 10 * time.Millisecond

// integrate advances the pose to now. The angular rate is counter-clockwise
// seen from above, which decreases the image-convention heading.
func (s *Simulator) integrate(now time.Time) {
	dt := now.Sub(s.last)
	s.last = now
	if dt <= 0 || s.wheels.IsZero() {
		return
	}
	v := s.cfg.Speed * (s.wheels.Left + s.wheels.Right) / 2
	w := s.cfg.Speed * (s.wheels.Right - s.wheels.Left) / s.cfg.WheelBase

	m := s.cfg.margin()
	maxX, maxY := float64(s.cfg.Width)-m, float64(s.cfg.Height)-m
	for dt > 0 {
		step := min(dt, integrationStep)
		h := step.Seconds()
		s.x += v * math.Cos(s.theta) * h
		s.y += v * math.Sin(s.theta) * h
		s.theta -= w * h
		s.x = math.Max(m, math.Min(maxX, s.x))
		s.y = math.Max(m, math.Min(maxY, s.y))
		dt -= step
	}
	s.theta = math.Remainder(s.theta, 2*math.Pi)
}
