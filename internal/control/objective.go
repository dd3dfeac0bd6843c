package control

import (
	"fmt"
	"strings"

	"github.com/banshee-data/carcontrol/internal/actuator"
	"github.com/banshee-data/carcontrol/internal/config"
	"github.com/banshee-data/carcontrol/internal/vision/l4estimate"
)

// ObjectiveKind selects what the PID regulates.
type ObjectiveKind int

const (
	// ObjectiveGoal steers toward Goal at cruise speed.
	ObjectiveGoal ObjectiveKind = iota
	// ObjectiveHeading turns in place toward Heading.
	ObjectiveHeading
	// ObjectivePositionX drives both wheels until x reaches Goal.X.
	ObjectivePositionX
	// ObjectivePositionY drives both wheels until y reaches Goal.Y.
	ObjectivePositionY
)

func (k ObjectiveKind) String() string {
	switch k {
	case ObjectiveGoal:
		return "goal"
	case ObjectiveHeading:
		return "heading"
	case ObjectivePositionX:
		return "position_x"
	case ObjectivePositionY:
		return "position_y"
	default:
		return fmt.Sprintf("ObjectiveKind(%d)", int(k))
	}
}

// ParseObjectiveKind maps a configuration value onto an ObjectiveKind.
func ParseObjectiveKind(s string) (ObjectiveKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "goal", "":
		return ObjectiveGoal, nil
	case "heading":
		return ObjectiveHeading, nil
	case "position_x":
		return ObjectivePositionX, nil
	case "position_y":
		return ObjectivePositionY, nil
	default:
		return 0, fmt.Errorf("unknown objective %q", s)
	}
}

// Objective turns the tracked state into a PID setpoint and measurement,
// maps the PID output to a wheel command and decides when the run is done.
type Objective struct {
	Kind         ObjectiveKind
	Goal         l4estimate.Position
	Radius       float64 // goal reached within this distance
	Heading      float64 // degrees, for ObjectiveHeading
	Cruise       float64 // forward wheel command for ObjectiveGoal
	Turn         float64 // +1 or -1
	SettleCycles int     // dead-band cycles that count as reached; 0 never settles
	Convention   l4estimate.Convention
}

// ObjectiveFromTuning builds an Objective from a loaded TuningConfig.
func ObjectiveFromTuning(cfg *config.TuningConfig) (Objective, error) {
	kind, err := ParseObjectiveKind(cfg.GetObjective())
	if err != nil {
		return Objective{}, err
	}
	conv, err := l4estimate.ParseConvention(cfg.GetOrientationConvention())
	if err != nil {
		return Objective{}, err
	}
	gx, gy := cfg.GetGoal()
	turn := 1.0
	if cfg.GetInvertTurn() {
		turn = -1
	}
	return Objective{
		Kind:         kind,
		Goal:         l4estimate.Position{X: gx, Y: gy},
		Radius:       cfg.GetGoalRadius(),
		Heading:      cfg.GetTargetHeading(),
		Cruise:       cfg.GetCruiseSpeed(),
		Turn:         turn,
		SettleCycles: cfg.GetSettleCycles(),
		Convention:   conv,
	}, nil
}

// Validate checks the objective parameters.
func (o Objective) Validate() error {
	if o.Kind < ObjectiveGoal || o.Kind > ObjectivePositionY {
		return fmt.Errorf("unknown objective %v", o.Kind)
	}
	if o.Turn != 1 && o.Turn != -1 {
		return fmt.Errorf("turn must be +1 or -1, got %g", o.Turn)
	}
	if o.Kind == ObjectiveGoal && o.Radius <= 0 {
		return fmt.Errorf("goal radius must be positive, got %g", o.Radius)
	}
	if o.SettleCycles < 0 {
		return fmt.Errorf("settle cycles must be non-negative, got %d", o.SettleCycles)
	}
	return nil
}

// Evaluate returns the setpoint and measured value for the current state.
// ok is false when the state lacks what the objective needs. For angular
// objectives the measurement is shifted by whole turns so that the error
// setpoint-measured lies in (-180, 180].
func (o Objective) Evaluate(s *l4estimate.TrackState) (setpoint, measured float64, ok bool) {
	pos, hasPos := s.Position()
	orient, hasOrient := s.Orientation()

	switch o.Kind {
	case ObjectiveHeading:
		if !hasOrient {
			return 0, 0, false
		}
		return o.Heading, wrapMeasured(o.Heading, orient), true
	case ObjectiveGoal:
		if !hasPos || !hasOrient {
			return 0, 0, false
		}
		sp := l4estimate.Bearing(pos, o.Goal, o.Convention)
		return sp, wrapMeasured(sp, orient), true
	case ObjectivePositionX:
		if !hasPos {
			return 0, 0, false
		}
		return o.Goal.X, pos.X, true
	case ObjectivePositionY:
		if !hasPos {
			return 0, 0, false
		}
		return o.Goal.Y, pos.Y, true
	}
	return 0, 0, false
}

func wrapMeasured(setpoint, measured float64) float64 {
	return setpoint - l4estimate.NormalizeDegrees(setpoint-measured)
}

// Command maps the PID output u onto a wheel command. Differential takes a
// counter-clockwise angular rate, while image-convention angles grow
// clockwise, so the turn is negated under ConventionImage. Turn flips it
// again for mirrored cameras.
func (o Objective) Command(u float64) actuator.Command {
	switch o.Kind {
	case ObjectiveGoal:
		return actuator.Differential(o.Cruise, o.angular(u))
	case ObjectiveHeading:
		return actuator.Differential(0, o.angular(u))
	default:
		return actuator.PassThrough(u)
	}
}

func (o Objective) angular(u float64) float64 {
	if o.Convention == l4estimate.ConventionImage {
		u = -u
	}
	return o.Turn * u
}

// Reached reports whether the run is complete. settled counts consecutive
// cycles spent inside the PID dead band.
func (o Objective) Reached(s *l4estimate.TrackState, settled int) bool {
	if o.Kind == ObjectiveGoal {
		pos, ok := s.Position()
		return ok && pos.DistanceTo(o.Goal) <= o.Radius
	}
	return o.SettleCycles > 0 && settled >= o.SettleCycles
}
