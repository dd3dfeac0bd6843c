package l4estimate

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r2"
)

// Position is a point in image coordinates: origin top-left, x right, y down.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Vec returns p as a gonum vector.
func (p Position) Vec() r2.Vec {
	return r2.Vec{X: p.X, Y: p.Y}
}

// DistanceTo returns the Euclidean distance between p and q.
func (p Position) DistanceTo(q Position) float64 {
	return r2.Norm(r2.Sub(q.Vec(), p.Vec()))
}

func (p Position) String() string {
	return fmt.Sprintf("(%.1f, %.1f)", p.X, p.Y)
}

// Convention fixes the sign of derived angles.
type Convention int

const (
	// ConventionImage measures angles in image coordinates with y down, so
	// positive angles turn clockwise on screen.
	ConventionImage Convention = iota
	// ConventionMath flips y so positive angles turn counter-clockwise.
	ConventionMath
)

func (c Convention) String() string {
	if c == ConventionMath {
		return "math"
	}
	return "image"
}

// ParseConvention maps a configuration value onto a Convention.
func ParseConvention(s string) (Convention, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "image", "":
		return ConventionImage, nil
	case "math":
		return ConventionMath, nil
	default:
		return 0, fmt.Errorf("unknown orientation convention %q", s)
	}
}

// Heading returns the direction of travel from ref to cur in degrees within
// (-180, 180]. ok is false when the two positions coincide.
func Heading(ref, cur Position, conv Convention) (deg float64, ok bool) {
	d := r2.Sub(cur.Vec(), ref.Vec())
	if r2.Norm(d) == 0 {
		return 0, false
	}
	u := r2.Unit(d)
	if conv == ConventionMath {
		u.Y = -u.Y
	}
	return NormalizeDegrees(math.Atan2(u.Y, u.X) * 180 / math.Pi), true
}

// Bearing is Heading without the coincident-point check: it returns 0 when
// from and to coincide.
func Bearing(from, to Position, conv Convention) float64 {
	deg, _ := Heading(from, to, conv)
	return deg
}

// NormalizeDegrees wraps deg into (-180, 180].
func NormalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg <= -180 {
		deg += 360
	} else if deg > 180 {
		deg -= 360
	}
	return deg
}
