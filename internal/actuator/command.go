// Package actuator maps controller output onto wheel commands and applies
// them to a drive.
package actuator

import (
	"fmt"
	"math"
)

// Command is a left/right wheel velocity pair.
type Command struct {
	Left  float64 `json:"left"`
	Right float64 `json:"right"`
}

// Stop is the zero command.
var Stop = Command{}

// Valid reports whether both components are finite.
func (c Command) Valid() bool {
	return !math.IsNaN(c.Left) && !math.IsInf(c.Left, 0) &&
		!math.IsNaN(c.Right) && !math.IsInf(c.Right, 0)
}

// IsZero reports whether c stops both wheels.
func (c Command) IsZero() bool {
	return c.Left == 0 && c.Right == 0
}

// Clamp limits each wheel to [-limit, limit]. A non-positive limit returns
// c unchanged.
func (c Command) Clamp(limit float64) Command {
	if limit <= 0 {
		return c
	}
	return Command{Left: clamp(c.Left, limit), Right: clamp(c.Right, limit)}
}

func (c Command) String() string {
	return fmt.Sprintf("L%+.3f R%+.3f", c.Left, c.Right)
}

func clamp(v, limit float64) float64 {
	return math.Max(-limit, math.Min(limit, v))
}

// PassThrough drives both wheels with u. Used for turn-in-place and single
// axis objectives.
func PassThrough(u float64) Command {
	return Command{Left: u, Right: u}
}

// Differential decomposes a linear velocity v and an angular term w into
// wheel velocities: left = v - w, right = v + w. Positive w turns the
// vehicle counter-clockwise seen from above.
func Differential(v, w float64) Command {
	return Command{Left: v - w, Right: v + w}
}

// Spin rotates in place at speed s.
func Spin(s float64) Command {
	return Command{Left: -s, Right: s}
}
