package control

import (
	"fmt"
	"math"

	"github.com/banshee-data/carcontrol/internal/config"
)

// PIDConfig holds controller gains and limits. IMin and IMax are required.
type PIDConfig struct {
	Kp, Ki, Kd float64
	Tolerance  float64  // dead band on |error|
	IMin, IMax *float64 // integral clamp
}

// PIDConfigFromTuning builds a PIDConfig from a loaded TuningConfig.
func PIDConfigFromTuning(cfg *config.TuningConfig) PIDConfig {
	imin, imax := cfg.IntegralBounds()
	return PIDConfig{
		Kp:        cfg.GetKp(),
		Ki:        cfg.GetKi(),
		Kd:        cfg.GetKd(),
		Tolerance: cfg.GetTolerance(),
		IMin:      imin,
		IMax:      imax,
	}
}

// ControllerState is a snapshot of the controller after the last Update.
type ControllerState struct {
	Setpoint  float64 `json:"setpoint"`
	PrevError float64 `json:"prev_error"`
	Error     float64 `json:"error"`
	Integral  float64 `json:"integral"`
	Output    float64 `json:"output"`
	InBand    bool    `json:"in_band"`
}

// PID is a discrete controller whose integral term only remembers the
// previous error: integral = Ki * (prev + err), clamped to [IMin, IMax].
// Inside the dead band the output is zero and the previous error is kept.
// A PID is owned by one loop and is not safe for concurrent use.
type PID struct {
	kp, ki, kd float64
	tolerance  float64
	imin, imax float64
	state      ControllerState
}

// NewPID validates cfg and returns a controller with zeroed memory.
func NewPID(cfg PIDConfig) (*PID, error) {
	if cfg.IMin == nil || cfg.IMax == nil {
		return nil, ErrMissingIntegralBounds
	}
	if *cfg.IMin > *cfg.IMax {
		return nil, fmt.Errorf("pid: imin (%g) exceeds imax (%g)", *cfg.IMin, *cfg.IMax)
	}
	if cfg.Tolerance < 0 {
		return nil, fmt.Errorf("pid: tolerance must be non-negative, got %g", cfg.Tolerance)
	}
	for name, v := range map[string]float64{"kp": cfg.Kp, "ki": cfg.Ki, "kd": cfg.Kd} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("pid: %s must be finite", name)
		}
	}
	return &PID{
		kp:        cfg.Kp,
		ki:        cfg.Ki,
		kd:        cfg.Kd,
		tolerance: cfg.Tolerance,
		imin:      *cfg.IMin,
		imax:      *cfg.IMax,
	}, nil
}

// Update runs one control step and returns the output.
func (p *PID) Update(setpoint, measured float64) float64 {
	err := setpoint - measured
	integral := math.Max(p.imin, math.Min(p.imax, p.ki*(p.state.PrevError+err)))

	p.state.Setpoint = setpoint
	p.state.Error = err

	if math.Abs(err) <= p.tolerance {
		p.state.Integral = integral
		p.state.Output = 0
		p.state.InBand = true
		return 0
	}

	out := p.kp*err + integral + p.kd*(err-p.state.PrevError)

	p.state.Integral = integral
	p.state.Output = out
	p.state.InBand = false
	p.state.PrevError = err
	return out
}

// State returns a snapshot of the controller state.
func (p *PID) State() ControllerState {
	return p.state
}

// Reset clears the controller memory.
func (p *PID) Reset() {
	p.state = ControllerState{}
}
