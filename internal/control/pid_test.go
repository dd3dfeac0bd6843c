package control

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func newPID(t *testing.T, kp, ki, kd, tol, imin, imax float64) *PID {
	t.Helper()
	p, err := NewPID(PIDConfig{Kp: kp, Ki: ki, Kd: kd, Tolerance: tol, IMin: ptr(imin), IMax: ptr(imax)})
	require.NoError(t, err)
	return p
}

func TestPID_Proportional(t *testing.T) {
	p := newPID(t, 1, 0, 0, 0, -1, 1)

	assert.Equal(t, 6.0, p.Update(10, 4))
	st := p.State()
	assert.Equal(t, 6.0, st.PrevError)
	assert.Equal(t, 6.0, st.Output)
	assert.Equal(t, 10.0, st.Setpoint)
	assert.False(t, st.InBand)
}

func TestPID_Derivative(t *testing.T) {
	p := newPID(t, 1, 0, 0.5, 0, -1, 1)

	assert.Equal(t, 9.0, p.Update(10, 4))
	assert.Equal(t, 1.5, p.Update(10, 7))
	assert.Equal(t, 3.0, p.State().PrevError)
}

func TestPID_IntegralOnlyRemembersPreviousError(t *testing.T) {
	p := newPID(t, 0, 0.1, 0, 0, -100, 100)

	assert.InDelta(t, 0.1, p.Update(1, 0), 1e-12)
	assert.InDelta(t, 0.2, p.Update(1, 0), 1e-12)
	assert.InDelta(t, 0.2, p.Update(1, 0), 1e-12, "no running sum")
}

func TestPID_IntegralClamp(t *testing.T) {
	tests := []struct {
		name     string
		sp, meas float64
		want     float64
	}{
		{"above imax", 10, 4, 2},
		{"below imin", -10, 0, -3},
		{"inside", 1, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPID(t, 0, 1, 0, 0, -3, 2)
			assert.Equal(t, tt.want, p.Update(tt.sp, tt.meas))
			assert.Equal(t, tt.want, p.State().Integral)
		})
	}
}

func TestPID_DeadBand(t *testing.T) {
	p := newPID(t, 1, 0, 0, 1, -1, 1)

	require.Equal(t, 6.0, p.Update(10, 4))

	assert.Equal(t, 0.0, p.Update(10, 9.5))
	st := p.State()
	assert.True(t, st.InBand)
	assert.Equal(t, 0.0, st.Output)
	assert.Equal(t, 0.5, st.Error)
	assert.Equal(t, 6.0, st.PrevError, "dead band keeps the previous error")

	assert.Equal(t, 0.0, p.Update(10, 11), "boundary is inside the band")
	assert.Equal(t, 6.0, p.State().PrevError)
}

func TestPID_DeadBandIntegralStaysClamped(t *testing.T) {
	p := newPID(t, 1, 1, 0, 1, -2, 2)

	require.Equal(t, 12.0, p.Update(10, 0), "kp*10 + integral clamped to 2")

	assert.Equal(t, 0.0, p.Update(10, 9.5))
	st := p.State()
	assert.True(t, st.InBand)
	assert.Equal(t, 2.0, st.Integral, "ki*(10+0.5) is reported clamped")
}

func TestPID_Deterministic(t *testing.T) {
	inputs := [][2]float64{{10, 4}, {10, 7}, {10, 9.9}, {-5, 3}, {0, 0}, {2, -2}}
	run := func() []ControllerState {
		p := newPID(t, 0.8, 0.3, 0.2, 0.5, -2, 2)
		var out []ControllerState
		for _, in := range inputs {
			p.Update(in[0], in[1])
			out = append(out, p.State())
		}
		return out
	}
	if diff := cmp.Diff(run(), run()); diff != "" {
		t.Errorf("runs differ (-first +second):\n%s", diff)
	}
}

func TestPID_Reset(t *testing.T) {
	p := newPID(t, 1, 1, 1, 0, -5, 5)
	p.Update(3, 0)
	p.Reset()
	assert.Equal(t, ControllerState{}, p.State())
}

func TestNewPID_Validation(t *testing.T) {
	_, err := NewPID(PIDConfig{Kp: 1, IMax: ptr(1)})
	assert.ErrorIs(t, err, ErrMissingIntegralBounds)
	_, err = NewPID(PIDConfig{Kp: 1, IMin: ptr(-1)})
	assert.True(t, errors.Is(err, ErrMissingIntegralBounds))

	_, err = NewPID(PIDConfig{Kp: 1, IMin: ptr(2), IMax: ptr(1)})
	assert.ErrorContains(t, err, "exceeds")

	_, err = NewPID(PIDConfig{Kp: 1, Tolerance: -1, IMin: ptr(-1), IMax: ptr(1)})
	assert.Error(t, err)

	_, err = NewPID(PIDConfig{Kp: math.NaN(), IMin: ptr(-1), IMax: ptr(1)})
	assert.ErrorContains(t, err, "kp")

	_, err = NewPID(PIDConfig{IMin: ptr(0), IMax: ptr(0)})
	assert.NoError(t, err, "equal bounds are allowed")
}

func TestPIDConfigFromTuning(t *testing.T) {
	cfg := PIDConfigFromTuning(mustTuning(t, `{"kp": 0.5, "ki": 0.1, "tolerance": 3, "imin": -4, "imax": 4}`))
	assert.Equal(t, 0.5, cfg.Kp)
	assert.Equal(t, 0.1, cfg.Ki)
	assert.Equal(t, 0.0, cfg.Kd)
	assert.Equal(t, 3.0, cfg.Tolerance)
	require.NotNil(t, cfg.IMin)
	require.NotNil(t, cfg.IMax)
	assert.Equal(t, -4.0, *cfg.IMin)
	assert.Equal(t, 4.0, *cfg.IMax)

	_, err := NewPID(PIDConfigFromTuning(mustTuning(t, `{"kp": 0.5}`)))
	assert.ErrorIs(t, err, ErrMissingIntegralBounds)
}
