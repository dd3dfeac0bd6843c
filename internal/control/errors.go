package control

import (
	"errors"
	"fmt"
)

// ErrMissingIntegralBounds is returned by NewPID when Imin or Imax is unset.
var ErrMissingIntegralBounds = errors.New("pid: integral bounds imin and imax are required")

// ErrCalibration matches every *CalibrationError via errors.Is.
var ErrCalibration = errors.New("calibration failed")

// CalibrationError reports that the loop could not establish its initial
// position or orientation within the allowed attempts.
type CalibrationError struct {
	Phase    State
	Attempts int
	Err      error // last underlying failure, if any
}

func (e *CalibrationError) Error() string {
	msg := fmt.Sprintf("calibration failed in %s after %d attempts", e.Phase, e.Attempts)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is ErrCalibration.
func (e *CalibrationError) Is(target error) bool {
	return target == ErrCalibration
}

func (e *CalibrationError) Unwrap() error {
	return e.Err
}
