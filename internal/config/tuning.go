package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// ErrInvalidConfig wraps every validation failure so callers can tell a
// configuration problem from a runtime one.
var ErrInvalidConfig = errors.New("invalid configuration")

// TuningConfig represents the root configuration for a tracking run. Every
// field is optional in JSON; the Get* accessors supply defaults. The PID
// integral bounds are the exception: they have no default and the controller
// refuses to start without them.
type TuningConfig struct {
	// Frame source
	Source         *string `json:"source,omitempty"` // camera, file, remote, sim
	CameraDevice   *int    `json:"camera_device,omitempty"`
	ReplayPath     *string `json:"replay_path,omitempty"`
	ReplayLoop     *bool   `json:"replay_loop,omitempty"`
	RemoteURL      *string `json:"remote_url,omitempty"`
	RemoteCamera   *string `json:"remote_camera,omitempty"`
	LeftJoint      *string `json:"left_joint,omitempty"`
	RightJoint     *string `json:"right_joint,omitempty"`
	FlipVertical   *bool   `json:"flip_vertical,omitempty"`
	FrameTimeout   *string `json:"frame_timeout,omitempty"`   // duration string like "1s"
	SessionTimeout *string `json:"session_timeout,omitempty"` // duration string like "5s"

	// Background model
	LearningRate       *float64 `json:"learning_rate,omitempty"`
	WarmupLearningRate *float64 `json:"warmup_learning_rate,omitempty"`
	WarmUpFrames       *int     `json:"warm_up_frames,omitempty"`
	VarThreshold       *float64 `json:"var_threshold,omitempty"`
	DetectShadows      *bool    `json:"detect_shadows,omitempty"`
	ShadowTau          *float64 `json:"shadow_tau,omitempty"`
	BlurSigma          *float64 `json:"blur_sigma,omitempty"`

	// Segmentation
	ForegroundThreshold *int     `json:"foreground_threshold,omitempty"`
	HoleFill            *string  `json:"hole_fill,omitempty"` // flood, close, none
	FillSeed            *string  `json:"fill_seed,omitempty"` // border, corner
	CloseKernel         *int     `json:"close_kernel,omitempty"`
	CloseIterations     *int     `json:"close_iterations,omitempty"`
	MinBlobArea         *float64 `json:"min_blob_area,omitempty"`
	MinBlobFraction     *float64 `json:"min_blob_fraction,omitempty"`
	MinObjectFootprint  *float64 `json:"min_object_footprint,omitempty"`

	// Estimation
	PositionFilter        *string `json:"position_filter,omitempty"`        // none, kalman
	OrientationConvention *string `json:"orientation_convention,omitempty"` // image, math

	// PID
	Kp        *float64 `json:"kp,omitempty"`
	Ki        *float64 `json:"ki,omitempty"`
	Kd        *float64 `json:"kd,omitempty"`
	Tolerance *float64 `json:"tolerance,omitempty"`
	IMin      *float64 `json:"imin,omitempty"`
	IMax      *float64 `json:"imax,omitempty"`

	// Control loop
	CyclePeriod         *string  `json:"cycle_period,omitempty"`
	Objective           *string  `json:"objective,omitempty"` // goal, heading, position_x, position_y
	GoalX               *float64 `json:"goal_x,omitempty"`
	GoalY               *float64 `json:"goal_y,omitempty"`
	GoalRadius          *float64 `json:"goal_radius,omitempty"`
	TargetHeading       *float64 `json:"target_heading,omitempty"`
	CruiseSpeed         *float64 `json:"cruise_speed,omitempty"`
	InvertTurn          *bool    `json:"invert_turn,omitempty"`
	SettleCycles        *int     `json:"settle_cycles,omitempty"`
	MaxCycles           *int     `json:"max_cycles,omitempty"`
	CalibrationSpeed    *float64 `json:"calibration_speed,omitempty"`
	CalibrationMove     *string  `json:"calibration_move,omitempty"`
	CalibrationAttempts *int     `json:"calibration_attempts,omitempty"`
	ActuatorTimeout     *string  `json:"actuator_timeout,omitempty"`
	ExplorePeriod       *string  `json:"explore_period,omitempty"`

	// Actuator sink
	Sink       *string  `json:"sink,omitempty"` // sim, remote, serial, log
	SerialPort *string  `json:"serial_port,omitempty"`
	SerialBaud *int     `json:"serial_baud,omitempty"`
	WheelLimit *float64 `json:"wheel_limit,omitempty"`

	// In-process simulator
	SimWidth        *int     `json:"sim_width,omitempty"`
	SimHeight       *int     `json:"sim_height,omitempty"`
	SimStartX       *float64 `json:"sim_start_x,omitempty"`
	SimStartY       *float64 `json:"sim_start_y,omitempty"`
	SimStartHeading *float64 `json:"sim_start_heading,omitempty"`
	SimRevealAfter  *int     `json:"sim_reveal_after,omitempty"`

	// Debug output
	DebugDir   *string `json:"debug_dir,omitempty"`
	SaveFrames *bool   `json:"save_frames,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file fall back to the Get* defaults, so
// partial configs are safe (apart from imin/imax, see TuningConfig).
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/vision/l4estimate/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func oneOf(name string, v *string, allowed ...string) error {
	if v == nil {
		return nil
	}
	for _, a := range allowed {
		if *v == a {
			return nil
		}
	}
	return invalid("%s must be one of %v, got %q", name, allowed, *v)
}

func positiveDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return invalid("invalid %s '%s': %v", name, *v, err)
	}
	if d <= 0 {
		return invalid("%s must be positive, got %s", name, d)
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.LearningRate != nil && (*c.LearningRate <= 0 || *c.LearningRate > 1) {
		return invalid("learning_rate must be in (0, 1], got %g", *c.LearningRate)
	}
	if c.WarmupLearningRate != nil && (*c.WarmupLearningRate <= 0 || *c.WarmupLearningRate > 1) {
		return invalid("warmup_learning_rate must be in (0, 1], got %g", *c.WarmupLearningRate)
	}
	if c.WarmUpFrames != nil && *c.WarmUpFrames < 0 {
		return invalid("warm_up_frames must be non-negative, got %d", *c.WarmUpFrames)
	}
	if c.VarThreshold != nil && *c.VarThreshold <= 0 {
		return invalid("var_threshold must be positive, got %g", *c.VarThreshold)
	}
	if c.ShadowTau != nil && (*c.ShadowTau <= 0 || *c.ShadowTau >= 1) {
		return invalid("shadow_tau must be in (0, 1), got %g", *c.ShadowTau)
	}
	if c.BlurSigma != nil && *c.BlurSigma < 0 {
		return invalid("blur_sigma must be non-negative, got %g", *c.BlurSigma)
	}
	if c.ForegroundThreshold != nil && (*c.ForegroundThreshold < 1 || *c.ForegroundThreshold > 255) {
		return invalid("foreground_threshold must be in [1, 255], got %d", *c.ForegroundThreshold)
	}
	if c.CloseKernel != nil && (*c.CloseKernel < 1 || *c.CloseKernel%2 == 0) {
		return invalid("close_kernel must be a positive odd number, got %d", *c.CloseKernel)
	}
	if c.CloseIterations != nil && *c.CloseIterations < 1 {
		return invalid("close_iterations must be at least 1, got %d", *c.CloseIterations)
	}
	if c.MinBlobArea != nil && *c.MinBlobArea < 0 {
		return invalid("min_blob_area must be non-negative, got %g", *c.MinBlobArea)
	}
	if c.MinBlobFraction != nil && (*c.MinBlobFraction <= 0 || *c.MinBlobFraction > 1) {
		return invalid("min_blob_fraction must be in (0, 1], got %g", *c.MinBlobFraction)
	}
	if c.Tolerance != nil && *c.Tolerance < 0 {
		return invalid("tolerance must be non-negative, got %g", *c.Tolerance)
	}
	if c.IMin != nil && c.IMax != nil && *c.IMin > *c.IMax {
		return invalid("imin (%g) must not exceed imax (%g)", *c.IMin, *c.IMax)
	}
	if c.GoalRadius != nil && *c.GoalRadius <= 0 {
		return invalid("goal_radius must be positive, got %g", *c.GoalRadius)
	}
	if c.CalibrationAttempts != nil && *c.CalibrationAttempts < 1 {
		return invalid("calibration_attempts must be at least 1, got %d", *c.CalibrationAttempts)
	}
	if c.MaxCycles != nil && *c.MaxCycles < 0 {
		return invalid("max_cycles must be non-negative, got %d", *c.MaxCycles)
	}
	if c.WheelLimit != nil && *c.WheelLimit <= 0 {
		return invalid("wheel_limit must be positive, got %g", *c.WheelLimit)
	}
	if c.SimWidth != nil && *c.SimWidth < 16 {
		return invalid("sim_width must be at least 16, got %d", *c.SimWidth)
	}
	if c.SimHeight != nil && *c.SimHeight < 16 {
		return invalid("sim_height must be at least 16, got %d", *c.SimHeight)
	}

	for _, check := range []error{
		oneOf("source", c.Source, "camera", "file", "remote", "sim"),
		oneOf("sink", c.Sink, "sim", "remote", "serial", "log"),
		oneOf("hole_fill", c.HoleFill, "flood", "close", "none"),
		oneOf("fill_seed", c.FillSeed, "border", "corner"),
		oneOf("position_filter", c.PositionFilter, "none", "kalman"),
		oneOf("orientation_convention", c.OrientationConvention, "image", "math"),
		oneOf("objective", c.Objective, "goal", "heading", "position_x", "position_y"),
		positiveDuration("frame_timeout", c.FrameTimeout),
		positiveDuration("session_timeout", c.SessionTimeout),
		positiveDuration("cycle_period", c.CyclePeriod),
		positiveDuration("calibration_move", c.CalibrationMove),
		positiveDuration("actuator_timeout", c.ActuatorTimeout),
		positiveDuration("explore_period", c.ExplorePeriod),
	} {
		if check != nil {
			return check
		}
	}

	if c.GetSource() == "file" && c.GetReplayPath() == "" {
		return invalid("replay_path is required when source is \"file\"")
	}
	if c.GetSink() == "serial" && c.GetSerialPort() == "" {
		return invalid("serial_port is required when sink is \"serial\"")
	}

	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

func stringOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// GetSource returns the frame source kind or the default ("sim").
func (c *TuningConfig) GetSource() string { return stringOr(c.Source, "sim") }

// GetCameraDevice returns the capture device id or the default.
func (c *TuningConfig) GetCameraDevice() int { return intOr(c.CameraDevice, 0) }

// GetReplayPath returns the replay directory or video file.
func (c *TuningConfig) GetReplayPath() string { return stringOr(c.ReplayPath, "") }

// GetReplayLoop reports whether a replay restarts when exhausted.
func (c *TuningConfig) GetReplayLoop() bool { return boolOr(c.ReplayLoop, false) }

// GetRemoteURL returns the simulator API base URL.
func (c *TuningConfig) GetRemoteURL() string {
	return stringOr(c.RemoteURL, "http://127.0.0.1:19999")
}

// GetRemoteCamera returns the remote vision sensor name.
func (c *TuningConfig) GetRemoteCamera() string { return stringOr(c.RemoteCamera, "camera") }

// GetLeftJoint returns the remote left wheel joint name.
func (c *TuningConfig) GetLeftJoint() string { return stringOr(c.LeftJoint, "left_motor") }

// GetRightJoint returns the remote right wheel joint name.
func (c *TuningConfig) GetRightJoint() string { return stringOr(c.RightJoint, "right_motor") }

// GetFlipVertical reports whether remote frames arrive bottom-up.
func (c *TuningConfig) GetFlipVertical() bool { return boolOr(c.FlipVertical, true) }

// GetFrameTimeout parses and returns the FrameTimeout as a time.Duration.
func (c *TuningConfig) GetFrameTimeout() time.Duration {
	return durationOr(c.FrameTimeout, time.Second)
}

// GetSessionTimeout parses and returns the SessionTimeout as a time.Duration.
func (c *TuningConfig) GetSessionTimeout() time.Duration {
	return durationOr(c.SessionTimeout, 5*time.Second)
}

// GetLearningRate returns the steady-state background learning rate.
func (c *TuningConfig) GetLearningRate() float64 { return floatOr(c.LearningRate, 0.1) }

// GetWarmupLearningRate returns the learning rate used during warm-up.
func (c *TuningConfig) GetWarmupLearningRate() float64 {
	return floatOr(c.WarmupLearningRate, 0.1)
}

// GetWarmUpFrames returns the number of warm-up frames.
func (c *TuningConfig) GetWarmUpFrames() int { return intOr(c.WarmUpFrames, 20) }

// GetVarThreshold returns the squared Mahalanobis background threshold.
func (c *TuningConfig) GetVarThreshold() float64 { return floatOr(c.VarThreshold, 16) }

// GetDetectShadows reports whether shadow pixels are labelled separately.
func (c *TuningConfig) GetDetectShadows() bool { return boolOr(c.DetectShadows, true) }

// GetShadowTau returns the lower brightness ratio for shadow pixels.
func (c *TuningConfig) GetShadowTau() float64 { return floatOr(c.ShadowTau, 0.5) }

// GetBlurSigma returns the pre-blur sigma; 0 disables blurring.
func (c *TuningConfig) GetBlurSigma() float64 { return floatOr(c.BlurSigma, 0) }

// GetForegroundThreshold returns the label-map binarisation threshold.
func (c *TuningConfig) GetForegroundThreshold() int { return intOr(c.ForegroundThreshold, 100) }

// GetHoleFill returns the hole filling mode.
func (c *TuningConfig) GetHoleFill() string { return stringOr(c.HoleFill, "flood") }

// GetFillSeed returns the flood-fill seed policy.
func (c *TuningConfig) GetFillSeed() string { return stringOr(c.FillSeed, "border") }

// GetCloseKernel returns the closing kernel size.
func (c *TuningConfig) GetCloseKernel() int { return intOr(c.CloseKernel, 5) }

// GetCloseIterations returns the number of closing passes.
func (c *TuningConfig) GetCloseIterations() int { return intOr(c.CloseIterations, 2) }

// GetMinBlobArea returns the minimum blob area in pixels. When
// min_object_footprint is set it takes precedence and the area is derived as
// min_blob_fraction × min_object_footprint.
func (c *TuningConfig) GetMinBlobArea() float64 {
	if c.MinObjectFootprint != nil && *c.MinObjectFootprint > 0 {
		return c.GetMinBlobFraction() * *c.MinObjectFootprint
	}
	return floatOr(c.MinBlobArea, 20)
}

// GetMinBlobFraction returns the fraction of the object footprint used for
// the derived minimum blob area.
func (c *TuningConfig) GetMinBlobFraction() float64 { return floatOr(c.MinBlobFraction, 0.045) }

// GetPositionFilter returns the position smoothing mode.
func (c *TuningConfig) GetPositionFilter() string { return stringOr(c.PositionFilter, "none") }

// GetOrientationConvention returns the angle sign convention.
func (c *TuningConfig) GetOrientationConvention() string {
	return stringOr(c.OrientationConvention, "image")
}

// GetKp returns the proportional gain.
func (c *TuningConfig) GetKp() float64 { return floatOr(c.Kp, 0.02) }

// GetKi returns the integral gain.
func (c *TuningConfig) GetKi() float64 { return floatOr(c.Ki, 0) }

// GetKd returns the derivative gain.
func (c *TuningConfig) GetKd() float64 { return floatOr(c.Kd, 0) }

// GetTolerance returns the PID dead band.
func (c *TuningConfig) GetTolerance() float64 { return floatOr(c.Tolerance, 2) }

// IntegralBounds returns the configured integral clamp. Either pointer may be
// nil; the PID constructor rejects that.
func (c *TuningConfig) IntegralBounds() (imin, imax *float64) {
	return c.IMin, c.IMax
}

// GetCyclePeriod parses and returns the CyclePeriod as a time.Duration.
func (c *TuningConfig) GetCyclePeriod() time.Duration {
	return durationOr(c.CyclePeriod, 200*time.Millisecond)
}

// GetObjective returns the control objective.
func (c *TuningConfig) GetObjective() string { return stringOr(c.Objective, "goal") }

// GetGoal returns the goal point in image coordinates.
func (c *TuningConfig) GetGoal() (x, y float64) {
	return floatOr(c.GoalX, 240), floatOr(c.GoalY, 120)
}

// GetGoalRadius returns the distance at which the goal counts as reached.
func (c *TuningConfig) GetGoalRadius() float64 { return floatOr(c.GoalRadius, 12) }

// GetTargetHeading returns the heading setpoint in degrees.
func (c *TuningConfig) GetTargetHeading() float64 { return floatOr(c.TargetHeading, 0) }

// GetCruiseSpeed returns the forward wheel command used while tracking.
func (c *TuningConfig) GetCruiseSpeed() float64 { return floatOr(c.CruiseSpeed, 1) }

// GetInvertTurn reports whether the angular command sign is flipped.
func (c *TuningConfig) GetInvertTurn() bool { return boolOr(c.InvertTurn, false) }

// GetSettleCycles returns the number of consecutive dead-band cycles that
// count as reaching a scalar setpoint.
func (c *TuningConfig) GetSettleCycles() int { return intOr(c.SettleCycles, 5) }

// GetMaxCycles returns the tracking cycle limit; 0 means unlimited.
func (c *TuningConfig) GetMaxCycles() int { return intOr(c.MaxCycles, 0) }

// GetCalibrationSpeed returns the wheel command used for calibration moves.
func (c *TuningConfig) GetCalibrationSpeed() float64 { return floatOr(c.CalibrationSpeed, 1) }

// GetCalibrationMove parses and returns the CalibrationMove as a time.Duration.
func (c *TuningConfig) GetCalibrationMove() time.Duration {
	return durationOr(c.CalibrationMove, 2*time.Second)
}

// GetCalibrationAttempts returns the bounded number of calibration attempts.
func (c *TuningConfig) GetCalibrationAttempts() int { return intOr(c.CalibrationAttempts, 3) }

// GetActuatorTimeout parses and returns the ActuatorTimeout as a time.Duration.
func (c *TuningConfig) GetActuatorTimeout() time.Duration {
	return durationOr(c.ActuatorTimeout, 500*time.Millisecond)
}

// GetExplorePeriod parses and returns the ExplorePeriod as a time.Duration.
func (c *TuningConfig) GetExplorePeriod() time.Duration {
	return durationOr(c.ExplorePeriod, 2*time.Second)
}

// GetSink returns the actuator sink kind.
func (c *TuningConfig) GetSink() string { return stringOr(c.Sink, "sim") }

// GetSerialPort returns the serial device path.
func (c *TuningConfig) GetSerialPort() string { return stringOr(c.SerialPort, "") }

// GetSerialBaud returns the serial baud rate.
func (c *TuningConfig) GetSerialBaud() int { return intOr(c.SerialBaud, 115200) }

// GetWheelLimit returns the absolute wheel command limit applied by sinks
// that saturate.
func (c *TuningConfig) GetWheelLimit() float64 { return floatOr(c.WheelLimit, 2) }

// GetSimSize returns the simulator frame size.
func (c *TuningConfig) GetSimSize() (w, h int) {
	return intOr(c.SimWidth, 320), intOr(c.SimHeight, 240)
}

// GetSimStart returns the simulated robot's starting pose (heading in degrees).
func (c *TuningConfig) GetSimStart() (x, y, heading float64) {
	return floatOr(c.SimStartX, 80), floatOr(c.SimStartY, 120), floatOr(c.SimStartHeading, 0)
}

// GetSimRevealAfter returns the number of frames the simulated robot stays
// hidden, letting the background model learn an empty floor.
func (c *TuningConfig) GetSimRevealAfter() int { return intOr(c.SimRevealAfter, 0) }

// GetDebugDir returns the debug output directory; empty disables recording.
func (c *TuningConfig) GetDebugDir() string { return stringOr(c.DebugDir, "") }

// GetSaveFrames reports whether annotated frames are written every cycle.
func (c *TuningConfig) GetSaveFrames() bool { return boolOr(c.SaveFrames, false) }
