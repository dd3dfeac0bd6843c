package l2background

import (
	"fmt"

	"github.com/banshee-data/carcontrol/internal/config"
)

// Config provides a configuration builder for Model.
type Config struct {
	LearningRate       float64 // Rate once warm-up is complete (default: 0.1)
	WarmupLearningRate float64 // Rate during warm-up (default: 0.1)
	WarmupFrames       int     // Frames before the model is considered settled (default: 20)

	VarThreshold float64 // Squared Mahalanobis distance for background (default: 16)
	VarInit      float64 // Variance seeded from the first frame (default: 15)
	VarMin       float64 // Variance floor (default: 4)
	VarMax       float64 // Variance ceiling (default: 75)

	DetectShadows bool    // Label darker same-chroma pixels as shadow (default: true)
	ShadowTau     float64 // Lowest brightness ratio counted as shadow (default: 0.5)
}

// DefaultConfig returns a Config loaded from the canonical tuning defaults
// file (config/tuning.defaults.json).
// Panics if the file cannot be found, intended for tests.
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig. Variance
// bounds are fixed operational defaults, not user-tunable.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		LearningRate:       cfg.GetLearningRate(),
		WarmupLearningRate: cfg.GetWarmupLearningRate(),
		WarmupFrames:       cfg.GetWarmUpFrames(),
		VarThreshold:       cfg.GetVarThreshold(),
		VarInit:            15,
		VarMin:             4,
		VarMax:             75,
		DetectShadows:      cfg.GetDetectShadows(),
		ShadowTau:          cfg.GetShadowTau(),
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.LearningRate <= 0 || c.LearningRate > 1 {
		return fmt.Errorf("LearningRate must be in (0, 1], got %g", c.LearningRate)
	}
	if c.WarmupLearningRate <= 0 || c.WarmupLearningRate > 1 {
		return fmt.Errorf("WarmupLearningRate must be in (0, 1], got %g", c.WarmupLearningRate)
	}
	if c.WarmupFrames < 0 {
		return fmt.Errorf("WarmupFrames must be non-negative, got %d", c.WarmupFrames)
	}
	if c.VarThreshold <= 0 {
		return fmt.Errorf("VarThreshold must be positive, got %g", c.VarThreshold)
	}
	if c.VarMin <= 0 || c.VarMax < c.VarMin {
		return fmt.Errorf("variance bounds must satisfy 0 < VarMin <= VarMax, got [%g, %g]", c.VarMin, c.VarMax)
	}
	if c.VarInit < c.VarMin || c.VarInit > c.VarMax {
		return fmt.Errorf("VarInit %g outside [%g, %g]", c.VarInit, c.VarMin, c.VarMax)
	}
	if c.DetectShadows && (c.ShadowTau <= 0 || c.ShadowTau >= 1) {
		return fmt.Errorf("ShadowTau must be in (0, 1), got %g", c.ShadowTau)
	}
	return nil
}

// WithLearningRate sets the steady-state learning rate.
func (c Config) WithLearningRate(v float64) Config {
	c.LearningRate = v
	return c
}

// WithWarmup sets the warm-up frame count and its learning rate.
func (c Config) WithWarmup(frames int, rate float64) Config {
	c.WarmupFrames = frames
	c.WarmupLearningRate = rate
	return c
}

// WithVarThreshold sets the background distance threshold.
func (c Config) WithVarThreshold(v float64) Config {
	c.VarThreshold = v
	return c
}

// WithShadows enables or disables shadow labelling.
func (c Config) WithShadows(enabled bool, tau float64) Config {
	c.DetectShadows = enabled
	c.ShadowTau = tau
	return c
}
