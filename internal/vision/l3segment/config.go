package l3segment

import (
	"fmt"
	"strings"

	"github.com/banshee-data/carcontrol/internal/config"
)

// HoleFill selects how interior holes in the foreground mask are closed.
type HoleFill int

const (
	FillFlood HoleFill = iota // flood-fill the outside and OR its complement in
	FillClose                 // morphological closing
	FillNone
)

func (h HoleFill) String() string {
	switch h {
	case FillFlood:
		return "flood"
	case FillClose:
		return "close"
	case FillNone:
		return "none"
	default:
		return fmt.Sprintf("HoleFill(%d)", int(h))
	}
}

// ParseHoleFill maps a configuration value onto a HoleFill mode.
func ParseHoleFill(s string) (HoleFill, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "flood", "":
		return FillFlood, nil
	case "close":
		return FillClose, nil
	case "none":
		return FillNone, nil
	default:
		return 0, fmt.Errorf("unknown hole fill mode %q", s)
	}
}

// SeedPolicy states which pixels are assumed to be background when flood
// filling the outside of the mask. The assumption is scene dependent.
type SeedPolicy int

const (
	// SeedBorder seeds from every border pixel that is background.
	SeedBorder SeedPolicy = iota
	// SeedCorner seeds from pixel (0,0) only.
	SeedCorner
)

func (p SeedPolicy) String() string {
	if p == SeedCorner {
		return "corner"
	}
	return "border"
}

// ParseSeedPolicy maps a configuration value onto a SeedPolicy.
func ParseSeedPolicy(s string) (SeedPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "border", "":
		return SeedBorder, nil
	case "corner":
		return SeedCorner, nil
	default:
		return 0, fmt.Errorf("unknown fill seed %q", s)
	}
}

// Config holds segmentation parameters.
type Config struct {
	Threshold       uint8      // label value at or above which a pixel is foreground
	HoleFill        HoleFill   // hole filling mode
	Seed            SeedPolicy // flood-fill seed assumption
	CloseKernel     int        // odd kernel size for FillClose
	CloseIterations int        // dilate/erode passes for FillClose
	MinArea         float64    // blobs with fewer pixels are discarded
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) (Config, error) {
	fill, err := ParseHoleFill(cfg.GetHoleFill())
	if err != nil {
		return Config{}, err
	}
	seed, err := ParseSeedPolicy(cfg.GetFillSeed())
	if err != nil {
		return Config{}, err
	}
	c := Config{
		Threshold:       uint8(cfg.GetForegroundThreshold()),
		HoleFill:        fill,
		Seed:            seed,
		CloseKernel:     cfg.GetCloseKernel(),
		CloseIterations: cfg.GetCloseIterations(),
		MinArea:         cfg.GetMinBlobArea(),
	}
	return c, c.Validate()
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Threshold == 0 {
		return fmt.Errorf("Threshold must be at least 1")
	}
	if c.HoleFill == FillClose {
		if c.CloseKernel < 1 || c.CloseKernel%2 == 0 {
			return fmt.Errorf("CloseKernel must be a positive odd number, got %d", c.CloseKernel)
		}
		if c.CloseIterations < 1 {
			return fmt.Errorf("CloseIterations must be at least 1, got %d", c.CloseIterations)
		}
	}
	if c.MinArea < 0 {
		return fmt.Errorf("MinArea must be non-negative, got %g", c.MinArea)
	}
	return nil
}
