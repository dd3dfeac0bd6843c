package l4estimate

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"

	kalman_filter "github.com/LdDl/kalman-filter"
	"github.com/disintegration/gift"

	"github.com/banshee-data/carcontrol/internal/config"
	"github.com/banshee-data/carcontrol/internal/vision/l1frames"
	"github.com/banshee-data/carcontrol/internal/vision/l2background"
	"github.com/banshee-data/carcontrol/internal/vision/l3segment"
)

// PositionFilter selects optional smoothing of raw positions.
type PositionFilter int

const (
	FilterNone PositionFilter = iota
	FilterKalman
)

func (f PositionFilter) String() string {
	if f == FilterKalman {
		return "kalman"
	}
	return "none"
}

// ParsePositionFilter maps a configuration value onto a PositionFilter.
func ParsePositionFilter(s string) (PositionFilter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return FilterNone, nil
	case "kalman":
		return FilterKalman, nil
	default:
		return 0, fmt.Errorf("unknown position filter %q", s)
	}
}

// EstimatorConfig bundles the per-layer configurations used by an Estimator.
type EstimatorConfig struct {
	Background l2background.Config
	Segment    l3segment.Config
	BlurSigma  float64 // Gaussian pre-blur, 0 disables
	Filter     PositionFilter
}

// EstimatorConfigFromTuning builds an EstimatorConfig from a loaded
// TuningConfig.
func EstimatorConfigFromTuning(cfg *config.TuningConfig) (EstimatorConfig, error) {
	seg, err := l3segment.ConfigFromTuning(cfg)
	if err != nil {
		return EstimatorConfig{}, err
	}
	filter, err := ParsePositionFilter(cfg.GetPositionFilter())
	if err != nil {
		return EstimatorConfig{}, err
	}
	return EstimatorConfig{
		Background: l2background.ConfigFromTuning(cfg),
		Segment:    seg,
		BlurSigma:  cfg.GetBlurSigma(),
		Filter:     filter,
	}, nil
}

// Estimate is the outcome of processing one frame.
type Estimate struct {
	Seq      uint64
	Position Position // held position when Found is false
	Found    bool
	Frame    *image.RGBA // input frame, before any blur
	Labels   *image.Gray
	Segments l3segment.Result
	Metrics  l2background.FrameMetrics
}

// Estimator turns frames into a position estimate. It owns its background
// model and is not safe for concurrent use.
type Estimator struct {
	model *l2background.Model
	seg   *l3segment.Segmenter
	blur  *gift.GIFT
	kf    *kalman_filter.Kalman2D
	cfg   EstimatorConfig

	held    Position
	hasHeld bool
}

// NewEstimator validates cfg and builds an Estimator.
func NewEstimator(cfg EstimatorConfig) (*Estimator, error) {
	model, err := l2background.NewModel(cfg.Background)
	if err != nil {
		return nil, err
	}
	seg, err := l3segment.NewSegmenter(cfg.Segment)
	if err != nil {
		return nil, err
	}
	if cfg.BlurSigma < 0 {
		return nil, fmt.Errorf("BlurSigma must be non-negative, got %g", cfg.BlurSigma)
	}
	e := &Estimator{model: model, seg: seg, cfg: cfg}
	if cfg.BlurSigma > 0 {
		e.blur = gift.New(gift.GaussianBlur(float32(cfg.BlurSigma)))
	}
	return e, nil
}

// Model exposes the background model, mainly for warm-up status.
func (e *Estimator) Model() *l2background.Model {
	return e.model
}

// Position returns the last position this estimator reported as found.
func (e *Estimator) Position() (Position, bool) {
	return e.held, e.hasHeld
}

// Estimate feeds frame to the background model and returns the centre of
// the largest surviving blob. When nothing survives, Found is false and
// the previously held position is returned unchanged.
func (e *Estimator) Estimate(frame l1frames.Frame) (Estimate, error) {
	img := frame.Image
	if e.blur != nil {
		dst := image.NewRGBA(e.blur.Bounds(img.Bounds()))
		e.blur.Draw(dst, img)
		img = dst
	}

	labels, err := e.model.Apply(img)
	if err != nil {
		return Estimate{}, err
	}
	res := e.seg.Segment(labels)
	out := Estimate{
		Seq:      frame.Seq,
		Frame:    frame.Image,
		Labels:   labels,
		Segments: res,
		Metrics:  e.model.LastMetrics(),
	}

	if !res.Found {
		tracef("frame=%d no blob (%d components)", frame.Seq, len(res.Blobs))
		out.Position = e.held
		return out, nil
	}

	x, y := res.Best.Center()
	p := e.smooth(Position{X: x, Y: y})
	e.held, e.hasHeld = p, true
	out.Position, out.Found = p, true
	tracef("frame=%d blob area=%d box=%v pos=%v", frame.Seq, res.Best.Area, res.Best.Box, p)
	return out, nil
}

// smooth passes raw through the Kalman filter when one is configured.
func (e *Estimator) smooth(raw Position) Position {
	if e.cfg.Filter != FilterKalman {
		return raw
	}
	if e.kf == nil {
		e.kf = kalman_filter.NewKalman2D(1.0, 0, 0, 2.0, 0.5, 0.5, kalman_filter.WithState2D(raw.X, raw.Y))
		return raw
	}
	e.kf.Predict()
	if err := e.kf.Update(raw.X, raw.Y); err != nil {
		opsf("kalman update failed, using raw position: %v", err)
		return raw
	}
	x, y := e.kf.GetState()
	return Position{X: x, Y: y}
}

// WarmUp feeds n frames from src through the background model without
// reporting estimates. Transient frame misses are skipped, up to n of them.
func (e *Estimator) WarmUp(ctx context.Context, src l1frames.Source, n int) error {
	fed, misses := 0, 0
	for fed < n {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || !errors.Is(err, l1frames.ErrFrameUnavailable) {
				return fmt.Errorf("warm-up after %d frames: %w", fed, err)
			}
			misses++
			if misses > n {
				return fmt.Errorf("warm-up after %d frames: too many misses: %w", fed, err)
			}
			diagf("warm-up frame miss %d: %v", misses, err)
			continue
		}
		if _, err := e.Estimate(frame); err != nil {
			return fmt.Errorf("warm-up frame %d: %w", frame.Seq, err)
		}
		fed++
	}
	diagf("warm-up fed %d frames, %d remaining before settled", fed, e.model.WarmupFramesRemaining())
	return nil
}
