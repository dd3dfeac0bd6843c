package l4estimate

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/carcontrol/internal/config"
	"github.com/banshee-data/carcontrol/internal/vision/l1frames"
	"github.com/banshee-data/carcontrol/internal/vision/l2background"
	"github.com/banshee-data/carcontrol/internal/vision/l3segment"
)

const warmup = 20

var (
	floor = color.RGBA{60, 60, 60, 255}
	robot = color.RGBA{250, 250, 250, 255}
)

func testConfig() EstimatorConfig {
	return EstimatorConfig{
		Background: l2background.Config{
			LearningRate:       0.001,
			WarmupLearningRate: 0.1,
			WarmupFrames:       warmup,
			VarThreshold:       16,
			VarInit:            15,
			VarMin:             4,
			VarMax:             75,
			DetectShadows:      true,
			ShadowTau:          0.5,
		},
		Segment: l3segment.Config{
			Threshold: 100,
			HoleFill:  l3segment.FillFlood,
			Seed:      l3segment.SeedBorder,
			MinArea:   20,
		},
	}
}

func scene(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(floor), image.Point{}, draw.Src)
	return img
}

// square returns a scene with a side×side robot centred on (cx, cy).
func square(w, h, cx, cy, side int) *image.RGBA {
	img := scene(w, h)
	r := image.Rect(cx-side/2, cy-side/2, cx-side/2+side, cy-side/2+side)
	draw.Draw(img, r, image.NewUniform(robot), image.Point{}, draw.Src)
	return img
}

func statics(w, h, n int) []image.Image {
	imgs := make([]image.Image, n)
	for i := range imgs {
		imgs[i] = scene(w, h)
	}
	return imgs
}

func frameOf(seq uint64, img *image.RGBA) l1frames.Frame {
	return l1frames.Frame{Seq: seq, Image: img}
}

func warmedEstimator(t *testing.T, cfg EstimatorConfig, w, h int) *Estimator {
	t.Helper()
	est, err := NewEstimator(cfg)
	require.NoError(t, err)
	require.NoError(t, est.WarmUp(context.Background(), l1frames.NewSequence(statics(w, h, warmup)...), warmup))
	require.True(t, est.Model().Settled())
	return est
}

func TestEstimator_SquareAfterWarmup(t *testing.T) {
	est := warmedEstimator(t, testConfig(), 200, 200)

	got, err := est.Estimate(frameOf(21, square(200, 200, 100, 100, 30)))
	require.NoError(t, err)
	require.True(t, got.Found)
	assert.InDelta(t, 100, got.Position.X, 1e-9)
	assert.InDelta(t, 100, got.Position.Y, 1e-9)
	assert.Equal(t, 900, got.Segments.Best.Area)
	assert.Equal(t, image.Rect(85, 85, 115, 115), got.Segments.Best.Box)
}

func TestEstimator_NoForegroundKeepsHeldPosition(t *testing.T) {
	est := warmedEstimator(t, testConfig(), 120, 90)

	_, ok := est.Position()
	assert.False(t, ok)

	first, err := est.Estimate(frameOf(21, square(120, 90, 40, 40, 16)))
	require.NoError(t, err)
	require.True(t, first.Found)

	got, err := est.Estimate(frameOf(22, scene(120, 90)))
	require.NoError(t, err)
	assert.False(t, got.Found)
	assert.Equal(t, first.Position, got.Position)

	held, ok := est.Position()
	assert.True(t, ok)
	assert.Equal(t, first.Position, held)
}

func TestEstimator_SmallBlobRejected(t *testing.T) {
	est := warmedEstimator(t, testConfig(), 120, 90)

	got, err := est.Estimate(frameOf(21, square(120, 90, 60, 45, 4)))
	require.NoError(t, err)
	assert.False(t, got.Found, "16 px is below the minimum area")
	assert.Len(t, got.Segments.Blobs, 1)
}

func TestEstimator_WarmupReportsNothing(t *testing.T) {
	est, err := NewEstimator(testConfig())
	require.NoError(t, err)

	for i := 1; i <= warmup; i++ {
		img := scene(80, 60)
		if i > 1 {
			img = square(80, 60, 40, 30, 20)
		}
		got, err := est.Estimate(frameOf(uint64(i), img))
		require.NoError(t, err)
		assert.False(t, got.Found, "frame %d", i)
	}
}

func TestEstimator_FrameSizeMismatch(t *testing.T) {
	est := warmedEstimator(t, testConfig(), 80, 60)
	_, err := est.Estimate(frameOf(21, scene(60, 80)))
	assert.ErrorIs(t, err, l2background.ErrFrameSize)
}

func TestEstimator_BlurStillFindsSquare(t *testing.T) {
	cfg := testConfig()
	cfg.BlurSigma = 1
	est := warmedEstimator(t, cfg, 200, 200)

	got, err := est.Estimate(frameOf(21, square(200, 200, 100, 100, 30)))
	require.NoError(t, err)
	require.True(t, got.Found)
	assert.InDelta(t, 100, got.Position.X, 1.5)
	assert.InDelta(t, 100, got.Position.Y, 1.5)
}

func TestEstimator_KalmanSmoothing(t *testing.T) {
	cfg := testConfig()
	cfg.Filter = FilterKalman
	est := warmedEstimator(t, cfg, 200, 120)

	first, err := est.Estimate(frameOf(21, square(200, 120, 50, 60, 20)))
	require.NoError(t, err)
	require.True(t, first.Found)
	assert.InDelta(t, 50, first.Position.X, 1e-9, "first fix initialises the filter")

	second, err := est.Estimate(frameOf(22, square(200, 120, 90, 60, 20)))
	require.NoError(t, err)
	require.True(t, second.Found)
	assert.GreaterOrEqual(t, second.Position.X, 50.0-1e-6)
	assert.LessOrEqual(t, second.Position.X, 90.0+1e-6)
	assert.False(t, math.IsNaN(second.Position.Y))
}

func TestWarmUp_SkipsTransientMisses(t *testing.T) {
	est, err := NewEstimator(testConfig())
	require.NoError(t, err)

	seq := l1frames.NewSequence(statics(40, 30, warmup)...)
	seq.Fail = func(call uint64) error {
		if call == 3 || call == 7 {
			return l1frames.ErrFrameUnavailable
		}
		return nil
	}
	require.NoError(t, est.WarmUp(context.Background(), seq, warmup))
	assert.Equal(t, warmup, est.Model().Frames())
}

func TestWarmUp_EndOfReplay(t *testing.T) {
	est, err := NewEstimator(testConfig())
	require.NoError(t, err)

	err = est.WarmUp(context.Background(), l1frames.NewSequence(statics(40, 30, 5)...), warmup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 5 frames")
}

func TestWarmUp_Cancelled(t *testing.T) {
	est, err := NewEstimator(testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = est.WarmUp(ctx, l1frames.NewSequence(statics(40, 30, warmup)...), warmup)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestEstimatorConfigFromTuning(t *testing.T) {
	cfg, err := EstimatorConfigFromTuning(config.MustLoadDefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, FilterNone, cfg.Filter)
	assert.Equal(t, uint8(100), cfg.Segment.Threshold)
	assert.Equal(t, 20, cfg.Background.WarmupFrames)

	_, err = NewEstimator(cfg)
	assert.NoError(t, err)

	bad := "median"
	tc := config.EmptyTuningConfig()
	tc.PositionFilter = &bad
	_, err = EstimatorConfigFromTuning(tc)
	assert.Error(t, err)
}

func TestNewEstimator_RejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Background.LearningRate = 0
	_, err := NewEstimator(cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Segment.Threshold = 0
	_, err = NewEstimator(cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.BlurSigma = -1
	_, err = NewEstimator(cfg)
	assert.Error(t, err)
}
