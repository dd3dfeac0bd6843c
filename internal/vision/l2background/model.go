package l2background

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"gonum.org/v1/gonum/stat"
)

// Label values written into the label map.
const (
	LabelBackground uint8 = 0
	LabelShadow     uint8 = 127
	LabelForeground uint8 = 255
)

// ErrFrameSize is returned when a frame's dimensions differ from the ones
// the model was seeded with.
var ErrFrameSize = errors.New("frame size does not match background model")

// FrameMetrics summarises one labelled frame.
type FrameMetrics struct {
	Frame      int
	Rate       float64
	Foreground int
	Shadow     int
	Total      int
	WarmingUp  bool
}

// ForegroundFraction returns the fraction of pixels labelled foreground.
func (m FrameMetrics) ForegroundFraction() float64 {
	if m.Total == 0 {
		return 0
	}
	return float64(m.Foreground) / float64(m.Total)
}

// Model is a single-Gaussian-per-pixel background model over RGB. Each pixel
// keeps a mean colour and one isotropic variance. A pixel is background when
// its squared distance to the mean is within VarThreshold variances; it is
// shadow when it is a darker copy of the mean colour.
//
// The model is updated exactly once per Apply call and is not safe for
// concurrent frames; the mutex only protects readers such as debug pages.
type Model struct {
	mu       sync.Mutex
	cfg      Config
	w, h     int
	mean     []float32 // 3 per pixel, RGB
	variance []float32 // 1 per pixel
	frames   int
	last     FrameMetrics
}

// NewModel creates an unseeded model. The first frame seeds it.
func NewModel(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("background config: %w", err)
	}
	return &Model{cfg: cfg}, nil
}

// Config returns the model configuration.
func (m *Model) Config() Config {
	return m.cfg
}

// Frames returns the number of frames applied so far.
func (m *Model) Frames() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames
}

// WarmupFramesRemaining returns how many frames remain before the model is
// considered settled.
func (m *Model) WarmupFramesRemaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.warmupRemainingLocked()
}

func (m *Model) warmupRemainingLocked() int {
	if r := m.cfg.WarmupFrames - m.frames; r > 0 {
		return r
	}
	return 0
}

// Settled reports whether warm-up has completed.
func (m *Model) Settled() bool {
	return m.WarmupFramesRemaining() == 0
}

// LastMetrics returns the metrics of the most recent Apply.
func (m *Model) LastMetrics() FrameMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// effectiveRate returns the warm-up rate while warming up and the
// steady-state rate afterwards.
func (m *Model) effectiveRate() float64 {
	if m.warmupRemainingLocked() > 0 {
		return m.cfg.WarmupLearningRate
	}
	return m.cfg.LearningRate
}

// Apply labels img against the model and then folds it into the model at
// the effective learning rate. While warming up every pixel is labelled
// background so that early frames never produce a detection.
func (m *Model) Apply(img *image.RGBA) (*image.Gray, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	labels := image.NewGray(image.Rect(0, 0, w, h))

	if m.mean == nil {
		m.seed(img)
		m.frames = 1
		m.last = FrameMetrics{Frame: 1, Total: w * h, WarmingUp: m.warmupRemainingLocked() > 0}
		diagf("seeded %dx%d model, warm-up %d frames", w, h, m.cfg.WarmupFrames)
		return labels, nil
	}
	if w != m.w || h != m.h {
		return nil, fmt.Errorf("%w: got %dx%d, want %dx%d", ErrFrameSize, w, h, m.w, m.h)
	}

	warming := m.warmupRemainingLocked() > 0
	rate := float32(m.effectiveRate())
	thr := float32(m.cfg.VarThreshold)
	tau := float32(m.cfg.ShadowTau)
	vmin, vmax := float32(m.cfg.VarMin), float32(m.cfg.VarMax)

	var fg, shadow int
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			i := y*w + x
			px := row[x*4 : x*4+3]
			r, g, bl := float32(px[0]), float32(px[1]), float32(px[2])
			mr, mg, mb := m.mean[3*i], m.mean[3*i+1], m.mean[3*i+2]
			v := m.variance[i]

			dr, dg, db := r-mr, g-mg, bl-mb
			dist2 := dr*dr + dg*dg + db*db

			label := LabelBackground
			if dist2 > thr*v {
				label = LabelForeground
				if m.cfg.DetectShadows && isShadow(r, g, bl, mr, mg, mb, v, thr, tau) {
					label = LabelShadow
				}
			}
			if warming {
				label = LabelBackground
			}
			switch label {
			case LabelForeground:
				fg++
			case LabelShadow:
				shadow++
			}
			labels.Pix[y*labels.Stride+x] = label

			m.mean[3*i] = mr + rate*dr
			m.mean[3*i+1] = mg + rate*dg
			m.mean[3*i+2] = mb + rate*db
			v += rate * (dist2/3 - v)
			if v < vmin {
				v = vmin
			} else if v > vmax {
				v = vmax
			}
			m.variance[i] = v
		}
	}

	m.frames++
	m.last = FrameMetrics{
		Frame:      m.frames,
		Rate:       float64(rate),
		Foreground: fg,
		Shadow:     shadow,
		Total:      w * h,
		WarmingUp:  warming,
	}
	if warming && m.warmupRemainingLocked() == 0 {
		mean, std := m.varianceStatsLocked()
		diagf("warm-up complete after %d frames: variance mean=%.2f std=%.2f", m.frames, mean, std)
	}
	tracef("frame=%d rate=%.4f fg=%d shadow=%d", m.frames, rate, fg, shadow)
	if !warming && m.last.ForegroundFraction() > 0.5 {
		opsf("frame %d: %.0f%% of pixels are foreground, scene may have changed", m.frames, 100*m.last.ForegroundFraction())
	}
	return labels, nil
}

// isShadow reports whether (r,g,b) is a darker version of the mean colour:
// its projection onto the mean has brightness ratio a in [tau, 1] and the
// residual chromatic distortion is within the background threshold scaled by
// a².
func isShadow(r, g, b, mr, mg, mb, v, thr, tau float32) bool {
	denom := mr*mr + mg*mg + mb*mb
	if denom == 0 {
		return false
	}
	a := (r*mr + g*mg + b*mb) / denom
	if a < tau || a > 1 {
		return false
	}
	er, eg, eb := a*mr-r, a*mg-g, a*mb-b
	return er*er+eg*eg+eb*eb < thr*v*a*a
}

func (m *Model) seed(img *image.RGBA) {
	b := img.Bounds()
	m.w, m.h = b.Dx(), b.Dy()
	m.mean = make([]float32, 3*m.w*m.h)
	m.variance = make([]float32, m.w*m.h)
	for y := 0; y < m.h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < m.w; x++ {
			i := y*m.w + x
			m.mean[3*i] = float32(row[x*4])
			m.mean[3*i+1] = float32(row[x*4+1])
			m.mean[3*i+2] = float32(row[x*4+2])
			m.variance[i] = float32(m.cfg.VarInit)
		}
	}
}

// VarianceStats returns the mean and standard deviation of the per-pixel
// variances, or zeros for an unseeded model.
func (m *Model) VarianceStats() (mean, std float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.varianceStatsLocked()
}

func (m *Model) varianceStatsLocked() (mean, std float64) {
	if len(m.variance) == 0 {
		return 0, 0
	}
	vs := make([]float64, len(m.variance))
	for i, v := range m.variance {
		vs[i] = float64(v)
	}
	return stat.MeanStdDev(vs, nil)
}

// BackgroundImage renders the current mean colour, for debug pages.
func (m *Model) BackgroundImage() *image.RGBA {
	m.mu.Lock()
	defer m.mu.Unlock()
	img := image.NewRGBA(image.Rect(0, 0, m.w, m.h))
	for i := 0; i < m.w*m.h; i++ {
		img.Pix[4*i] = clampByte(m.mean[3*i])
		img.Pix[4*i+1] = clampByte(m.mean[3*i+1])
		img.Pix[4*i+2] = clampByte(m.mean[3*i+2])
		img.Pix[4*i+3] = 255
	}
	return img
}

func clampByte(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}

// Reset discards the learned model; the next frame reseeds it.
func (m *Model) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mean, m.variance = nil, nil
	m.w, m.h, m.frames = 0, 0, 0
	m.last = FrameMetrics{}
}
