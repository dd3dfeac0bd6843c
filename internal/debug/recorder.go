package debug

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"path/filepath"
	"sync"

	"github.com/banshee-data/carcontrol/internal/fsutil"
	"github.com/banshee-data/carcontrol/internal/monitoring"
	"github.com/banshee-data/carcontrol/internal/security"
	"github.com/banshee-data/carcontrol/internal/vision/l4estimate"
)

// Recorder writes debug artefacts for one run into dir:
//
//   - <checkpoint>_mask.png, <checkpoint>_raw.png, <checkpoint>_frame.png
//     at each calibration checkpoint
//   - frames/frame_NNNNN.png for every cycle when frames are enabled
//   - trajectory.png and trajectory.html on Close
//
// Write failures are logged and never reach the caller.
type Recorder struct {
	fs         fsutil.FileSystem
	dir        string
	runID      string
	saveFrames bool

	mu     sync.Mutex
	track  Track
	frames int
	errs   int
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithFrames enables writing an annotated frame per observed sample.
func WithFrames(enabled bool) RecorderOption {
	return func(r *Recorder) { r.saveFrames = enabled }
}

// WithGoal marks the goal on the trajectory outputs.
func WithGoal(p l4estimate.Position) RecorderOption {
	return func(r *Recorder) { r.track.Goal, r.track.HasGoal = p, true }
}

// NewRecorder creates dir and returns a Recorder writing into it.
func NewRecorder(fs fsutil.FileSystem, dir, runID string, options ...RecorderOption) (*Recorder, error) {
	if dir == "" {
		return nil, errors.New("debug recorder needs an output directory")
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create debug dir: %w", err)
	}
	r := &Recorder{fs: fs, dir: dir, runID: runID}
	r.track.Title = "trajectory " + runID
	for _, o := range options {
		o(r)
	}
	if r.saveFrames {
		if err := fs.MkdirAll(filepath.Join(dir, "frames"), 0o755); err != nil {
			return nil, fmt.Errorf("create frames dir: %w", err)
		}
	}
	return r, nil
}

// Dir returns the output directory.
func (r *Recorder) Dir() string { return r.dir }

// Observe appends the sample's position to the trajectory and, when
// enabled, writes the annotated frame.
func (r *Recorder) Observe(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.noteSize(s)
	if s.HasPosition {
		r.track.Points = append(r.track.Points, s.Position)
	}
	if r.saveFrames {
		if img := Annotate(s); img != nil {
			r.frames++
			r.writePNG(filepath.Join("frames", fmt.Sprintf("frame_%05d.png", r.frames)), img)
		}
	}
}

// Checkpoint writes the masks and the annotated frame under name.
func (r *Recorder) Checkpoint(name string, s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.noteSize(s)
	name = security.SanitizeFilename(name)
	if s.Clean != nil {
		r.writePNG(name+"_mask.png", s.Clean)
	}
	if s.Raw != nil {
		r.writePNG(name+"_raw.png", s.Raw)
	}
	if img := Annotate(s); img != nil {
		r.writePNG(name+"_frame.png", img)
	}
}

// Points returns a copy of the recorded trajectory.
func (r *Recorder) Points() []l4estimate.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]l4estimate.Position(nil), r.track.Points...)
}

// Close writes trajectory.png and trajectory.html. It returns an error if
// any artefact of the run failed to write.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var plotBuf, chartBuf bytes.Buffer
	if err := r.track.WritePlot(&plotBuf); err != nil {
		monitoring.Logf("[debug] %v", err)
		r.errs++
	} else {
		r.write("trajectory.png", plotBuf.Bytes())
	}
	if err := r.track.RenderChart(&chartBuf); err != nil {
		monitoring.Logf("[debug] %v", err)
		r.errs++
	} else {
		r.write("trajectory.html", chartBuf.Bytes())
	}

	if r.errs > 0 {
		return fmt.Errorf("debug recorder: %d artefacts failed to write to %s", r.errs, r.dir)
	}
	return nil
}

func (r *Recorder) noteSize(s Sample) {
	if r.track.Width == 0 && s.Frame != nil {
		b := s.Frame.Bounds()
		r.track.Width, r.track.Height = b.Dx(), b.Dy()
	}
}

func (r *Recorder) writePNG(name string, img image.Image) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		monitoring.Logf("[debug] encode %s: %v", name, err)
		r.errs++
		return
	}
	r.write(name, buf.Bytes())
}

func (r *Recorder) write(name string, data []byte) {
	path := filepath.Join(r.dir, name)
	if err := security.WithinDirectory(path, r.dir); err != nil {
		monitoring.Logf("[debug] %v", err)
		r.errs++
		return
	}
	if err := r.fs.WriteFile(path, data, 0o644); err != nil {
		monitoring.Logf("[debug] write %s: %v", path, err)
		r.errs++
	}
}
