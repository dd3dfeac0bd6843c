package debug

import (
	"bytes"
	"net/http"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/carcontrol/internal/actuator"
	"github.com/banshee-data/carcontrol/internal/httputil"
	"github.com/banshee-data/carcontrol/internal/vision/l4estimate"
)

const maxLivePoints = 2000

// Live keeps the latest sample in memory and serves it on the tsweb debug
// pages.
type Live struct {
	runID string

	mu          sync.RWMutex
	last        Sample
	hasLast     bool
	checkpoints []string
	track       Track
}

// NewLive returns an empty Live sink for the run.
func NewLive(runID string) *Live {
	return &Live{runID: runID, track: Track{Title: "live trajectory " + runID}}
}

// Observe stores s as the latest sample.
func (l *Live) Observe(s Sample) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last, l.hasLast = s, true
	if s.Frame != nil && l.track.Width == 0 {
		l.track.Width, l.track.Height = s.Frame.Bounds().Dx(), s.Frame.Bounds().Dy()
	}
	if s.HasPosition {
		l.track.Points = append(l.track.Points, s.Position)
		if n := len(l.track.Points); n > maxLivePoints {
			l.track.Points = append(l.track.Points[:0:0], l.track.Points[n-maxLivePoints:]...)
		}
	}
}

// Checkpoint records the checkpoint name and stores s as the latest sample.
func (l *Live) Checkpoint(name string, s Sample) {
	l.mu.Lock()
	l.checkpoints = append(l.checkpoints, name)
	l.mu.Unlock()
	l.Observe(s)
}

// LiveState is the JSON view of the latest sample.
type LiveState struct {
	RunID       string               `json:"run_id"`
	Ready       bool                 `json:"ready"`
	State       string               `json:"state"`
	Cycle       int                  `json:"cycle"`
	Time        time.Time            `json:"time"`
	Position    *l4estimate.Position `json:"position,omitempty"`
	Orientation *float64             `json:"orientation,omitempty"`
	Convention  string               `json:"convention"`
	Command     actuator.Command     `json:"command"`
	Checkpoints []string             `json:"checkpoints"`
	Samples     int                  `json:"samples"`
}

// State returns the JSON view of the latest sample.
func (l *Live) State() LiveState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st := LiveState{
		RunID:       l.runID,
		Ready:       l.hasLast,
		State:       l.last.State,
		Cycle:       l.last.Cycle,
		Time:        l.last.Time,
		Convention:  l.last.Convention.String(),
		Command:     l.last.Command,
		Checkpoints: append([]string{}, l.checkpoints...),
		Samples:     len(l.track.Points),
	}
	if l.last.HasPosition {
		p := l.last.Position
		st.Position = &p
	}
	if l.last.HasOrientation {
		o := l.last.Orientation
		st.Orientation = &o
	}
	return st
}

// AttachAdminRoutes registers the live pages on mux under /debug/.
func (l *Live) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("track-state", "latest tracker state (JSON)", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		httputil.WriteJSONOK(w, l.State())
	})

	debug.HandleFunc("track-mask", "latest cleaned foreground mask", func(w http.ResponseWriter, r *http.Request) {
		l.mu.RLock()
		mask := l.last.Clean
		l.mu.RUnlock()
		if mask == nil {
			httputil.NotFound(w, "no mask yet")
			return
		}
		httputil.WritePNG(w, mask, noCache)
	})

	debug.HandleFunc("track-frame", "latest annotated frame", func(w http.ResponseWriter, r *http.Request) {
		l.mu.RLock()
		s := l.last
		l.mu.RUnlock()
		frame := Annotate(s)
		if frame == nil {
			httputil.NotFound(w, "no frame yet")
			return
		}
		httputil.WritePNG(w, frame, noCache)
	})

	debug.HandleFunc("track-chart", "trajectory chart", func(w http.ResponseWriter, r *http.Request) {
		l.mu.RLock()
		track := l.track
		track.Points = append([]l4estimate.Position(nil), l.track.Points...)
		l.mu.RUnlock()

		var buf bytes.Buffer
		if err := track.RenderChart(&buf); err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	})
}

var noCache = http.Header{"Cache-Control": {"no-cache"}}
