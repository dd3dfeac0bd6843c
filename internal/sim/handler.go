package sim

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/carcontrol/internal/httputil"
	"github.com/banshee-data/carcontrol/internal/monitoring"
	"github.com/banshee-data/carcontrol/internal/vision/l1frames"
)

// HandlerOptions names the remote handles exposed by Handler.
type HandlerOptions struct {
	Camera     string // vision sensor name
	LeftJoint  string
	RightJoint string
}

// DefaultHandlerOptions matches the tuning defaults for remote_camera,
// left_joint and right_joint.
func DefaultHandlerOptions() HandlerOptions {
	return HandlerOptions{Camera: "camera", LeftJoint: "left_motor", RightJoint: "right_motor"}
}

// SessionInfo is the body returned when a session is created or queried.
type SessionInfo struct {
	ID     string `json:"id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// JointTargets is the body of a joint velocity request.
type JointTargets struct {
	Targets map[string]float64 `json:"targets"`
}

// Handler serves the simulator remote API:
//
//	POST   /api/session                       start a session
//	GET    /api/session                       current session
//	DELETE /api/session/{id}                  end the session
//	GET    /api/session/{id}/sensors/{name}   PNG frame, rows bottom-up
//	POST   /api/session/{id}/joints           set wheel velocities
//	GET    /api/sim/pose                      true robot pose
type Handler struct {
	sim  *Simulator
	opts HandlerOptions
	mux  *http.ServeMux

	mu sync.Mutex
	id string
}

// NewHandler wraps sim. Empty option fields fall back to the defaults.
func NewHandler(sim *Simulator, opts HandlerOptions) *Handler {
	def := DefaultHandlerOptions()
	if opts.Camera == "" {
		opts.Camera = def.Camera
	}
	if opts.LeftJoint == "" {
		opts.LeftJoint = def.LeftJoint
	}
	if opts.RightJoint == "" {
		opts.RightJoint = def.RightJoint
	}
	h := &Handler{sim: sim, opts: opts, mux: http.NewServeMux()}
	h.AttachRoutes(h.mux)
	return h
}

// AttachRoutes registers the API on mux.
func (h *Handler) AttachRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/session", h.handleSession)
	mux.HandleFunc("/api/session/", h.handleSessionByID)
	mux.HandleFunc("/api/sim/pose", h.handlePose)
}

// ServeHTTP serves the API on the handler's own mux.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) info() SessionInfo {
	return SessionInfo{ID: h.id, Width: h.sim.cfg.Width, Height: h.sim.cfg.Height}
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch r.Method {
	case http.MethodPost:
		if err := h.sim.Connect(r.Context()); err != nil {
			if errors.Is(err, ErrSessionActive) {
				httputil.Conflict(w, err.Error())
				return
			}
			httputil.InternalServerError(w, err.Error())
			return
		}
		h.id = uuid.NewString()
		monitoring.Logf("[sim] session %s started", h.id)
		httputil.WriteJSON(w, http.StatusCreated, h.info())
	case http.MethodGet:
		if h.id == "" {
			httputil.NotFound(w, "no active session")
			return
		}
		httputil.WriteJSONOK(w, h.info())
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (h *Handler) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/session/"), "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		httputil.BadRequest(w, "session id is required")
		return
	}
	id := parts[0]

	h.mu.Lock()
	active := h.id
	h.mu.Unlock()
	if active == "" || id != active {
		httputil.NotFound(w, fmt.Sprintf("session %s not found", id))
		return
	}

	switch {
	case len(parts) == 1:
		h.handleEnd(w, r, id)
	case len(parts) == 3 && parts[1] == "sensors":
		h.handleSensor(w, r, parts[2])
	case len(parts) == 2 && parts[1] == "joints":
		h.handleJoints(w, r)
	default:
		httputil.NotFound(w, "unknown resource")
	}
}

func (h *Handler) handleEnd(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodDelete {
		httputil.MethodNotAllowed(w)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.sim.Disconnect(r.Context()); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	h.id = ""
	monitoring.Logf("[sim] session %s ended", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSensor(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if name != h.opts.Camera {
		httputil.NotFound(w, fmt.Sprintf("unknown sensor %q", name))
		return
	}
	frame, err := h.sim.Next(r.Context())
	if err != nil {
		httputil.ServiceUnavailable(w, err.Error())
		return
	}
	httputil.WritePNG(w, l1frames.FlipVertical(frame.Image), http.Header{
		"X-Frame-Seq": {fmt.Sprint(frame.Seq)},
	})
}

func (h *Handler) handleJoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var body JointTargets
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid body: %v", err))
		return
	}

	cmd := h.sim.Wheels()
	for name, v := range body.Targets {
		switch name {
		case h.opts.LeftJoint:
			cmd.Left = v
		case h.opts.RightJoint:
			cmd.Right = v
		default:
			httputil.BadRequest(w, fmt.Sprintf("unknown joint %q", name))
			return
		}
	}
	if err := h.sim.Apply(r.Context(), cmd); err != nil {
		if errors.Is(err, ErrNoSession) {
			httputil.Conflict(w, err.Error())
			return
		}
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, cmd)
}

func (h *Handler) handlePose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, h.sim.Pose())
}
