// Package session talks to a simulator over its HTTP API. A Remote owns one
// session and hands out a frame source for the vision sensor and a wheel
// sink for the two drive joints.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/carcontrol/internal/actuator"
	"github.com/banshee-data/carcontrol/internal/config"
	"github.com/banshee-data/carcontrol/internal/httputil"
	"github.com/banshee-data/carcontrol/internal/monitoring"
	"github.com/banshee-data/carcontrol/internal/vision/l1frames"
)

// Lifecycle starts and ends a simulator session.
type Lifecycle interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// ErrNotConnected is returned when the remote handles are used before
// Connect.
var ErrNotConnected = errors.New("session: not connected")

// maxErrorBody caps how much of an error response is quoted.
const maxErrorBody = 512

// RemoteOptions configures a Remote.
type RemoteOptions struct {
	BaseURL      string
	Camera       string
	LeftJoint    string
	RightJoint   string
	FlipVertical bool          // frames arrive bottom-up
	Timeout      time.Duration // bound on Connect and Disconnect
}

// RemoteOptionsFromTuning builds RemoteOptions from a loaded TuningConfig.
func RemoteOptionsFromTuning(cfg *config.TuningConfig) RemoteOptions {
	return RemoteOptions{
		BaseURL:      cfg.GetRemoteURL(),
		Camera:       cfg.GetRemoteCamera(),
		LeftJoint:    cfg.GetLeftJoint(),
		RightJoint:   cfg.GetRightJoint(),
		FlipVertical: cfg.GetFlipVertical(),
		Timeout:      cfg.GetSessionTimeout(),
	}
}

// Validate checks the options.
func (o RemoteOptions) Validate() error {
	u, err := url.Parse(o.BaseURL)
	if err != nil {
		return fmt.Errorf("remote url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("remote url must be http or https, got %q", o.BaseURL)
	}
	if o.Camera == "" || o.LeftJoint == "" || o.RightJoint == "" {
		return errors.New("camera and joint names are required")
	}
	return nil
}

// Remote is a client for one simulator session.
type Remote struct {
	client httputil.HTTPClient
	opts   RemoteOptions
	base   string

	mu  sync.Mutex
	id  string
	seq uint64
}

// NewRemote validates opts and returns a disconnected client.
func NewRemote(client httputil.HTTPClient, opts RemoteOptions) (*Remote, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &Remote{client: client, opts: opts, base: strings.TrimRight(opts.BaseURL, "/")}, nil
}

// ID returns the active session id, or "" when disconnected.
func (r *Remote) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}

func (r *Remote) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.Timeout > 0 {
		return context.WithTimeout(ctx, r.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

func (r *Remote) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.base+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return r.client.Do(req)
}

// statusError reads a bounded slice of the body into an error.
func statusError(op string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return fmt.Errorf("%s: status %d %s: %s", op, resp.StatusCode, http.StatusText(resp.StatusCode), strings.TrimSpace(string(msg)))
}

// Connect starts a session within the session timeout.
func (r *Remote) Connect(ctx context.Context) error {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	resp, err := r.do(ctx, http.MethodPost, "/api/session", "application/json", nil)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", r.base, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return statusError("connect", resp)
	}

	var info struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return fmt.Errorf("connect: decode session: %w", err)
	}
	id, err := uuid.Parse(info.ID)
	if err != nil {
		return fmt.Errorf("connect: bad session id %q: %w", info.ID, err)
	}

	r.mu.Lock()
	r.id = id.String()
	r.mu.Unlock()
	monitoring.Logf("[session] connected to %s, session %s", r.base, id)
	return nil
}

// Disconnect ends the session within the session timeout. A session the
// server no longer knows counts as ended.
func (r *Remote) Disconnect(ctx context.Context) error {
	id := r.ID()
	if id == "" {
		return nil
	}
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	resp, err := r.do(ctx, http.MethodDelete, "/api/session/"+id, "", nil)
	if err != nil {
		return fmt.Errorf("disconnect session %s: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return statusError("disconnect", resp)
	}

	r.mu.Lock()
	r.id = ""
	r.mu.Unlock()
	monitoring.Logf("[session] session %s closed", id)
	return nil
}

// Camera returns a frame source reading the configured vision sensor.
func (r *Remote) Camera() l1frames.Source { return remoteCamera{r} }

// Wheels returns a sink driving the configured joints.
func (r *Remote) Wheels() actuator.Sink { return remoteWheels{r} }

type remoteCamera struct{ r *Remote }

// Next fetches one frame. Transport and server errors are transient misses.
func (c remoteCamera) Next(ctx context.Context) (l1frames.Frame, error) {
	r := c.r
	id := r.ID()
	if id == "" {
		return l1frames.Frame{}, ErrNotConnected
	}
	resp, err := r.do(ctx, http.MethodGet, "/api/session/"+id+"/sensors/"+url.PathEscape(r.opts.Camera), "", nil)
	if err != nil {
		return l1frames.Frame{}, fmt.Errorf("%w: %v", l1frames.ErrFrameUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return l1frames.Frame{}, fmt.Errorf("%w: %v", l1frames.ErrFrameUnavailable, statusError("camera", resp))
	}
	img, err := png.Decode(resp.Body)
	if err != nil {
		return l1frames.Frame{}, fmt.Errorf("%w: decode: %v", l1frames.ErrFrameUnavailable, err)
	}
	rgba := l1frames.ToRGBA(img)
	if r.opts.FlipVertical {
		rgba = l1frames.FlipVertical(rgba)
	}

	r.mu.Lock()
	r.seq++
	seq := r.seq
	r.mu.Unlock()
	return l1frames.Frame{Seq: seq, Timestamp: time.Now(), Image: rgba}, nil
}

// Close leaves the session to Disconnect.
func (c remoteCamera) Close() error { return nil }

type remoteWheels struct{ r *Remote }

// Apply posts both joint velocities in one request.
func (w remoteWheels) Apply(ctx context.Context, cmd actuator.Command) error {
	r := w.r
	id := r.ID()
	if id == "" {
		return ErrNotConnected
	}
	body, err := json.Marshal(map[string]map[string]float64{
		"targets": {r.opts.LeftJoint: cmd.Left, r.opts.RightJoint: cmd.Right},
	})
	if err != nil {
		return err
	}
	resp, err := r.do(ctx, http.MethodPost, "/api/session/"+id+"/joints", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError("joints", resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
