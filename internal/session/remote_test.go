package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/carcontrol/internal/actuator"
	"github.com/banshee-data/carcontrol/internal/httputil"
	"github.com/banshee-data/carcontrol/internal/sim"
	"github.com/banshee-data/carcontrol/internal/timeutil"
	"github.com/banshee-data/carcontrol/internal/vision/l1frames"
)

var (
	_ Lifecycle = (*Remote)(nil)
	_ Lifecycle = (*sim.Simulator)(nil)
)

func testOptions(base string) RemoteOptions {
	return RemoteOptions{
		BaseURL:      base,
		Camera:       "camera",
		LeftJoint:    "left_motor",
		RightJoint:   "right_motor",
		FlipVertical: true,
		Timeout:      time.Second,
	}
}

func simServer(t *testing.T, cfg sim.Config) (*httptest.Server, *sim.Simulator) {
	t.Helper()
	s, err := sim.New(cfg, timeutil.NewMockClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	srv := httptest.NewServer(sim.NewHandler(s, sim.HandlerOptions{}))
	t.Cleanup(srv.Close)
	return srv, s
}

func TestRemote_AgainstSimulator(t *testing.T) {
	cfg := sim.DefaultConfig()
	cfg.Start.Y = 60
	srv, s := simServer(t, cfg)
	ctx := context.Background()

	r, err := NewRemote(httputil.NewStandardClient(srv.Client()), testOptions(srv.URL+"/"))
	require.NoError(t, err)
	require.NoError(t, r.Connect(ctx))
	_, err = uuid.Parse(r.ID())
	require.NoError(t, err)
	assert.True(t, s.Connected())

	cam := r.Camera()
	f1, err := cam.Next(ctx)
	require.NoError(t, err)
	f2, err := cam.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f1.Seq)
	assert.Equal(t, uint64(2), f2.Seq)
	assert.Equal(t, cfg.Body, f1.Image.RGBAAt(75, 60), "flip restores top-down rows")
	assert.Equal(t, cfg.Floor, f1.Image.RGBAAt(75, 179))

	require.NoError(t, r.Wheels().Apply(ctx, actuator.Command{Left: 0.25, Right: -0.75}))
	assert.Equal(t, actuator.Command{Left: 0.25, Right: -0.75}, s.Wheels())

	require.NoError(t, r.Disconnect(ctx))
	assert.Empty(t, r.ID())
	assert.False(t, s.Connected())
	assert.NoError(t, r.Disconnect(ctx), "second disconnect is a no-op")
}

func TestRemote_SecondClientIsRejected(t *testing.T) {
	srv, _ := simServer(t, sim.DefaultConfig())
	ctx := context.Background()

	a, err := NewRemote(nil, testOptions(srv.URL))
	require.NoError(t, err)
	b, err := NewRemote(nil, testOptions(srv.URL))
	require.NoError(t, err)

	require.NoError(t, a.Connect(ctx))
	err = b.Connect(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Empty(t, b.ID())
}

func TestRemote_NotConnected(t *testing.T) {
	r, err := NewRemote(httputil.NewMockHTTPClient(), testOptions("http://sim.invalid"))
	require.NoError(t, err)

	_, err = r.Camera().Next(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, r.Wheels().Apply(context.Background(), actuator.Stop), ErrNotConnected)
	assert.NoError(t, r.Disconnect(context.Background()))
}

func connected(t *testing.T, mock *httputil.MockHTTPClient) *Remote {
	t.Helper()
	r, err := NewRemote(mock, testOptions("http://sim.invalid"))
	require.NoError(t, err)
	mock.AddResponse(http.StatusCreated, `{"id":"`+uuid.NewString()+`"}`)
	require.NoError(t, r.Connect(context.Background()))
	return r
}

func TestRemote_ConnectFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(m *httputil.MockHTTPClient)
		wantMsg string
	}{
		{"transport", func(m *httputil.MockHTTPClient) { m.AddErrorResponse(errors.New("connection refused")) }, "connection refused"},
		{"server error", func(m *httputil.MockHTTPClient) { m.AddResponse(http.StatusInternalServerError, "scene not loaded") }, "500"},
		{"bad body", func(m *httputil.MockHTTPClient) { m.AddResponse(http.StatusCreated, "{") }, "decode session"},
		{"bad id", func(m *httputil.MockHTTPClient) { m.AddResponse(http.StatusCreated, `{"id":"robot-1"}`) }, "bad session id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := httputil.NewMockHTTPClient()
			tt.setup(mock)
			r, err := NewRemote(mock, testOptions("http://sim.invalid"))
			require.NoError(t, err)

			err = r.Connect(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Empty(t, r.ID())
		})
	}
}

func TestRemote_ConnectTimeout(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.DoFunc = func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	}
	opts := testOptions("http://sim.invalid")
	opts.Timeout = 10 * time.Millisecond
	r, err := NewRemote(mock, opts)
	require.NoError(t, err)

	err = r.Connect(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRemote_CameraMissesAreTransient(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	r := connected(t, mock)

	mock.AddResponse(http.StatusServiceUnavailable, `{"error":"rendering"}`)
	_, err := r.Camera().Next(context.Background())
	assert.ErrorIs(t, err, l1frames.ErrFrameUnavailable)
	assert.Contains(t, err.Error(), "rendering")

	mock.AddResponse(http.StatusOK, "not a png")
	_, err = r.Camera().Next(context.Background())
	assert.ErrorIs(t, err, l1frames.ErrFrameUnavailable)

	mock.AddErrorResponse(errors.New("reset by peer"))
	_, err = r.Camera().Next(context.Background())
	assert.ErrorIs(t, err, l1frames.ErrFrameUnavailable)

	req := mock.GetRequest(mock.RequestCount() - 1)
	assert.Equal(t, "/api/session/"+r.ID()+"/sensors/camera", req.URL.Path)
}

func TestRemote_WheelsRequest(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	r := connected(t, mock)

	mock.AddResponse(http.StatusOK, `{}`)
	require.NoError(t, r.Wheels().Apply(context.Background(), actuator.Spin(1)))
	req := mock.GetRequest(mock.RequestCount() - 1)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))

	mock.AddResponse(http.StatusConflict, `{"error":"no session"}`)
	err := r.Wheels().Apply(context.Background(), actuator.Stop)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
}

func TestRemote_DisconnectTreatsUnknownSessionAsEnded(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	r := connected(t, mock)

	mock.AddResponse(http.StatusNotFound, `{"error":"session not found"}`)
	require.NoError(t, r.Disconnect(context.Background()))
	assert.Empty(t, r.ID())
}

func TestRemoteOptions_Validate(t *testing.T) {
	assert.NoError(t, testOptions("http://127.0.0.1:19999").Validate())
	assert.Error(t, testOptions("ftp://sim").Validate())
	assert.Error(t, testOptions("://").Validate())

	opts := testOptions("http://sim")
	opts.Camera = ""
	_, err := NewRemote(nil, opts)
	assert.Error(t, err)
}
