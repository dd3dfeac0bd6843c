package httputil

import (
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSONError(t *testing.T) {
	tests := []struct {
		name  string
		write func(http.ResponseWriter)
		code  int
		msg   string
	}{
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "bad") }, http.StatusBadRequest, "bad"},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "gone") }, http.StatusNotFound, "gone"},
		{"method", MethodNotAllowed, http.StatusMethodNotAllowed, "method not allowed"},
		{"conflict", func(w http.ResponseWriter) { Conflict(w, "busy") }, http.StatusConflict, "busy"},
		{"internal", func(w http.ResponseWriter) { InternalServerError(w, "boom") }, http.StatusInternalServerError, "boom"},
		{"unavailable", func(w http.ResponseWriter) { ServiceUnavailable(w, "later") }, http.StatusServiceUnavailable, "later"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			tt.write(rr)
			assert.Equal(t, tt.code, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			var body ErrorBody
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tt.msg, body.Error)
		})
	}
}

func TestWriteJSONOK(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteJSONOK(rr, map[string]int{"cycles": 3})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"cycles": 3}`, rr.Body.String())
}

func TestWritePNG(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 3))
	img.SetGray(1, 1, color.Gray{Y: 200})

	rr := httptest.NewRecorder()
	WritePNG(rr, img, http.Header{"X-Frame-Seq": {"7"}})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
	assert.Equal(t, "7", rr.Header().Get("X-Frame-Seq"))

	got, err := png.Decode(rr.Body)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), got.Bounds())
	r, _, _, _ := got.At(1, 1).RGBA()
	assert.Equal(t, uint32(200)*0x101, r)
}

func TestStandardClient_SetsUserAgent(t *testing.T) {
	var agent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent = r.UserAgent()
	}))
	defer srv.Close()

	c := NewStandardClient(srv.Client())
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, UserAgent(), agent)

	req, _ = http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("User-Agent", "probe")
	resp, err = c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "probe", agent)

	assert.NotNil(t, NewStandardClient(nil).Client)
}

func TestMockHTTPClient_Queue(t *testing.T) {
	m := NewMockHTTPClient().
		AddResponse(http.StatusCreated, `{"id":"a"}`).
		AddErrorResponse(errors.New("reset"))
	assert.Equal(t, 2, m.Pending())

	req := httptest.NewRequest(http.MethodPost, "http://sim/api/session", nil)
	resp, err := m.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, `{"id":"a"}`, string(body))

	_, err = m.Do(req)
	assert.EqualError(t, err, "reset")

	resp, err = m.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "empty queue answers 200")

	assert.Equal(t, 3, m.RequestCount())
	assert.Same(t, req, m.GetRequest(0))
	assert.Nil(t, m.GetRequest(3))
	assert.Nil(t, m.GetRequest(-1))
}

func TestMockHTTPClient_DoFunc(t *testing.T) {
	m := NewMockHTTPClient().AddResponse(http.StatusTeapot, "")
	m.DoFunc = func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("custom")
	}
	_, err := m.Do(httptest.NewRequest(http.MethodGet, "http://sim/", nil))
	assert.EqualError(t, err, "custom")
	assert.Equal(t, 1, m.Pending(), "queue untouched")
	assert.Equal(t, 1, m.RequestCount())
}
