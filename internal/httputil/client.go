// Package httputil holds the HTTP plumbing shared by the simulator API and
// its remote client: a swappable client for tests and JSON response helpers.
package httputil

import (
	"bytes"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/carcontrol/internal/version"
)

// HTTPClient is the subset of *http.Client the remote session uses.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// UserAgent identifies carcontrol requests to the simulator.
func UserAgent() string {
	return "carcontrol/" + version.Version
}

// StandardClient wraps *http.Client and stamps every request with UserAgent.
type StandardClient struct {
	*http.Client
}

// NewStandardClient wraps c. A nil c gets a client with a 30 second overall
// timeout; per-call deadlines come from the request context.
func NewStandardClient(c *http.Client) *StandardClient {
	if c == nil {
		c = &http.Client{Timeout: 30 * time.Second}
	}
	return &StandardClient{Client: c}
}

// Do sends req.
func (c *StandardClient) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", UserAgent())
	}
	return c.Client.Do(req)
}

// MockResponse is a canned reply. A non-nil Error is returned instead of a
// response.
type MockResponse struct {
	StatusCode int
	Body       string
	Header     http.Header
	Error      error
}

// MockHTTPClient replays queued responses in order and records every
// request. When the queue is empty it answers 200 with an empty body.
// DoFunc, when set, replaces the queue entirely.
type MockHTTPClient struct {
	DoFunc func(req *http.Request) (*http.Response, error)

	mu       sync.Mutex
	queue    []MockResponse
	requests []*http.Request
}

// NewMockHTTPClient returns an empty mock.
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{}
}

// AddResponse queues a reply with the given status and body.
func (m *MockHTTPClient) AddResponse(status int, body string) *MockHTTPClient {
	return m.add(MockResponse{StatusCode: status, Body: body})
}

// AddErrorResponse queues a transport error.
func (m *MockHTTPClient) AddErrorResponse(err error) *MockHTTPClient {
	return m.add(MockResponse{Error: err})
}

func (m *MockHTTPClient) add(r MockResponse) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, r)
	return m
}

// Do records req and returns the next queued reply.
func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	if m.DoFunc != nil {
		fn := m.DoFunc
		m.mu.Unlock()
		return fn(req)
	}
	next := MockResponse{StatusCode: http.StatusOK}
	if len(m.queue) > 0 {
		next, m.queue = m.queue[0], m.queue[1:]
	}
	m.mu.Unlock()

	if next.Error != nil {
		return nil, next.Error
	}
	header := next.Header
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		StatusCode: next.StatusCode,
		Status:     http.StatusText(next.StatusCode),
		Header:     header,
		Body:       io.NopCloser(bytes.NewBufferString(next.Body)),
		Request:    req,
	}, nil
}

// GetRequest returns the nth recorded request, or nil when out of range.
func (m *MockHTTPClient) GetRequest(n int) *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.requests) {
		return nil
	}
	return m.requests[n]
}

// RequestCount returns the number of recorded requests.
func (m *MockHTTPClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Pending returns the number of queued replies not yet served.
func (m *MockHTTPClient) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
