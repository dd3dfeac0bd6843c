package monitoring

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) { called = true })
	Logf("test message")
	assert.True(t, called, "custom logger was not called")

	called = false
	SetLogger(nil)
	Logf("test message")
	assert.False(t, called, "no-op logger should not reach the previous logger")
}

func TestStreams_RouteByLevel(t *testing.T) {
	var ops, diag, trace bytes.Buffer
	s := NewStreams("[test] ", &ops, &diag, &trace)

	s.Opsf("calibration retry %d", 2)
	s.Diagf("warm-up %d/%d", 3, 20)
	s.Tracef("frame %d", 41)

	assert.True(t, strings.HasPrefix(ops.String(), "[test] "), "prefix leads the line: %q", ops.String())
	assert.Contains(t, ops.String(), "calibration retry 2")
	assert.Contains(t, diag.String(), "warm-up 3/20")
	assert.Contains(t, trace.String(), "frame 41")
	assert.NotContains(t, ops.String(), "frame 41")
	assert.True(t, s.TraceEnabled())
}

func TestStreams_NilWritersDiscard(t *testing.T) {
	var ops bytes.Buffer
	s := NewStreams("[test] ", &ops, nil, nil)

	s.Diagf("dropped")
	s.Tracef("dropped")
	s.Opsf("kept")

	assert.Equal(t, 1, strings.Count(ops.String(), "\n"))
	assert.False(t, s.TraceEnabled())

	var zero Streams
	zero.Opsf("no panic on zero value")
}
