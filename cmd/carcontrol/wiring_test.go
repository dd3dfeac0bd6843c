package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/carcontrol/internal/actuator"
	"github.com/banshee-data/carcontrol/internal/config"
	"github.com/banshee-data/carcontrol/internal/debug"
	"github.com/banshee-data/carcontrol/internal/fsutil"
	"github.com/banshee-data/carcontrol/internal/timeutil"
)

func tuning(t *testing.T, js string) *config.TuningConfig {
	t.Helper()
	cfg := config.EmptyTuningConfig()
	require.NoError(t, json.Unmarshal([]byte(js), cfg))
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestSetLogLevel(t *testing.T) {
	t.Cleanup(func() { _ = setLogLevel("off", nil) })

	var buf bytes.Buffer
	for _, level := range []string{"off", "none", "ops", "diag", "TRACE"} {
		assert.NoError(t, setLogLevel(level, &buf), level)
	}
	assert.ErrorContains(t, setLogLevel("loud", &buf), "unknown log level")
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "sim", cfg.GetSource())

	cfg, err = loadConfig("../../" + config.DefaultConfigPath)
	require.NoError(t, err)
	imin, imax := cfg.IntegralBounds()
	assert.NotNil(t, imin)
	assert.NotNil(t, imax)

	_, err = loadConfig("tuning.yaml")
	assert.Error(t, err)
}

func TestOpenDevices_SimPair(t *testing.T) {
	d, err := openDevices(tuning(t, `{"source": "sim", "sink": "sim"}`), timeutil.NewMockClock(time.Unix(0, 0)))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, d.Close()) })

	require.NotNil(t, d.sim)
	assert.Same(t, d.sim, d.sink)
	assert.NotNil(t, d.session)
}

func TestOpenDevices_LogSink(t *testing.T) {
	d, err := openDevices(tuning(t, `{"source": "sim", "sink": "log"}`), nil)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, d.Close()) })

	assert.Equal(t, actuator.LogSink{}, d.sink)
}

func TestOpenDevices_SinkNeedsMatchingSource(t *testing.T) {
	_, err := openDevices(tuning(t, `{"source": "sim", "sink": "remote"}`), nil)
	assert.ErrorContains(t, err, "needs source")

	cfg := tuning(t, `{"source": "sim"}`)
	sink := "pigeon"
	cfg.Sink = &sink
	_, err = openDevices(cfg, nil)
	assert.ErrorContains(t, err, "unknown sink")
}

func TestNewDebugSinks(t *testing.T) {
	live := debug.NewLive("run-1")

	sink, rec, err := newDebugSinks(tuning(t, `{}`), fsutil.NewMemoryFileSystem(), "run-1", live)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Same(t, live, sink)

	fs := fsutil.NewMemoryFileSystem()
	sink, rec, err = newDebugSinks(tuning(t, `{"debug_dir": "runs", "save_frames": true}`), fs, "run-1", live)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.NotNil(t, sink)
	assert.Equal(t, "runs/run-1", rec.Dir())
	assert.True(t, fs.Exists("runs/run-1/frames"))
}

func TestWithSession(t *testing.T) {
	d, err := openDevices(tuning(t, `{}`), timeutil.NewMockClock(time.Unix(0, 0)))
	require.NoError(t, err)

	var connected bool
	boom := errors.New("boom")
	err = withSession(context.Background(), d, time.Second, func() error {
		connected = d.sim.Connected()
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, connected)
	assert.False(t, d.sim.Connected(), "disconnected after the run")

	called := false
	require.NoError(t, withSession(context.Background(), &devices{}, time.Second, func() error {
		called = true
		return nil
	}))
	assert.True(t, called)
}

func TestExploreRunOnSimulator(t *testing.T) {
	cfg := tuning(t, `{
		"source": "sim",
		"sink": "sim",
		"imin": -1,
		"imax": 1,
		"max_cycles": 4,
		"sim_reveal_after": 20
	}`)
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	d, err := openDevices(cfg, clock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	live := debug.NewLive("explore")
	loop, err := newLoop(cfg, d, clock, live)
	require.NoError(t, err)

	require.NoError(t, withSession(context.Background(), d, time.Second, func() error {
		return loop.Explore(context.Background())
	}))
	assert.Equal(t, 4, loop.Stats().Cycles)
	assert.True(t, d.sim.Wheels().IsZero(), "wheels stopped on exit")
}
