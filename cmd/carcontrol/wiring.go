package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/carcontrol/internal/actuator"
	"github.com/banshee-data/carcontrol/internal/config"
	"github.com/banshee-data/carcontrol/internal/control"
	"github.com/banshee-data/carcontrol/internal/debug"
	"github.com/banshee-data/carcontrol/internal/fsutil"
	"github.com/banshee-data/carcontrol/internal/monitoring"
	"github.com/banshee-data/carcontrol/internal/security"
	"github.com/banshee-data/carcontrol/internal/session"
	"github.com/banshee-data/carcontrol/internal/sim"
	"github.com/banshee-data/carcontrol/internal/timeutil"
	"github.com/banshee-data/carcontrol/internal/vision/l1frames"
	"github.com/banshee-data/carcontrol/internal/vision/l2background"
	"github.com/banshee-data/carcontrol/internal/vision/l4estimate"
)

// setLogLevel routes the package log streams to w. Each level enables its
// own stream and every stream above it.
func setLogLevel(level string, w io.Writer) error {
	var ops, diag, trace io.Writer
	switch strings.ToLower(level) {
	case "trace":
		trace = w
		fallthrough
	case "diag":
		diag = w
		fallthrough
	case "ops":
		ops = w
	case "off", "none":
	default:
		return fmt.Errorf("unknown log level %q (want ops, diag, trace or off)", level)
	}
	l2background.SetLogWriters(ops, diag, trace)
	l4estimate.SetLogWriters(ops, diag, trace)
	control.SetLogWriters(ops, diag, trace)
	return nil
}

// loadConfig reads path, or returns an empty config when path is "".
func loadConfig(path string) (*config.TuningConfig, error) {
	if path == "" {
		cfg := config.EmptyTuningConfig()
		return cfg, cfg.Validate()
	}
	return config.LoadTuningConfig(path)
}

// devices are the run's external collaborators. session is nil when the
// source and sink need no lifecycle.
type devices struct {
	source  l1frames.Source
	sink    actuator.Sink
	session session.Lifecycle
	sim     *sim.Simulator
	closers []io.Closer
}

// Close releases every opened device in reverse order.
func (d *devices) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openDevices builds the frame source, the wheel sink and the session from
// cfg. The sim and remote sinks need the matching source, since both halves
// share one simulator.
func openDevices(cfg *config.TuningConfig, clock timeutil.Clock) (*devices, error) {
	kind, err := l1frames.ParseSourceKind(cfg.GetSource())
	if err != nil {
		return nil, err
	}

	d := &devices{}
	var remote *session.Remote
	switch kind {
	case l1frames.SourceSim:
		s, err := sim.New(sim.ConfigFromTuning(cfg), clock)
		if err != nil {
			return nil, err
		}
		d.source, d.session, d.sim = s, s, s
	case l1frames.SourceRemoteSensor:
		remote, err = session.NewRemote(nil, session.RemoteOptionsFromTuning(cfg))
		if err != nil {
			return nil, err
		}
		d.source, d.session = remote.Camera(), remote
	case l1frames.SourceCamera:
		d.source, err = l1frames.OpenCamera(cfg.GetCameraDevice())
		if err != nil {
			return nil, err
		}
	case l1frames.SourceFileReplay:
		d.source, err = l1frames.OpenFileReplay(cfg.GetReplayPath(), cfg.GetReplayLoop())
		if err != nil {
			return nil, err
		}
	}
	d.closers = append(d.closers, d.source)

	switch sinkKind := cfg.GetSink(); sinkKind {
	case "sim":
		if d.sim == nil {
			_ = d.Close()
			return nil, fmt.Errorf("sink %q needs source %q, got %q", sinkKind, "sim", kind)
		}
		d.sink = d.sim
	case "remote":
		if remote == nil {
			_ = d.Close()
			return nil, fmt.Errorf("sink %q needs source %q, got %q", sinkKind, "remote", kind)
		}
		d.sink = remote.Wheels()
	case "serial":
		port, err := actuator.OpenSerial(cfg.GetSerialPort(), actuator.PortOptions{BaudRate: cfg.GetSerialBaud()}, cfg.GetWheelLimit())
		if err != nil {
			_ = d.Close()
			return nil, err
		}
		d.sink = port
		d.closers = append(d.closers, port)
	case "log":
		d.sink = actuator.LogSink{}
	default:
		_ = d.Close()
		return nil, fmt.Errorf("unknown sink %q", sinkKind)
	}
	return d, nil
}

// newLoop composes the estimator, the tracker and the control loop.
func newLoop(cfg *config.TuningConfig, d *devices, clock timeutil.Clock, sink debug.Sink) (*control.Loop, error) {
	estCfg, err := l4estimate.EstimatorConfigFromTuning(cfg)
	if err != nil {
		return nil, err
	}
	est, err := l4estimate.NewEstimator(estCfg)
	if err != nil {
		return nil, err
	}
	loopCfg, err := control.LoopConfigFromTuning(cfg)
	if err != nil {
		return nil, err
	}
	tracker := l4estimate.NewTracker(d.source, est, loopCfg.Objective.Convention, cfg.GetFrameTimeout())
	return control.NewLoop(loopCfg, tracker, d.sink, control.WithClock(clock), control.WithDebug(sink))
}

// newDebugSinks returns the live sink, plus a file recorder when debug_dir
// is set.
func newDebugSinks(cfg *config.TuningConfig, fs fsutil.FileSystem, runID string, live *debug.Live) (debug.Sink, *debug.Recorder, error) {
	dir := cfg.GetDebugDir()
	if dir == "" {
		return live, nil, nil
	}
	gx, gy := cfg.GetGoal()
	rec, err := debug.NewRecorder(fs, filepath.Join(dir, security.SanitizeFilename(runID)), runID,
		debug.WithFrames(cfg.GetSaveFrames()),
		debug.WithGoal(l4estimate.Position{X: gx, Y: gy}),
	)
	if err != nil {
		return nil, nil, err
	}
	return debug.Multi(live, rec), rec, nil
}

// withSession connects d.session for the duration of fn and always
// disconnects on a fresh context bounded by timeout.
func withSession(ctx context.Context, d *devices, timeout time.Duration, fn func() error) error {
	if d.session == nil {
		return fn()
	}
	if err := d.session.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	runErr := fn()

	dctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := d.session.Disconnect(dctx); err != nil {
		monitoring.Logf("disconnect: %v", err)
	}
	return runErr
}
