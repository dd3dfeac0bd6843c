package actuator

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestMappers(t *testing.T) {
	assert.Equal(t, Command{Left: 0.4, Right: 0.4}, PassThrough(0.4))
	assert.Equal(t, Command{Left: 0.5, Right: 1.5}, Differential(1, 0.5))
	assert.Equal(t, Command{Left: 3, Right: -1}, Differential(1, -2), "no clamping")
	assert.Equal(t, Command{Left: -2, Right: 2}, Spin(2))
	assert.True(t, Stop.IsZero())
}

func TestCommand_Valid(t *testing.T) {
	assert.True(t, Command{Left: -1, Right: 1}.Valid())
	assert.False(t, Command{Left: math.NaN()}.Valid())
	assert.False(t, Command{Right: math.Inf(-1)}.Valid())
}

func TestCommand_Clamp(t *testing.T) {
	assert.Equal(t, Command{Left: -2, Right: 1.5}, Command{Left: -7, Right: 1.5}.Clamp(2))
	assert.Equal(t, Command{Left: -7, Right: 9}, Command{Left: -7, Right: 9}.Clamp(0))
}

func TestDispatch(t *testing.T) {
	rec := &Recorder{}
	require.NoError(t, Dispatch(context.Background(), rec, Spin(1), time.Second))
	last, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, Spin(1), last)

	err := Dispatch(context.Background(), rec, Command{Left: math.NaN()}, 0)
	assert.ErrorIs(t, err, ErrActuator)
	assert.Equal(t, 1, rec.Calls(), "invalid command never reaches the sink")

	rec.Fail = func(int) error { return errors.New("joint offline") }
	err = Dispatch(context.Background(), rec, Stop, 0)
	assert.ErrorIs(t, err, ErrActuator)
	assert.Contains(t, err.Error(), "joint offline")
	assert.Len(t, rec.Commands(), 1)
}

func TestDispatch_AppliesTimeout(t *testing.T) {
	slow := SinkFunc(func(ctx context.Context, cmd Command) error {
		<-ctx.Done()
		return ctx.Err()
	})
	err := Dispatch(context.Background(), slow, Stop, 5*time.Millisecond)
	assert.ErrorIs(t, err, ErrActuator)
}

func TestTee(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	a.Fail = func(int) error { return errors.New("a down") }

	err := Tee(a, b).Apply(context.Background(), PassThrough(1))
	assert.EqualError(t, err, "a down")
	assert.Equal(t, []Command{PassThrough(1)}, b.Commands())
}

func TestLogSink(t *testing.T) {
	assert.NoError(t, LogSink{}.Apply(context.Background(), Stop))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, LogSink{}.Apply(ctx, Stop))
}

type fakePort struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	err    error
	block  chan struct{}
	closed bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	return p.buf.Write(b)
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.String()
}

func TestSerialSink_LineFormatAndClamp(t *testing.T) {
	port := &fakePort{}
	sink := NewSerialSink(port, 2)

	require.NoError(t, sink.Apply(context.Background(), Command{Left: 0.5, Right: -1.25}))
	require.NoError(t, sink.Apply(context.Background(), Command{Left: 5, Right: -9}))
	assert.Equal(t, "L0.500 R-1.250\nL2.000 R-2.000\n", port.String())

	require.NoError(t, sink.Close())
	assert.True(t, port.closed)
}

func TestSerialSink_Errors(t *testing.T) {
	port := &fakePort{err: errors.New("device unplugged")}
	sink := NewSerialSink(port, 1)

	err := sink.Apply(context.Background(), Stop)
	assert.ErrorIs(t, err, ErrActuator)
	assert.Contains(t, err.Error(), "device unplugged")

	err = sink.Apply(context.Background(), Command{Left: math.Inf(1)})
	assert.ErrorIs(t, err, ErrActuator)
}

func TestSerialSink_StalledWriteTimesOut(t *testing.T) {
	port := &fakePort{block: make(chan struct{})}
	sink := NewSerialSink(port, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := sink.Apply(ctx, Stop)
	assert.ErrorIs(t, err, ErrActuator)

	close(port.block)
	require.NoError(t, sink.Apply(context.Background(), PassThrough(1)))
	assert.Equal(t, "L0.000 R0.000\nL1.000 R1.000\n", port.String())
}

func TestPortOptions(t *testing.T) {
	opts, err := PortOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}, opts)

	mode, err := PortOptions{BaudRate: 9600, StopBits: 2, Parity: "even"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, &serial.Mode{BaudRate: 9600, DataBits: 8, StopBits: serial.TwoStopBits, Parity: serial.EvenParity}, mode)

	_, err = PortOptions{DataBits: 9}.Normalize()
	assert.Error(t, err)
	_, err = PortOptions{StopBits: 3}.Normalize()
	assert.Error(t, err)
	_, err = PortOptions{Parity: "mark"}.SerialMode()
	assert.Error(t, err)
}
