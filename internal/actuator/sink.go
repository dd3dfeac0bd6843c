package actuator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/carcontrol/internal/monitoring"
)

// ErrActuator marks a failed command dispatch. It is transient: the next
// cycle dispatches again.
var ErrActuator = errors.New("actuator failure")

// Sink applies wheel commands to a drive.
type Sink interface {
	Apply(ctx context.Context, cmd Command) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, cmd Command) error

// Apply calls f.
func (f SinkFunc) Apply(ctx context.Context, cmd Command) error { return f(ctx, cmd) }

// Dispatch validates cmd and applies it under timeout. Every failure is
// reported wrapped in ErrActuator.
func Dispatch(ctx context.Context, sink Sink, cmd Command, timeout time.Duration) error {
	if !cmd.Valid() {
		return fmt.Errorf("%w: non-finite command %v", ErrActuator, cmd)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := sink.Apply(ctx, cmd); err != nil {
		if errors.Is(err, ErrActuator) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrActuator, err)
	}
	return nil
}

// LogSink is a dry-run sink that only logs commands.
type LogSink struct{}

// Apply logs cmd.
func (LogSink) Apply(ctx context.Context, cmd Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	monitoring.Logf("[actuator] dry-run %v", cmd)
	return nil
}

// Recorder is a Sink that keeps every applied command. Fail, when set, is
// consulted with the 1-based call number and may reject the command.
type Recorder struct {
	mu       sync.Mutex
	commands []Command
	calls    int
	Fail     func(call int) error
}

// Apply records cmd unless Fail rejects it.
func (r *Recorder) Apply(ctx context.Context, cmd Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.Fail != nil {
		if err := r.Fail(r.calls); err != nil {
			return err
		}
	}
	r.commands = append(r.commands, cmd)
	return nil
}

// Commands returns a copy of the recorded commands.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.commands...)
}

// Last returns the most recent recorded command.
func (r *Recorder) Last() (Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.commands) == 0 {
		return Command{}, false
	}
	return r.commands[len(r.commands)-1], true
}

// Calls returns how many times Apply was called, including rejected calls.
func (r *Recorder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// Tee applies each command to every sink in order and returns the first
// error.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, cmd Command) error {
		var first error
		for _, s := range sinks {
			if err := s.Apply(ctx, cmd); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
}
