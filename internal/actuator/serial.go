package actuator

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.bug.st/serial"
)

// PortOptions describes the serial connection to the motor controller.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", o.Parity)
	}
	return opts, nil
}

// SerialMode converts the options into the mode used by go.bug.st/serial.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// Port is the part of a serial port the sink needs.
type Port interface {
	io.Writer
	io.Closer
}

// SerialSink writes one ASCII line per command, "L<left> R<right>\n", to a
// motor controller. Wheel values are clamped to the configured limit.
type SerialSink struct {
	mu    sync.Mutex
	port  Port
	limit float64
}

// OpenSerial opens the serial device at path.
func OpenSerial(path string, opts PortOptions, limit float64) (*SerialSink, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	return NewSerialSink(port, limit), nil
}

// NewSerialSink wraps an already open port.
func NewSerialSink(port Port, limit float64) *SerialSink {
	return &SerialSink{port: port, limit: limit}
}

// FormatLine renders cmd in the controller's line protocol.
func FormatLine(cmd Command) string {
	return fmt.Sprintf("L%.3f R%.3f\n", cmd.Left, cmd.Right)
}

// Apply clamps cmd and writes it. A write that does not complete before ctx
// is done is reported as ErrActuator; the write itself finishes in the
// background and the next Apply waits for it.
func (s *SerialSink) Apply(ctx context.Context, cmd Command) error {
	if !cmd.Valid() {
		return fmt.Errorf("%w: non-finite command %v", ErrActuator, cmd)
	}
	line := []byte(FormatLine(cmd.Clamp(s.limit)))

	done := make(chan error, 1)
	go func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		n, err := s.port.Write(line)
		if err == nil && n != len(line) {
			err = fmt.Errorf("short write: %d of %d bytes", n, len(line))
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: serial write: %v", ErrActuator, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: serial write: %v", ErrActuator, ctx.Err())
	}
}

// Close closes the underlying port.
func (s *SerialSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Close()
}
