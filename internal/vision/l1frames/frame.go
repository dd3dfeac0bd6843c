package l1frames

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"strings"
	"time"
)

// ErrFrameUnavailable marks a transient acquisition miss. Callers skip the
// cycle and keep their previous estimate.
var ErrFrameUnavailable = errors.New("frame unavailable")

// ErrUnsupported is returned when a source kind was not compiled in.
var ErrUnsupported = errors.New("frame source not supported in this build")

// Frame is one colour image with its sequence number and capture time.
// Frames are immutable once produced: consumers must not write to Image.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Image     *image.RGBA
}

// Bounds returns the frame rectangle.
func (f Frame) Bounds() image.Rectangle {
	if f.Image == nil {
		return image.Rectangle{}
	}
	return f.Image.Bounds()
}

// Source yields successive frames. Next must honour ctx: when the deadline
// passes it returns an error wrapping ErrFrameUnavailable rather than
// blocking. A finite source returns io.EOF once exhausted.
type Source interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// SourceKind selects a Source implementation at construction time.
type SourceKind int

const (
	SourceSim SourceKind = iota
	SourceCamera
	SourceFileReplay
	SourceRemoteSensor
)

func (k SourceKind) String() string {
	switch k {
	case SourceSim:
		return "sim"
	case SourceCamera:
		return "camera"
	case SourceFileReplay:
		return "file"
	case SourceRemoteSensor:
		return "remote"
	default:
		return fmt.Sprintf("SourceKind(%d)", int(k))
	}
}

// ParseSourceKind maps a configuration value onto a SourceKind.
func ParseSourceKind(s string) (SourceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sim", "":
		return SourceSim, nil
	case "camera", "webcam":
		return SourceCamera, nil
	case "file", "replay":
		return SourceFileReplay, nil
	case "remote", "vrep":
		return SourceRemoteSensor, nil
	default:
		return 0, fmt.Errorf("unknown frame source %q", s)
	}
}

// ToRGBA returns img as *image.RGBA with its origin at (0,0), copying only
// when needed.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// FlipVertical returns a copy of img mirrored top to bottom. Remote
// simulator sensors deliver rows bottom-up.
func FlipVertical(img *image.RGBA) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	rowLen := b.Dx() * 4
	for y := 0; y < b.Dy(); y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+rowLen]
		dy := b.Dy() - 1 - y
		copy(dst.Pix[dy*dst.Stride:dy*dst.Stride+rowLen], src)
	}
	return dst
}

// unavailable wraps cause so that errors.Is(err, ErrFrameUnavailable) holds.
func unavailable(cause error) error {
	if cause == nil {
		return ErrFrameUnavailable
	}
	return fmt.Errorf("%w: %v", ErrFrameUnavailable, cause)
}

var errNoData = errors.New("capture read returned no data")

// endOfRead decides what an empty read from a capture handle means. A device
// reports a transient miss. A video file has ended: it returns io.EOF, or
// rewinds and asks for one more read when looping.
func endOfRead(file, loop bool, rewind func()) (again bool, err error) {
	switch {
	case !file:
		return false, unavailable(errNoData)
	case !loop:
		return false, io.EOF
	default:
		rewind()
		return true, nil
	}
}
