//go:build gocv

package l1frames

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// OpenCamera opens a local capture device through OpenCV.
func OpenCamera(device int) (Source, error) {
	capture, err := gocv.VideoCaptureDevice(device)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", device, err)
	}
	return newCaptureSource(capture, false, false), nil
}

func openVideo(path string, loop bool) (Source, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("open video %s: %w", path, err)
	}
	return newCaptureSource(capture, true, loop), nil
}

// captureSource adapts a gocv.VideoCapture. Read blocks inside OpenCV and
// cannot observe ctx, so it runs on its own goroutine; a read that outlives
// its context still completes in the background and its frame is dropped.
type captureSource struct {
	mu      sync.Mutex // serialises Read on the capture handle
	capture *gocv.VideoCapture
	file    bool // video file rather than a live device
	loop    bool
	seq     uint64
}

func newCaptureSource(c *gocv.VideoCapture, file, loop bool) *captureSource {
	return &captureSource{capture: c, file: file, loop: loop}
}

type captureResult struct {
	frame Frame
	err   error
}

func (s *captureSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, unavailable(err)
	}

	done := make(chan captureResult, 1)
	go func() {
		done <- s.read()
	}()

	select {
	case r := <-done:
		return r.frame, r.err
	case <-ctx.Done():
		return Frame{}, unavailable(ctx.Err())
	}
}

func (s *captureSource) read() captureResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	mat := gocv.NewMat()
	defer mat.Close()

	if ok := s.capture.Read(&mat); !ok || mat.Empty() {
		again, err := endOfRead(s.file, s.loop, func() {
			s.capture.Set(gocv.VideoCapturePosFrames, 0)
		})
		if !again {
			return captureResult{err: err}
		}
		// A file that yields nothing straight after a rewind has no frames.
		if ok := s.capture.Read(&mat); !ok || mat.Empty() {
			return captureResult{err: io.EOF}
		}
	}
	// OpenCV delivers BGR; ToImage converts to an RGBA image.
	img, err := mat.ToImage()
	if err != nil {
		return captureResult{err: unavailable(err)}
	}
	s.seq++
	return captureResult{frame: Frame{Seq: s.seq, Timestamp: time.Now(), Image: ToRGBA(img)}}
}

func (s *captureSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capture.Close()
}
