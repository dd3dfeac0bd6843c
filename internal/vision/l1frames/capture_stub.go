//go:build !gocv

package l1frames

import "fmt"

// OpenCamera is unavailable without the gocv build tag.
func OpenCamera(device int) (Source, error) {
	return nil, fmt.Errorf("camera %d: %w (rebuild with -tags gocv)", device, ErrUnsupported)
}

func openVideo(path string, _ bool) (Source, error) {
	return nil, fmt.Errorf("video %s: %w (rebuild with -tags gocv, or replay an image directory)", path, ErrUnsupported)
}
