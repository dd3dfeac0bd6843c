package l3segment

import (
	"fmt"
	"image"
)

// Result is the outcome of segmenting one label map.
type Result struct {
	Raw   *image.Gray // thresholded mask
	Clean *image.Gray // after hole filling
	Blobs []Blob      // external components of Clean, before area filtering
	Best  Blob
	Found bool
}

// Segmenter runs threshold, hole filling and component extraction.
type Segmenter struct {
	cfg Config
}

// NewSegmenter validates cfg and returns a Segmenter.
func NewSegmenter(cfg Config) (*Segmenter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("segment config: %w", err)
	}
	return &Segmenter{cfg: cfg}, nil
}

// Config returns the segmenter configuration.
func (s *Segmenter) Config() Config {
	return s.cfg
}

// Segment turns a label map into blobs and picks the largest one above the
// minimum area.
func (s *Segmenter) Segment(labels *image.Gray) Result {
	raw := Threshold(labels, s.cfg.Threshold)

	var clean *image.Gray
	switch s.cfg.HoleFill {
	case FillFlood:
		clean = FillHoles(raw, s.cfg.Seed)
	case FillClose:
		clean = Close(raw, s.cfg.CloseKernel, s.cfg.CloseIterations)
	default:
		clean = raw
	}

	blobs := Components(clean)
	best, found := Largest(blobs, s.cfg.MinArea)
	return Result{Raw: raw, Clean: clean, Blobs: blobs, Best: best, Found: found}
}
