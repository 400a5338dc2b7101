// Package vision locates faces in frames and turns face regions into the
// fixed-size grayscale samples used for training and recognition.
package vision

import (
	"image"
	"sync"
)

// Locator finds face regions in an image. For the same input it returns the
// same regions in the same order.
type Locator interface {
	Locate(img image.Image) ([]image.Rectangle, error)
	Close() error
}

// DetectorParams tune multi-scale detection.
type DetectorParams struct {
	ScaleFactor  float64
	MinNeighbors int
	MinSize      int
}

// DefaultParams returns the standard detection parameters.
func DefaultParams() DetectorParams {
	return DetectorParams{
		ScaleFactor:  1.1,
		MinNeighbors: 5,
		MinSize:      60,
	}
}

// RegionPolicy picks one region when several are found.
type RegionPolicy string

const (
	// PolicyFirst takes the locator's first region.
	PolicyFirst RegionPolicy = "first"
	// PolicyLargest takes the region with the largest area.
	PolicyLargest RegionPolicy = "largest"
)

// PickRegion applies the policy. ok is false when regions is empty.
func PickRegion(regions []image.Rectangle, policy RegionPolicy) (image.Rectangle, bool) {
	if len(regions) == 0 {
		return image.Rectangle{}, false
	}
	if policy != PolicyLargest {
		return regions[0], true
	}
	best := regions[0]
	for _, r := range regions[1:] {
		if r.Dx()*r.Dy() > best.Dx()*best.Dy() {
			best = r
		}
	}
	return best, true
}

type syncLocator struct {
	mu sync.Mutex
	l  Locator
}

// Synchronized serializes calls to l so one locator can be shared by the
// capturer, the marker and the trainer.
func Synchronized(l Locator) Locator {
	if s, ok := l.(*syncLocator); ok {
		return s
	}
	return &syncLocator{l: l}
}

func (s *syncLocator) Locate(img image.Image) ([]image.Rectangle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.l.Locate(img)
}

func (s *syncLocator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.l.Close()
}
