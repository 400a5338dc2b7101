package vision

import (
	"image"

	"github.com/MrCodeEU/faceattend/pkg/vision/cascade"
)

func init() {
	Register(BackendHaar, "Haar cascade (pure Go)", newHaarLocator)
}

// HaarLocator runs an OpenCV Haar cascade without native dependencies.
type HaarLocator struct {
	cascade *cascade.Cascade
	params  cascade.Params
}

func newHaarLocator(opts Options) (Locator, error) {
	c, err := cascade.Load(opts.CascadePath)
	if err != nil {
		return nil, err
	}
	return NewHaarLocator(c, opts.Params), nil
}

// NewHaarLocator wraps an already loaded cascade.
func NewHaarLocator(c *cascade.Cascade, p DetectorParams) *HaarLocator {
	return &HaarLocator{
		cascade: c,
		params: cascade.Params{
			ScaleFactor:  p.ScaleFactor,
			MinNeighbors: p.MinNeighbors,
			MinSize:      p.MinSize,
		},
	}
}

// Locate implements Locator.
func (h *HaarLocator) Locate(img image.Image) ([]image.Rectangle, error) {
	return h.cascade.Detect(ToGray(img), h.params), nil
}

// Close implements Locator.
func (h *HaarLocator) Close() error {
	return nil
}
