//go:build gocv

package opencv

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/MrCodeEU/faceattend/pkg/camera"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/vision"
)

func init() {
	camera.RegisterDriver("opencv", func(s camera.Settings) camera.Source { return NewCapture(s) })
	vision.Register(vision.BackendOpenCV, "OpenCV CascadeClassifier "+gocv.Version(), NewCascadeLocator)
}

// Capture is a camera.Source backed by gocv.VideoCapture.
type Capture struct {
	settings camera.Settings

	mu  sync.Mutex
	vc  *gocv.VideoCapture
	mat gocv.Mat
}

// NewCapture creates an unopened capture.
func NewCapture(s camera.Settings) *Capture {
	return &Capture{settings: s}
}

// Open implements camera.Source.
func (c *Capture) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vc != nil {
		return nil
	}

	vc, err := gocv.OpenVideoCapture(c.settings.Device)
	if err != nil {
		return fmt.Errorf("%w: %v", camera.ErrCameraNotFound, err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return fmt.Errorf("%w: %s", camera.ErrCameraNotFound, c.settings.Device)
	}

	if c.settings.Width > 0 && c.settings.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(c.settings.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(c.settings.Height))
	}
	vc.Set(gocv.VideoCaptureBufferSize, 1)
	if c.settings.FPS > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(c.settings.FPS))
	}

	c.vc = vc
	c.mat = gocv.NewMat()
	logging.Component("camera").WithField("device", c.settings.Device).Debugf("opencv capture opened")
	return nil
}

// ReadFrame implements camera.Source.
func (c *Capture) ReadFrame() (*camera.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vc == nil {
		return nil, camera.ErrCameraNotOpen
	}
	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		return nil, camera.ErrNoFrame
	}
	img, err := c.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", camera.ErrNoFrame, err)
	}
	return camera.NewImageFrame(img), nil
}

// Close implements camera.Source.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vc == nil {
		return nil
	}
	_ = c.mat.Close()
	err := c.vc.Close()
	c.vc = nil
	return err
}

// CascadeLocator runs gocv's CascadeClassifier. The classifier is not safe
// for concurrent use, so calls are serialized.
type CascadeLocator struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
	params     vision.DetectorParams
}

// NewCascadeLocator loads the cascade at opts.CascadePath.
func NewCascadeLocator(opts vision.Options) (vision.Locator, error) {
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(opts.CascadePath) {
		_ = classifier.Close()
		return nil, fmt.Errorf("failed to load cascade classifier from %s", opts.CascadePath)
	}
	return &CascadeLocator{classifier: classifier, params: opts.Params}, nil
}

// Locate implements vision.Locator.
func (l *CascadeLocator) Locate(img image.Image) ([]image.Rectangle, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}
	defer func() { _ = mat.Close() }()

	gray := gocv.NewMat()
	defer func() { _ = gray.Close() }()
	gocv.CvtColor(mat, &gray, gocv.ColorRGBToGray)

	l.mu.Lock()
	defer l.mu.Unlock()

	minSize := image.Pt(l.params.MinSize, l.params.MinSize)
	rects := l.classifier.DetectMultiScaleWithParams(
		gray,
		l.params.ScaleFactor,
		l.params.MinNeighbors,
		0,
		minSize,
		image.Point{},
	)

	b := img.Bounds()
	for i := range rects {
		rects[i] = rects[i].Add(b.Min)
	}
	return rects, nil
}

// Close implements vision.Locator.
func (l *CascadeLocator) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.classifier.Close()
}
