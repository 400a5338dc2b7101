//go:build dlib

package dlib

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"

	"github.com/Kagami/go-face"

	"github.com/MrCodeEU/faceattend/pkg/vision"
)

func init() {
	vision.Register(vision.BackendDlib, "dlib HOG detector (go-face)", NewLocator)
}

// requiredModels must be present in the models directory.
var requiredModels = []string{
	"shape_predictor_5_face_landmarks.dat",
	"dlib_face_recognition_resnet_model_v1.dat",
	"mmod_human_face_detector.dat",
}

// Locator uses go-face detection rectangles. go-face is not safe for
// concurrent use, so calls are serialized.
type Locator struct {
	mu      sync.Mutex
	rec     *face.Recognizer
	minSize int
}

// NewLocator loads the dlib models from opts.DlibModels.
func NewLocator(opts vision.Options) (vision.Locator, error) {
	for _, name := range requiredModels {
		if _, err := os.Stat(filepath.Join(opts.DlibModels, name)); err != nil {
			return nil, fmt.Errorf("dlib model not found: %s", name)
		}
	}
	rec, err := face.NewRecognizer(opts.DlibModels)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize dlib recognizer: %w", err)
	}
	return &Locator{rec: rec, minSize: opts.Params.MinSize}, nil
}

// Locate implements vision.Locator. Regions smaller than MinSize are dropped.
func (l *Locator) Locate(img image.Image) ([]image.Rectangle, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	l.mu.Lock()
	faces, err := l.rec.Recognize(buf.Bytes())
	l.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	b := img.Bounds()
	rects := make([]image.Rectangle, 0, len(faces))
	for _, f := range faces {
		r := f.Rectangle
		if r.Dx() < l.minSize || r.Dy() < l.minSize {
			continue
		}
		rects = append(rects, r.Add(b.Min).Intersect(b))
	}
	return rects, nil
}

// Close implements vision.Locator.
func (l *Locator) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rec != nil {
		l.rec.Close()
		l.rec = nil
	}
	return nil
}
