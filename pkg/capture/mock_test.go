package capture

import (
	"context"
	"image"

	"github.com/MrCodeEU/faceattend/pkg/camera"
)

// MockLocator implements Locator for testing
type MockLocator struct {
	LocateFunc func(img image.Image) ([]image.Rectangle, error)
}

func (m *MockLocator) Locate(img image.Image) ([]image.Rectangle, error) {
	if m.LocateFunc != nil {
		return m.LocateFunc(img)
	}
	return nil, nil
}

// MockSource implements camera.Source for testing
type MockSource struct {
	OpenFunc      func(ctx context.Context) error
	ReadFrameFunc func() (*camera.Frame, error)
	CloseFunc     func() error
}

func (m *MockSource) Open(ctx context.Context) error {
	if m.OpenFunc != nil {
		return m.OpenFunc(ctx)
	}
	return nil
}

func (m *MockSource) ReadFrame() (*camera.Frame, error) {
	if m.ReadFrameFunc != nil {
		return m.ReadFrameFunc()
	}
	return camera.NewImageFrame(image.NewGray(image.Rect(0, 0, 320, 240))), nil
}

func (m *MockSource) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// MockStore implements SampleStore for testing
type MockStore struct {
	ResetFunc      func(id string) error
	SaveSampleFunc func(id string, n int, img image.Image) (string, error)
	CountFunc      func(id string) (int, error)
}

func (m *MockStore) Reset(id string) error {
	if m.ResetFunc != nil {
		return m.ResetFunc(id)
	}
	return nil
}

func (m *MockStore) SaveSample(id string, n int, img image.Image) (string, error) {
	if m.SaveSampleFunc != nil {
		return m.SaveSampleFunc(id, n, img)
	}
	return "", nil
}

func (m *MockStore) Count(id string) (int, error) {
	if m.CountFunc != nil {
		return m.CountFunc(id)
	}
	return 0, nil
}
