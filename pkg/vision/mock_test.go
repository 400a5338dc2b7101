package vision

import "image"

// MockLocator implements Locator for testing
type MockLocator struct {
	LocateFunc func(img image.Image) ([]image.Rectangle, error)
	CloseFunc  func() error
}

func (m *MockLocator) Locate(img image.Image) ([]image.Rectangle, error) {
	if m.LocateFunc != nil {
		return m.LocateFunc(img)
	}
	return nil, nil
}

func (m *MockLocator) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}
