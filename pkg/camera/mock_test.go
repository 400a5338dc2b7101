package camera

import "context"

// MockSource implements Source for testing
type MockSource struct {
	OpenFunc      func(ctx context.Context) error
	ReadFrameFunc func() (*Frame, error)
	CloseFunc     func() error
}

func (m *MockSource) Open(ctx context.Context) error {
	if m.OpenFunc != nil {
		return m.OpenFunc(ctx)
	}
	return nil
}

func (m *MockSource) ReadFrame() (*Frame, error) {
	if m.ReadFrameFunc != nil {
		return m.ReadFrameFunc()
	}
	return &Frame{}, nil
}

func (m *MockSource) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}
