package attendance

import (
	"context"
	"image"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/camera"
	"github.com/MrCodeEU/faceattend/pkg/dataset"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
	"github.com/MrCodeEU/faceattend/pkg/storage"
)

// MockModels implements Models for testing
type MockModels struct {
	ClassifierFunc func() (Classifier, error)
}

func (m *MockModels) Classifier() (Classifier, error) {
	if m.ClassifierFunc != nil {
		return m.ClassifierFunc()
	}
	return nil, recognition.ErrModelUnavailable
}

// MockClassifier implements Classifier for testing
type MockClassifier struct {
	PredictFunc func(sample *image.Gray) recognition.Prediction
	Identities  []string
}

func (m *MockClassifier) Predict(sample *image.Gray) recognition.Prediction {
	if m.PredictFunc != nil {
		return m.PredictFunc(sample)
	}
	return recognition.Prediction{Label: -1, Distance: 1e9}
}

func (m *MockClassifier) Mapping() *dataset.LabelMapping {
	return dataset.NewLabelMapping(m.Identities)
}

// MockLocator implements Locator for testing
type MockLocator struct {
	LocateFunc func(img image.Image) ([]image.Rectangle, error)
}

func (m *MockLocator) Locate(img image.Image) ([]image.Rectangle, error) {
	if m.LocateFunc != nil {
		return m.LocateFunc(img)
	}
	return []image.Rectangle{img.Bounds()}, nil
}

// MockSource implements camera.Source for testing
type MockSource struct {
	OpenFunc             func(ctx context.Context) error
	ReadFrameFunc        func() (*camera.Frame, error)
	ReadFrameContextFunc func(ctx context.Context) (*camera.Frame, error)
	CloseFunc            func() error
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
	time.Sleep(time.Millisecond)
	return camera.NewImageFrame(image.NewGray(image.Rect(0, 0, 160, 120))), nil
}

func (m *MockSource) ReadFrameContext(ctx context.Context) (*camera.Frame, error) {
	if m.ReadFrameContextFunc != nil {
		return m.ReadFrameContextFunc(ctx)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.ReadFrame()
}

func (m *MockSource) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// MockDirectory implements Directory for testing
type MockDirectory struct {
	GetFunc func(ctx context.Context, id string) (*storage.Student, error)
}

func (m *MockDirectory) Get(ctx context.Context, id string) (*storage.Student, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	return &storage.Student{ID: id, Name: id}, nil
}

// MockEvents implements EventStore for testing
type MockEvents struct {
	ExistsFunc func(ctx context.Context, studentID, session string, from, to time.Time) (bool, error)
	RecordFunc func(ctx context.Context, ev *storage.AttendanceEvent) (bool, error)
}

func (m *MockEvents) Exists(ctx context.Context, studentID, session string, from, to time.Time) (bool, error) {
	if m.ExistsFunc != nil {
		return m.ExistsFunc(ctx, studentID, session, from, to)
	}
	return false, nil
}

func (m *MockEvents) Record(ctx context.Context, ev *storage.AttendanceEvent) (bool, error) {
	if m.RecordFunc != nil {
		return m.RecordFunc(ctx, ev)
	}
	return true, nil
}
