package training

import (
	"context"
	"image"
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

// MockCorpus implements Corpus for testing
type MockCorpus struct {
	PartitionsFunc func() ([]string, error)
	SamplesFunc    func(id string) ([]string, error)
}

func (m *MockCorpus) Partitions() ([]string, error) {
	if m.PartitionsFunc != nil {
		return m.PartitionsFunc()
	}
	return nil, nil
}

func (m *MockCorpus) Samples(id string) ([]string, error) {
	if m.SamplesFunc != nil {
		return m.SamplesFunc(id)
	}
	return nil, nil
}

// MockRunner implements Runner for testing
type MockRunner struct {
	TrainFunc func(ctx context.Context) (Summary, error)
}

func (m *MockRunner) Train(ctx context.Context) (Summary, error) {
	if m.TrainFunc != nil {
		return m.TrainFunc(ctx)
	}
	return Summary{}, nil
}
