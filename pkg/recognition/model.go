package recognition

import (
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/dataset"
)

// DefaultThreshold is the distance below which a prediction is accepted.
const DefaultThreshold = 75.0

// ErrLabelRange is returned when a sample carries a label outside the mapping.
var ErrLabelRange = errors.New("label out of range")

// Model is the trained artifact: one spatial histogram per training sample
// plus the label to identity mapping it was trained against.
type Model struct {
	Params      Params
	Identities  []string
	Labels      []int
	Histograms  [][]float64
	SampleCount int
	CreatedAt   time.Time
}

// Prediction is the nearest training sample for a probe.
type Prediction struct {
	Label    int
	Identity string
	Distance float64
}

// NewModel creates an empty model over mapping.
func NewModel(p Params, mapping *dataset.LabelMapping) *Model {
	return &Model{
		Params:     p,
		Identities: append([]string(nil), mapping.Identities...),
		CreatedAt:  time.Now().UTC(),
	}
}

// Add appends a training histogram for label.
func (m *Model) Add(label int, hist []float64) error {
	if label < 0 || label >= len(m.Identities) {
		return fmt.Errorf("%w: %d", ErrLabelRange, label)
	}
	if len(hist) != m.Params.FeatureLen() {
		return fmt.Errorf("histogram length %d, expected %d", len(hist), m.Params.FeatureLen())
	}
	m.Labels = append(m.Labels, label)
	m.Histograms = append(m.Histograms, hist)
	m.SampleCount = len(m.Labels)
	return nil
}

// Mapping returns the persisted label mapping.
func (m *Model) Mapping() *dataset.LabelMapping {
	return &dataset.LabelMapping{Identities: m.Identities}
}

// Predict returns the nearest neighbour of sample. An empty model yields
// label -1 at maximum distance.
func (m *Model) Predict(sample *image.Gray) Prediction {
	return m.PredictHistogram(m.Params.Histogram(sample))
}

// PredictHistogram is Predict for an already extracted feature.
func (m *Model) PredictHistogram(hist []float64) Prediction {
	best := Prediction{Label: -1, Distance: math.MaxFloat64}
	for i, h := range m.Histograms {
		if d := Distance(m.Params.Metric, h, hist); d < best.Distance {
			best.Distance = d
			best.Label = m.Labels[i]
		}
	}
	if id, ok := m.Mapping().Identity(best.Label); ok {
		best.Identity = id
	}
	return best
}

// Accept reports whether p is a match under threshold.
func Accept(p Prediction, threshold float64) bool {
	return p.Label >= 0 && p.Distance < threshold
}

// validate checks a decoded model for internal consistency.
func (m *Model) validate() error {
	if err := m.Params.Validate(); err != nil {
		return err
	}
	if len(m.Labels) != len(m.Histograms) {
		return fmt.Errorf("%d labels for %d histograms", len(m.Labels), len(m.Histograms))
	}
	n := m.Params.FeatureLen()
	for i, l := range m.Labels {
		if l < 0 || l >= len(m.Identities) {
			return fmt.Errorf("%w: sample %d has label %d", ErrLabelRange, i, l)
		}
		if len(m.Histograms[i]) != n {
			return fmt.Errorf("sample %d has %d bins, expected %d", i, len(m.Histograms[i]), n)
		}
	}
	return nil
}
