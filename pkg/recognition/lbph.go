// Package recognition implements the trainable face recognizer: local binary
// pattern histograms (LBPH) compared by nearest neighbour, the persisted model
// artifact and a reloading runtime cache.
package recognition

import (
	"fmt"
	"image"
	"math"

	"gonum.org/v1/gonum/floats"
)

// epsilon is the tolerance for treating two intensities or bin sums as
// equal, float32 machine epsilon.
const epsilon = 1.1920929e-07

// Metric selects the histogram distance.
type Metric string

const (
	// MetricChiSquare is the alternative chi-square distance
	// sum(2*(a-b)^2/(a+b)), the one OpenCV's LBPH recognizer uses.
	MetricChiSquare Metric = "chi_square"
	// MetricEuclidean is the L2 distance between spatial histograms.
	MetricEuclidean Metric = "euclidean"
)

// Params configures feature extraction.
type Params struct {
	Radius    int
	Neighbors int
	GridX     int
	GridY     int
	Metric    Metric
}

// DefaultParams returns radius 1, 8 neighbours, an 8x8 grid and chi-square.
func DefaultParams() Params {
	return Params{Radius: 1, Neighbors: 8, GridX: 8, GridY: 8, Metric: MetricChiSquare}
}

// Bins is the number of histogram bins per cell.
func (p Params) Bins() int {
	return 1 << uint(p.Neighbors)
}

// FeatureLen is the length of a spatial histogram.
func (p Params) FeatureLen() int {
	return p.GridX * p.GridY * p.Bins()
}

// Validate checks that p describes a usable extractor.
func (p Params) Validate() error {
	switch {
	case p.Radius < 1:
		return fmt.Errorf("radius must be at least 1, got %d", p.Radius)
	case p.Neighbors < 1 || p.Neighbors > 16:
		return fmt.Errorf("neighbors must be between 1 and 16, got %d", p.Neighbors)
	case p.GridX < 1 || p.GridY < 1:
		return fmt.Errorf("grid must be positive, got %dx%d", p.GridX, p.GridY)
	}
	switch p.Metric {
	case MetricChiSquare, MetricEuclidean:
	default:
		return fmt.Errorf("unknown metric %q", p.Metric)
	}
	return nil
}

// Histogram computes the spatial LBP histogram of img. Each cell histogram
// is divided by the cell area. Images too small for the grid produce an
// all-zero feature of the right length.
func (p Params) Histogram(img *image.Gray) []float64 {
	codes, w, h := p.lbp(img)
	feature := make([]float64, p.FeatureLen())

	cw, ch := w/p.GridX, h/p.GridY
	if cw == 0 || ch == 0 {
		return feature
	}
	bins := p.Bins()
	area := float64(cw * ch)

	for gy := 0; gy < p.GridY; gy++ {
		for gx := 0; gx < p.GridX; gx++ {
			cell := feature[(gy*p.GridX+gx)*bins : (gy*p.GridX+gx+1)*bins]
			for y := gy * ch; y < (gy+1)*ch; y++ {
				row := codes[y*w:]
				for x := gx * cw; x < (gx+1)*cw; x++ {
					cell[row[x]]++
				}
			}
			floats.Scale(1/area, cell)
		}
	}
	return feature
}

// lbp returns the circular local binary pattern codes of img. The border of
// width Radius is dropped.
func (p Params) lbp(img *image.Gray) ([]int, int, int) {
	b := img.Bounds()
	r := p.Radius
	w, h := b.Dx()-2*r, b.Dy()-2*r
	if w <= 0 || h <= 0 {
		return nil, 0, 0
	}

	at := func(x, y int) float64 {
		return float64(img.Pix[(y-b.Min.Y)*img.Stride+(x-b.Min.X)])
	}

	codes := make([]int, w*h)
	for n := 0; n < p.Neighbors; n++ {
		angle := 2 * math.Pi * float64(n) / float64(p.Neighbors)
		sx := snap(float64(r) * math.Cos(angle))
		sy := snap(-float64(r) * math.Sin(angle))

		fx, fy := int(math.Floor(sx)), int(math.Floor(sy))
		cx, cy := int(math.Ceil(sx)), int(math.Ceil(sy))
		tx, ty := sx-float64(fx), sy-float64(fy)
		w1 := (1 - tx) * (1 - ty)
		w2 := tx * (1 - ty)
		w3 := (1 - tx) * ty
		w4 := tx * ty
		bit := 1 << uint(n)

		for y := 0; y < h; y++ {
			py := b.Min.Y + y + r
			for x := 0; x < w; x++ {
				px := b.Min.X + x + r
				t := w1*at(px+fx, py+fy) + w2*at(px+cx, py+fy) +
					w3*at(px+fx, py+cy) + w4*at(px+cx, py+cy)
				c := at(px, py)
				if t > c || math.Abs(t-c) < epsilon {
					codes[y*w+x] |= bit
				}
			}
		}
	}
	return codes, w, h
}

// snap rounds sampling offsets that are integers up to floating error.
func snap(v float64) float64 {
	if r := math.Round(v); math.Abs(v-r) < 1e-9 {
		return r
	}
	return v
}

// Distance compares two spatial histograms. Histograms of different length
// are infinitely far apart.
func Distance(m Metric, a, b []float64) float64 {
	if len(a) != len(b) {
		return math.MaxFloat64
	}
	if m == MetricEuclidean {
		return floats.Distance(a, b, 2)
	}

	var sum float64
	for i := range a {
		d := a[i] - b[i]
		s := a[i] + b[i]
		if math.Abs(s) > epsilon {
			sum += 2 * d * d / s
		}
	}
	return sum
}
