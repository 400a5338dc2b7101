package cascade

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Params control a multi-scale detection pass.
type Params struct {
	ScaleFactor  float64
	MinNeighbors int
	MinSize      int
	MaxSize      int
}

func (p Params) normalized() Params {
	if p.ScaleFactor <= 1 {
		p.ScaleFactor = 1.1
	}
	if p.MinNeighbors < 0 {
		p.MinNeighbors = 0
	}
	return p
}

// integral holds summed-area tables with a one pixel zero border.
type integral struct {
	stride int
	sum    []int64
	sq     []int64
}

func newIntegral(g *image.Gray) *integral {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	stride := w + 1
	ii := &integral{
		stride: stride,
		sum:    make([]int64, stride*(h+1)),
		sq:     make([]int64, stride*(h+1)),
	}
	for y := 0; y < h; y++ {
		var rowSum, rowSq int64
		row := g.Pix[(y)*g.Stride : y*g.Stride+w]
		for x := 0; x < w; x++ {
			v := int64(row[x])
			rowSum += v
			rowSq += v * v
			i := (y+1)*stride + x + 1
			ii.sum[i] = ii.sum[i-stride] + rowSum
			ii.sq[i] = ii.sq[i-stride] + rowSq
		}
	}
	return ii
}

func (ii *integral) rectSum(t []int64, x, y, w, h int) int64 {
	a := y*ii.stride + x
	b := y*ii.stride + x + w
	c := (y+h)*ii.stride + x
	d := (y+h)*ii.stride + x + w
	return t[d] - t[b] - t[c] + t[a]
}

// Detect runs the cascade over an image pyramid and returns grouped detections
// in source image coordinates. The output order is deterministic.
func (c *Cascade) Detect(img *image.Gray, p Params) []image.Rectangle {
	p = p.normalized()
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var candidates []image.Rectangle
	for factor := 1.0; ; factor *= p.ScaleFactor {
		winW := int(math.Round(float64(c.Width) * factor))
		winH := int(math.Round(float64(c.Height) * factor))
		sw := int(math.Round(float64(w) / factor))
		sh := int(math.Round(float64(h) / factor))

		if sw < c.Width || sh < c.Height {
			break
		}
		if p.MaxSize > 0 && (winW > p.MaxSize || winH > p.MaxSize) {
			break
		}
		if winW < p.MinSize || winH < p.MinSize {
			continue
		}

		scaled := img
		if sw != w || sh != h {
			scaled = toGray(imaging.Resize(img, sw, sh, imaging.Linear))
		}
		ii := newIntegral(scaled)

		step := 2
		if factor > 2 {
			step = 1
		}
		for y := 0; y+c.Height <= sh; y += step {
			for x := 0; x+c.Width <= sw; x += step {
				if !c.evaluate(ii, x, y) {
					continue
				}
				rx := int(math.Round(float64(x) * factor))
				ry := int(math.Round(float64(y) * factor))
				candidates = append(candidates, image.Rect(rx, ry, rx+winW, ry+winH).Add(b.Min).Intersect(b))
			}
		}
	}

	grouped, _ := GroupRectangles(candidates, p.MinNeighbors, 0.2)
	return grouped
}

// evaluate runs every stage on the window at (x, y) of the scaled image.
func (c *Cascade) evaluate(ii *integral, x, y int) bool {
	nw, nh := c.Width-2, c.Height-2
	nf := 1.0
	if nw > 0 && nh > 0 {
		area := float64(nw * nh)
		s := float64(ii.rectSum(ii.sum, x+1, y+1, nw, nh))
		sq := float64(ii.rectSum(ii.sq, x+1, y+1, nw, nh))
		if v := area*sq - s*s; v > 0 {
			nf = math.Sqrt(v)
		}
	}

	for si := range c.stages {
		st := &c.stages[si]
		var sum float64
		for wi := range st.weak {
			wc := &st.weak[wi]
			idx := 0
			for {
				n := &wc.nodes[idx]
				next := n.right
				if c.featureValue(ii, x, y, n.featureIdx) < n.threshold*nf {
					next = n.left
				}
				if next <= 0 {
					sum += wc.leaves[-next]
					break
				}
				idx = next
			}
		}
		if sum < st.threshold {
			return false
		}
	}
	return true
}

func (c *Cascade) featureValue(ii *integral, x, y, idx int) float64 {
	var v float64
	for _, r := range c.features[idx].rects {
		v += r.weight * float64(ii.rectSum(ii.sum, x+r.x, y+r.y, r.w, r.h))
	}
	return v
}

func toGray(src image.Image) *image.Gray {
	if g, ok := src.(*image.Gray); ok {
		return g
	}
	b := src.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	if n, ok := src.(*image.NRGBA); ok {
		// imaging output of a gray source keeps R == G == B
		for y := 0; y < b.Dy(); y++ {
			row := n.Pix[y*n.Stride:]
			out := g.Pix[y*g.Stride:]
			for x := 0; x < b.Dx(); x++ {
				out[x] = row[x*4]
			}
		}
		return g
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			g.Set(x, y, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return g
}
