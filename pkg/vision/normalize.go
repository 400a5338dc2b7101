package vision

import (
	"errors"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// SampleSize is the edge length of normalized samples.
const SampleSize = 200

// ErrEmptyRegion is returned when a region does not overlap the image.
var ErrEmptyRegion = errors.New("face region outside image")

// ToGray converts any image to 8-bit grayscale with BT.601 luma weights.
func ToGray(src image.Image) *image.Gray {
	if g, ok := src.(*image.Gray); ok {
		return g
	}
	return nrgbaToGray(imaging.Grayscale(src))
}

func nrgbaToGray(n *image.NRGBA) *image.Gray {
	b := n.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		row := n.Pix[y*n.Stride:]
		out := g.Pix[y*g.Stride:]
		for x := 0; x < b.Dx(); x++ {
			out[x] = row[x*4]
		}
	}
	return g
}

// Normalize crops region from img, converts it to grayscale, resizes it to
// size x size and equalizes its histogram.
func Normalize(img image.Image, region image.Rectangle, size int) (*image.Gray, error) {
	if size <= 0 {
		size = SampleSize
	}
	r := region.Intersect(img.Bounds())
	if r.Empty() {
		return nil, ErrEmptyRegion
	}

	face := imaging.Grayscale(imaging.Crop(img, r))
	face = imaging.Resize(face, size, size, imaging.Linear)

	out := nrgbaToGray(face)
	EqualizeHist(out)
	return out, nil
}

// EqualizeHist equalizes a grayscale image in place. A single-level image is
// left at that level.
func EqualizeHist(g *image.Gray) {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	total := w * h
	if total == 0 {
		return
	}

	var hist [256]int
	for y := 0; y < h; y++ {
		for _, v := range g.Pix[y*g.Stride : y*g.Stride+w] {
			hist[v]++
		}
	}

	i := 0
	for hist[i] == 0 {
		i++
	}
	if hist[i] == total {
		return
	}

	var lut [256]uint8
	scale := 255.0 / float64(total-hist[i])
	sum := 0
	for i++; i < 256; i++ {
		sum += hist[i]
		v := math.Round(float64(sum) * scale)
		if v > 255 {
			v = 255
		}
		lut[i] = uint8(v)
	}

	for y := 0; y < h; y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+w]
		for x, v := range row {
			row[x] = lut[v]
		}
	}
}
