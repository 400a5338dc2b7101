package vision

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	boxColor     = color.RGBA{R: 255, A: 255}
	captionColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Annotate returns a copy of img with regions outlined and caption drawn
// above the first region (or in the top-left corner when there is none).
func Annotate(img image.Image, regions []image.Rectangle, caption string) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)

	for _, r := range regions {
		drawBox(out, r.Intersect(b), 2)
	}

	if caption == "" {
		return out
	}

	face := basicfont.Face7x13
	x, y := b.Min.X+4, b.Min.Y+face.Ascent+4
	if len(regions) > 0 {
		r := regions[0]
		x = r.Min.X
		y = r.Min.Y - 4
		if y-face.Ascent < b.Min.Y {
			y = r.Max.Y + face.Ascent + 2
		}
	}

	d := &font.Drawer{
		Dst:  out,
		Src:  image.NewUniform(captionColor),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(caption)
	return out
}

func drawBox(dst *image.RGBA, r image.Rectangle, thickness int) {
	if r.Empty() {
		return
	}
	src := image.NewUniform(boxColor)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(r), src, image.Point{}, draw.Src)
	}
}
