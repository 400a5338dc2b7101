package cascade

import (
	"image"
	"math"
)

func similar(a, b image.Rectangle, eps float64) bool {
	aw, ah := a.Dx(), a.Dy()
	bw, bh := b.Dx(), b.Dy()
	delta := eps * float64(min(aw, bw)+min(ah, bh)) * 0.5
	return math.Abs(float64(a.Min.X-b.Min.X)) <= delta &&
		math.Abs(float64(a.Min.Y-b.Min.Y)) <= delta &&
		math.Abs(float64(a.Max.X-b.Max.X)) <= delta &&
		math.Abs(float64(a.Max.Y-b.Max.Y)) <= delta
}

// partition labels rects into equivalence classes of the similar relation.
// Class ids follow the order in which classes are first seen.
func partition(rects []image.Rectangle, eps float64) ([]int, int) {
	parent := make([]int, len(rects))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	for i := range rects {
		for j := i + 1; j < len(rects); j++ {
			if similar(rects[i], rects[j], eps) {
				ri, rj := find(i), find(j)
				if ri != rj {
					if ri < rj {
						parent[rj] = ri
					} else {
						parent[ri] = rj
					}
				}
			}
		}
	}

	labels := make([]int, len(rects))
	ids := make(map[int]int)
	for i := range rects {
		root := find(i)
		id, ok := ids[root]
		if !ok {
			id = len(ids)
			ids[root] = id
		}
		labels[i] = id
	}
	return labels, len(ids)
}

// GroupRectangles clusters similar rectangles, averages each cluster and drops
// clusters with threshold or fewer members, plus clusters nested inside a
// stronger one. It returns the kept rectangles and their member counts.
// A threshold <= 0 returns the input unchanged.
func GroupRectangles(rects []image.Rectangle, threshold int, eps float64) ([]image.Rectangle, []int) {
	if threshold <= 0 || len(rects) == 0 {
		weights := make([]int, len(rects))
		for i := range weights {
			weights[i] = 1
		}
		return rects, weights
	}

	labels, nclasses := partition(rects, eps)

	type acc struct{ x, y, w, h, n int }
	sums := make([]acc, nclasses)
	for i, r := range rects {
		a := &sums[labels[i]]
		a.x += r.Min.X
		a.y += r.Min.Y
		a.w += r.Dx()
		a.h += r.Dy()
		a.n++
	}

	avg := make([]image.Rectangle, nclasses)
	for i, a := range sums {
		s := 1 / float64(a.n)
		x := int(math.RoundToEven(float64(a.x) * s))
		y := int(math.RoundToEven(float64(a.y) * s))
		w := int(math.RoundToEven(float64(a.w) * s))
		h := int(math.RoundToEven(float64(a.h) * s))
		avg[i] = image.Rect(x, y, x+w, y+h)
	}

	var out []image.Rectangle
	var weights []int
	for i, r1 := range avg {
		n1 := sums[i].n
		if n1 <= threshold {
			continue
		}
		nested := false
		for j, r2 := range avg {
			n2 := sums[j].n
			if j == i || n2 <= threshold {
				continue
			}
			dx := int(math.RoundToEven(float64(r2.Dx()) * eps))
			dy := int(math.RoundToEven(float64(r2.Dy()) * eps))
			if r1.Min.X >= r2.Min.X-dx &&
				r1.Min.Y >= r2.Min.Y-dy &&
				r1.Max.X <= r2.Max.X+dx &&
				r1.Max.Y <= r2.Max.Y+dy &&
				(n2 > max(3, n1) || n1 < 3) {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, r1)
			weights = append(weights, n1)
		}
	}
	return out, weights
}
