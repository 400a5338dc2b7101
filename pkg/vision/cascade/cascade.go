// Package cascade evaluates OpenCV Haar cascade classifiers in pure Go.
//
// Only the current OpenCV XML layout (cascade type_id
// "opencv-cascade-classifier") with BOOST stages and upright HAAR features is
// supported, which covers haarcascade_frontalface_default.xml and its
// siblings shipped with OpenCV.
package cascade

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// thresholdEps is subtracted from stage thresholds when loading, as OpenCV does.
const thresholdEps = 1e-5

// ErrUnsupported is returned for cascade files this package cannot evaluate.
var ErrUnsupported = errors.New("unsupported cascade")

type weightedRect struct {
	x, y, w, h int
	weight     float64
}

type feature struct {
	rects []weightedRect
}

type node struct {
	left, right int
	featureIdx  int
	threshold   float64
}

type weakClassifier struct {
	nodes  []node
	leaves []float64
}

type stage struct {
	threshold float64
	weak      []weakClassifier
}

// Cascade is a loaded classifier. It is read-only after loading and safe for
// concurrent use.
type Cascade struct {
	Width    int
	Height   int
	stages   []stage
	features []feature
}

// Stages returns the number of boosted stages.
func (c *Cascade) Stages() int {
	return len(c.stages)
}

type xmlStorage struct {
	Cascade *xmlCascade `xml:"cascade"`
}

type xmlCascade struct {
	StageType   string       `xml:"stageType"`
	FeatureType string       `xml:"featureType"`
	Height      int          `xml:"height"`
	Width       int          `xml:"width"`
	Stages      []xmlStage   `xml:"stages>_"`
	Features    []xmlFeature `xml:"features>_"`
}

type xmlStage struct {
	Threshold float64   `xml:"stageThreshold"`
	Weak      []xmlWeak `xml:"weakClassifiers>_"`
}

type xmlWeak struct {
	InternalNodes string `xml:"internalNodes"`
	LeafValues    string `xml:"leafValues"`
}

type xmlFeature struct {
	Rects  []string `xml:"rects>_"`
	Tilted int      `xml:"tilted"`
}

// Load reads a cascade XML file.
func Load(path string) (*Cascade, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cascade: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}

// Parse decodes a cascade from OpenCV XML.
func Parse(r io.Reader) (*Cascade, error) {
	var doc xmlStorage
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse cascade XML: %w", err)
	}
	x := doc.Cascade
	if x == nil {
		return nil, fmt.Errorf("%w: no <cascade> element (old-style cascades are not supported)", ErrUnsupported)
	}
	if x.StageType != "" && x.StageType != "BOOST" {
		return nil, fmt.Errorf("%w: stage type %q", ErrUnsupported, x.StageType)
	}
	if x.FeatureType != "" && x.FeatureType != "HAAR" {
		return nil, fmt.Errorf("%w: feature type %q", ErrUnsupported, x.FeatureType)
	}
	if x.Width <= 0 || x.Height <= 0 {
		return nil, fmt.Errorf("invalid cascade window %dx%d", x.Width, x.Height)
	}
	if len(x.Stages) == 0 {
		return nil, errors.New("cascade has no stages")
	}

	c := &Cascade{Width: x.Width, Height: x.Height}

	for i, xf := range x.Features {
		if xf.Tilted != 0 {
			return nil, fmt.Errorf("%w: tilted feature %d", ErrUnsupported, i)
		}
		var f feature
		for _, rs := range xf.Rects {
			wr, err := parseRect(rs)
			if err != nil {
				return nil, fmt.Errorf("feature %d: %w", i, err)
			}
			if wr.x < 0 || wr.y < 0 || wr.x+wr.w > c.Width || wr.y+wr.h > c.Height {
				return nil, fmt.Errorf("feature %d: rect outside window", i)
			}
			f.rects = append(f.rects, wr)
		}
		if len(f.rects) == 0 {
			return nil, fmt.Errorf("feature %d has no rects", i)
		}
		c.features = append(c.features, f)
	}

	for si, xs := range x.Stages {
		s := stage{threshold: xs.Threshold - thresholdEps}
		for wi, xw := range xs.Weak {
			wc, err := parseWeak(xw, len(c.features))
			if err != nil {
				return nil, fmt.Errorf("stage %d classifier %d: %w", si, wi, err)
			}
			s.weak = append(s.weak, wc)
		}
		c.stages = append(c.stages, s)
	}

	return c, nil
}

func parseRect(s string) (weightedRect, error) {
	fields := strings.Fields(s)
	if len(fields) != 5 {
		return weightedRect{}, fmt.Errorf("malformed rect %q", s)
	}
	var v [4]int
	for i := 0; i < 4; i++ {
		n, err := strconv.Atoi(fields[i])
		if err != nil {
			return weightedRect{}, fmt.Errorf("malformed rect %q: %w", s, err)
		}
		v[i] = n
	}
	w, err := strconv.ParseFloat(fields[4], 64)
	if err != nil {
		return weightedRect{}, fmt.Errorf("malformed rect weight %q: %w", s, err)
	}
	return weightedRect{x: v[0], y: v[1], w: v[2], h: v[3], weight: w}, nil
}

func parseFloats(s string) ([]float64, error) {
	fields := strings.Fields(s)
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseWeak(xw xmlWeak, nFeatures int) (weakClassifier, error) {
	raw, err := parseFloats(xw.InternalNodes)
	if err != nil {
		return weakClassifier{}, fmt.Errorf("internal nodes: %w", err)
	}
	if len(raw) == 0 || len(raw)%4 != 0 {
		return weakClassifier{}, fmt.Errorf("internal nodes: expected groups of 4, got %d values", len(raw))
	}
	leaves, err := parseFloats(xw.LeafValues)
	if err != nil {
		return weakClassifier{}, fmt.Errorf("leaf values: %w", err)
	}

	var wc weakClassifier
	for i := 0; i < len(raw); i += 4 {
		n := node{
			left:       int(raw[i]),
			right:      int(raw[i+1]),
			featureIdx: int(raw[i+2]),
			threshold:  raw[i+3],
		}
		if n.featureIdx < 0 || n.featureIdx >= nFeatures {
			return weakClassifier{}, fmt.Errorf("feature index %d out of range", n.featureIdx)
		}
		for _, child := range []int{n.left, n.right} {
			if child <= 0 && -child >= len(leaves) {
				return weakClassifier{}, fmt.Errorf("leaf index %d out of range", -child)
			}
			// children must point forward, otherwise evaluation could loop
			if child > 0 && (child <= i/4 || child >= len(raw)/4) {
				return weakClassifier{}, fmt.Errorf("node index %d out of range", child)
			}
		}
		wc.nodes = append(wc.nodes, n)
	}
	wc.leaves = leaves
	return wc, nil
}
