package cascade

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

// edgeCascade fires on windows whose left half is brighter than the right.
const edgeCascade = `<?xml version="1.0"?>
<opencv_storage>
<cascade type_id="opencv-cascade-classifier"><stageType>BOOST</stageType>
  <featureType>HAAR</featureType>
  <height>8</height>
  <width>8</width>
  <stageParams>
    <maxWeakCount>1</maxWeakCount></stageParams>
  <featureParams>
    <maxCatCount>0</maxCatCount></featureParams>
  <stageNum>1</stageNum>
  <stages>
    <_>
      <maxWeakCount>1</maxWeakCount>
      <stageThreshold>5.0000000000000000e-01</stageThreshold>
      <weakClassifiers>
        <_>
          <internalNodes>
            0 -1 0 5.0000000000000000e-01</internalNodes>
          <leafValues>
            -1. 1.</leafValues></_></weakClassifiers></_></stages>
  <features>
    <_>
      <rects>
        <_>
          0 0 8 8 -1.</_>
        <_>
          0 0 4 8 2.</_></rects></_></features></cascade>
</opencv_storage>
`

func mustParse(t *testing.T, doc string) *Cascade {
	t.Helper()
	c, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return c
}

func edgeImage() (*image.Gray, image.Rectangle) {
	img := image.NewGray(image.Rect(0, 0, 48, 48))
	block := image.Rect(16, 16, 20, 32)
	for y := block.Min.Y; y < block.Max.Y; y++ {
		for x := block.Min.X; x < block.Max.X; x++ {
			img.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	return img, block
}

func TestParse(t *testing.T) {
	c := mustParse(t, edgeCascade)

	if c.Width != 8 || c.Height != 8 {
		t.Errorf("unexpected window %dx%d", c.Width, c.Height)
	}
	if c.Stages() != 1 {
		t.Errorf("expected 1 stage, got %d", c.Stages())
	}
	if len(c.features) != 1 || len(c.features[0].rects) != 2 {
		t.Fatalf("unexpected features %+v", c.features)
	}
	if c.features[0].rects[1].weight != 2 {
		t.Errorf("expected weight 2, got %f", c.features[0].rects[1].weight)
	}
	if got := c.stages[0].threshold; got >= 0.5 {
		t.Errorf("stage threshold should be lowered by eps, got %f", got)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cascade.xml")
	if err := os.WriteFile(path, []byte(edgeCascade), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.xml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name        string
		doc         string
		unsupported bool
	}{
		{"not xml", "{json: true}", false},
		{"old style", "<opencv_storage><haarcascade_frontalface type_id=\"opencv-haar-classifier\"></haarcascade_frontalface></opencv_storage>", true},
		{"lbp features", strings.Replace(edgeCascade, "<featureType>HAAR", "<featureType>LBP", 1), true},
		{"tilted feature", strings.Replace(edgeCascade, "</rects></_></features>", "</rects><tilted>1</tilted></_></features>", 1), true},
		{"feature index out of range", strings.Replace(edgeCascade, "0 -1 0 5.0", "0 -1 3 5.0", 1), false},
		{"rect outside window", strings.Replace(edgeCascade, "0 0 4 8 2.", "6 0 4 8 2.", 1), false},
		{"malformed nodes", strings.Replace(edgeCascade, "0 -1 0 5.0000000000000000e-01", "0 -1 0", 1), false},
		{"backward node", strings.Replace(edgeCascade, "0 -1 0 5.0000000000000000e-01", "1 -1 0 0.5 1 -1 0 0.5", 1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.unsupported && !errors.Is(err, ErrUnsupported) {
				t.Errorf("expected ErrUnsupported, got %v", err)
			}
		})
	}
}

func TestDetect_FindsPattern(t *testing.T) {
	c := mustParse(t, edgeCascade)
	img, block := edgeImage()

	rects := c.Detect(img, Params{ScaleFactor: 1.2})
	if len(rects) == 0 {
		t.Fatal("expected at least one detection")
	}
	for _, r := range rects {
		if r.Intersect(block.Inset(-8)).Empty() {
			t.Errorf("detection %v is far from the pattern %v", r, block)
		}
	}
}

func TestDetect_UniformImage(t *testing.T) {
	c := mustParse(t, edgeCascade)
	img := image.NewGray(image.Rect(0, 0, 40, 40))
	for i := range img.Pix {
		img.Pix[i] = 128
	}

	if rects := c.Detect(img, Params{ScaleFactor: 1.1, MinNeighbors: 0}); len(rects) != 0 {
		t.Errorf("expected no detections on a flat image, got %v", rects)
	}
}

func TestDetect_Deterministic(t *testing.T) {
	c := mustParse(t, edgeCascade)
	img, _ := edgeImage()
	p := Params{ScaleFactor: 1.1}

	first := c.Detect(img, p)
	for i := 0; i < 3; i++ {
		if got := c.Detect(img, p); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs: %v vs %v", i, got, first)
		}
	}
}

func TestDetect_MinSizeLargerThanImage(t *testing.T) {
	c := mustParse(t, edgeCascade)
	img, _ := edgeImage()

	if rects := c.Detect(img, Params{ScaleFactor: 1.1, MinSize: 100}); len(rects) != 0 {
		t.Errorf("expected no detections, got %v", rects)
	}
}

func TestDetect_SubImageOffsets(t *testing.T) {
	c := mustParse(t, edgeCascade)
	full := image.NewGray(image.Rect(0, 0, 96, 96))
	img, _ := edgeImage()
	for y := 0; y < 48; y++ {
		copy(full.Pix[(y+40)*full.Stride+40:], img.Pix[y*img.Stride:y*img.Stride+48])
	}
	sub := full.SubImage(image.Rect(40, 40, 88, 88)).(*image.Gray)

	rects := c.Detect(sub, Params{ScaleFactor: 1.2})
	if len(rects) == 0 {
		t.Fatal("expected detections in sub image")
	}
	for _, r := range rects {
		if !r.In(sub.Bounds()) {
			t.Errorf("detection %v should be in sub image coordinates %v", r, sub.Bounds())
		}
	}
}

func rect(x, y, w, h int) image.Rectangle {
	return image.Rect(x, y, x+w, y+h)
}

func TestGroupRectangles(t *testing.T) {
	tests := []struct {
		name        string
		rects       []image.Rectangle
		threshold   int
		want        []image.Rectangle
		wantWeights []int
	}{
		{
			name:        "threshold zero returns input",
			rects:       []image.Rectangle{rect(0, 0, 10, 10), rect(50, 50, 10, 10)},
			threshold:   0,
			want:        []image.Rectangle{rect(0, 0, 10, 10), rect(50, 50, 10, 10)},
			wantWeights: []int{1, 1},
		},
		{
			name: "cluster averaged and lone rect dropped",
			rects: []image.Rectangle{
				rect(10, 10, 20, 20), rect(11, 10, 20, 20), rect(12, 10, 20, 20),
				rect(100, 100, 20, 20),
			},
			threshold:   2,
			want:        []image.Rectangle{rect(11, 10, 20, 20)},
			wantWeights: []int{3},
		},
		{
			name:      "cluster with exactly threshold members dropped",
			rects:     []image.Rectangle{rect(10, 10, 20, 20), rect(11, 10, 20, 20), rect(12, 10, 20, 20)},
			threshold: 3,
			want:      nil,
		},
		{
			name: "nested weaker cluster dropped",
			rects: []image.Rectangle{
				rect(0, 0, 100, 100), rect(1, 0, 100, 100), rect(0, 1, 100, 100), rect(1, 1, 100, 100), rect(0, 0, 101, 101),
				rect(30, 30, 30, 30), rect(31, 30, 30, 30), rect(30, 31, 30, 30),
			},
			threshold:   1,
			want:        []image.Rectangle{rect(0, 0, 100, 100)},
			wantWeights: []int{5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, weights := GroupRectangles(tt.rects, tt.threshold, 0.2)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("rects = %v, want %v", got, tt.want)
			}
			if tt.wantWeights != nil && !reflect.DeepEqual(weights, tt.wantWeights) {
				t.Errorf("weights = %v, want %v", weights, tt.wantWeights)
			}
		})
	}
}
