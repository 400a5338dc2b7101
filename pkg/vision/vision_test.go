package vision

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
)

const testCascade = `<?xml version="1.0"?>
<opencv_storage>
<cascade type_id="opencv-cascade-classifier"><stageType>BOOST</stageType>
  <featureType>HAAR</featureType>
  <height>8</height>
  <width>8</width>
  <stages>
    <_>
      <stageThreshold>5.0e-01</stageThreshold>
      <weakClassifiers>
        <_>
          <internalNodes>0 -1 0 5.0e-01</internalNodes>
          <leafValues>-1. 1.</leafValues></_></weakClassifiers></_></stages>
  <features>
    <_>
      <rects>
        <_>0 0 8 8 -1.</_>
        <_>0 0 4 8 2.</_></rects></_></features></cascade>
</opencv_storage>
`

func writeCascade(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "haarcascade.xml")
	if err := os.WriteFile(path, []byte(testCascade), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEqualizeHist_TwoLevel(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 10, 10))
	for i := range g.Pix {
		if i%3 == 0 {
			g.Pix[i] = 40
		} else {
			g.Pix[i] = 90
		}
	}

	EqualizeHist(g)

	for i, v := range g.Pix {
		if v != 0 && v != 255 {
			t.Fatalf("pixel %d = %d, expected 0 or 255", i, v)
		}
	}
	if g.Pix[0] != 0 || g.Pix[1] != 255 {
		t.Errorf("expected dark level to map to 0 and bright to 255, got %d and %d", g.Pix[0], g.Pix[1])
	}
}

func TestEqualizeHist_SingleLevel(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range g.Pix {
		g.Pix[i] = 77
	}
	EqualizeHist(g)
	for _, v := range g.Pix {
		if v != 77 {
			t.Fatalf("single-level image should be unchanged, got %d", v)
		}
	}
}

func TestEqualizeHist_Monotonic(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range g.Pix {
		g.Pix[i] = uint8(i / 4)
	}
	EqualizeHist(g)
	for i := 1; i < len(g.Pix); i++ {
		if g.Pix[i] < g.Pix[i-1] {
			t.Fatalf("equalization must preserve order at %d", i)
		}
	}
	if g.Pix[len(g.Pix)-1] != 255 {
		t.Errorf("brightest level should map to 255, got %d", g.Pix[len(g.Pix)-1])
	}
}

func TestNormalize(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 50, A: 255})
		}
	}

	tests := []struct {
		name    string
		region  image.Rectangle
		size    int
		wantErr bool
	}{
		{"inside", image.Rect(100, 100, 300, 300), 200, false},
		{"partially outside is clipped", image.Rect(600, 400, 700, 500), 200, false},
		{"custom size", image.Rect(0, 0, 50, 80), 64, false},
		{"default size", image.Rect(0, 0, 50, 50), 0, false},
		{"fully outside", image.Rect(700, 500, 800, 600), 200, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Normalize(img, tt.region, tt.size)
			if tt.wantErr {
				if !errors.Is(err, ErrEmptyRegion) {
					t.Errorf("expected ErrEmptyRegion, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize failed: %v", err)
			}
			want := tt.size
			if want == 0 {
				want = SampleSize
			}
			if out.Bounds().Dx() != want || out.Bounds().Dy() != want {
				t.Errorf("expected %dx%d, got %v", want, want, out.Bounds())
			}
		})
	}
}

func TestToGray(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 2, 2))
	if ToGray(g) != g {
		t.Error("gray input should be returned as is")
	}

	rgba := image.NewRGBA(image.Rect(0, 0, 2, 1))
	rgba.Set(0, 0, color.RGBA{255, 255, 255, 255})
	rgba.Set(1, 0, color.RGBA{0, 0, 0, 255})
	out := ToGray(rgba)
	if out.GrayAt(0, 0).Y != 255 || out.GrayAt(1, 0).Y != 0 {
		t.Errorf("unexpected conversion %v", out.Pix)
	}
}

func TestPickRegion(t *testing.T) {
	small := image.Rect(0, 0, 10, 10)
	big := image.Rect(50, 50, 150, 150)

	tests := []struct {
		name    string
		regions []image.Rectangle
		policy  RegionPolicy
		want    image.Rectangle
		ok      bool
	}{
		{"empty", nil, PolicyFirst, image.Rectangle{}, false},
		{"first", []image.Rectangle{small, big}, PolicyFirst, small, true},
		{"largest", []image.Rectangle{small, big}, PolicyLargest, big, true},
		{"unknown policy behaves like first", []image.Rectangle{small, big}, "", small, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := PickRegion(tt.regions, tt.policy)
			if ok != tt.ok || got != tt.want {
				t.Errorf("PickRegion = %v, %v; want %v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestNewLocator_Haar(t *testing.T) {
	path := writeCascade(t)

	for _, b := range []Backend{BackendAuto, BackendHaar, ""} {
		loc, got, err := NewLocator(Options{Backend: b, CascadePath: path})
		if err != nil {
			t.Fatalf("NewLocator(%q) failed: %v", b, err)
		}
		if got != BackendHaar {
			t.Errorf("NewLocator(%q) picked %s, expected haar in a default build", b, got)
		}
		if _, err := loc.Locate(image.NewGray(image.Rect(0, 0, 32, 32))); err != nil {
			t.Errorf("Locate failed: %v", err)
		}
		_ = loc.Close()
	}
}

func TestNewLocator_FallbackToHaar(t *testing.T) {
	path := writeCascade(t)

	loc, got, err := NewLocator(Options{Backend: "missing-backend", CascadePath: path})
	if err != nil {
		t.Fatalf("NewLocator failed: %v", err)
	}
	defer func() { _ = loc.Close() }()
	if got != BackendHaar {
		t.Errorf("expected fallback to haar, got %s", got)
	}
}

func TestNewLocator_NoCascade(t *testing.T) {
	_, _, err := NewLocator(Options{Backend: BackendHaar, CascadePath: filepath.Join(t.TempDir(), "none.xml")})
	if !errors.Is(err, ErrNoLocator) {
		t.Errorf("expected ErrNoLocator, got %v", err)
	}
}

func TestRegister(t *testing.T) {
	const b Backend = "test-backend"
	var gotParams DetectorParams
	Register(b, "Test", func(o Options) (Locator, error) {
		gotParams = o.Params
		return &MockLocator{}, nil
	})
	defer func() {
		registryMu.Lock()
		delete(registry, b)
		registryMu.Unlock()
	}()

	_, got, err := NewLocator(Options{Backend: b})
	if err != nil || got != b {
		t.Fatalf("expected registered backend, got %s, %v", got, err)
	}
	if gotParams != DefaultParams() {
		t.Errorf("zero params should be replaced by defaults, got %+v", gotParams)
	}

	found := false
	for _, info := range Backends() {
		if info.Backend == b && info.Name == "Test" {
			found = true
		}
	}
	if !found {
		t.Error("backend not listed")
	}
}

func TestAnnotate(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 120, 120))
	region := image.Rect(30, 40, 90, 100)

	out := Annotate(img, []image.Rectangle{region}, "Ada")

	if out.Bounds() != img.Bounds() {
		t.Fatalf("bounds changed: %v", out.Bounds())
	}
	if c := out.RGBAAt(30, 60); c != boxColor {
		t.Errorf("expected box color on left edge, got %v", c)
	}
	if c := out.RGBAAt(60, 70); c.R != 0 {
		t.Errorf("interior should be untouched, got %v", c)
	}

	white := 0
	for i := 0; i < len(out.Pix); i += 4 {
		if out.Pix[i] == 255 && out.Pix[i+1] == 255 && out.Pix[i+2] == 255 {
			white++
		}
	}
	if white == 0 {
		t.Error("caption was not drawn")
	}
}

func TestSynchronized(t *testing.T) {
	var inFlight, peak atomic.Int32
	inner := &MockLocator{LocateFunc: func(image.Image) ([]image.Rectangle, error) {
		n := inFlight.Add(1)
		if n > peak.Load() {
			peak.Store(n)
		}
		defer inFlight.Add(-1)
		return []image.Rectangle{image.Rect(0, 0, 1, 1)}, nil
	}}
	loc := Synchronized(inner)
	if Synchronized(loc) != loc {
		t.Error("wrapping twice should return the same locator")
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := loc.Locate(image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()

	if peak.Load() != 1 {
		t.Errorf("peak concurrent Locate calls = %d, want 1", peak.Load())
	}
}
