package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func fakeExecCommand(command string, args ...string) *exec.Cmd {
	cs := []string{"-test.run=TestHelperProcess", "--", command}
	cs = append(cs, args...)
	cmd := exec.Command(os.Args[0], cs...)
	cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1")
	return cmd
}

func testJPEG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	img.Set(4, 4, color.RGBA{255, 0, 0, 255})
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, nil)
	return buf.Bytes()
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	// os.Args: [test_binary, -test.run=TestHelperProcess, --, command, args...]
	if len(os.Args) < 4 {
		os.Exit(1)
	}

	args := os.Args[3:]
	cmd := args[0]

	switch cmd {
	case "v4l2-ctl":
		for _, arg := range args {
			if arg == "--info" {
				fmt.Println("Driver Info:")
				fmt.Println("\tDriver name      : uvcvideo")
				fmt.Println("\tCard type        : Integrated Camera")
				os.Exit(0)
			}
		}
	case "ffmpeg":
		if os.Getenv("TEST_FAIL_FFMPEG") == "1" {
			os.Exit(1)
		}

		isStreaming := false
		for _, arg := range args {
			if arg == "pipe:1" {
				isStreaming = true
				break
			}
		}

		frame := testJPEG()
		if isStreaming {
			for i := 0; i < 50; i++ {
				_, _ = os.Stdout.Write(frame)
				// garbage between frames
				_, _ = os.Stdout.Write([]byte{0x00, 0x00})
				time.Sleep(10 * time.Millisecond)
			}
			time.Sleep(2 * time.Second)
			os.Exit(0)
		}

		outfile := args[len(args)-1]
		_ = os.WriteFile(outfile, frame, 0644)
		os.Exit(0)
	}
	os.Exit(0)
}

func withFakes(t *testing.T) {
	t.Helper()
	execCommand = fakeExecCommand
	statDevice = func(string) error { return nil }
	t.Cleanup(func() {
		execCommand = exec.Command
		statDevice = func(path string) error {
			_, err := os.Stat(path)
			return err
		}
	})
}

func TestGetDeviceInfo(t *testing.T) {
	withFakes(t)

	info := getDeviceInfo("/dev/video0")

	if info.Driver != "uvcvideo" {
		t.Errorf("expected driver uvcvideo, got %s", info.Driver)
	}
	if info.Name != "Integrated Camera" {
		t.Errorf("expected name Integrated Camera, got %s", info.Name)
	}
	if info.Path != "/dev/video0" {
		t.Errorf("expected path /dev/video0, got %s", info.Path)
	}
}

func TestListCameras(t *testing.T) {
	withFakes(t)

	dir := t.TempDir()
	for _, name := range []string{"video0", "video2", "other"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}
	old := devicePattern
	devicePattern = filepath.Join(dir, "video*")
	defer func() { devicePattern = old }()

	devices, err := ListCameras()
	if err != nil {
		t.Fatalf("ListCameras failed: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}
	if devices[0].Name != "Integrated Camera" {
		t.Errorf("unexpected device name %s", devices[0].Name)
	}
}

func TestSplitJPEG(t *testing.T) {
	frame := []byte{0xFF, 0xD8, 'a', 'b', 0xFF, 0xD9}

	tests := []struct {
		name  string
		input []byte
		want  int
	}{
		{"single frame", frame, 1},
		{"leading garbage", append([]byte{0x01, 0x02, 0xFF}, frame...), 1},
		{"two frames with padding", append(append(append([]byte{}, frame...), 0x00, 0x00), frame...), 2},
		{"truncated frame", []byte{0xFF, 0xD8, 'a', 'b'}, 0},
		{"no markers", []byte("plain text"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got [][]byte
			data := tt.input
			for len(data) > 0 {
				adv, tok, err := splitJPEG(data, true)
				if err != nil {
					t.Fatal(err)
				}
				if tok != nil {
					got = append(got, tok)
				}
				if adv == 0 {
					break
				}
				data = data[adv:]
			}
			if len(got) != tt.want {
				t.Fatalf("expected %d frames, got %d", tt.want, len(got))
			}
			for _, tok := range got {
				if !bytes.Equal(tok, frame) {
					t.Errorf("unexpected token %x", tok)
				}
			}
		})
	}
}

func TestSplitJPEG_NeedsMoreData(t *testing.T) {
	adv, tok, err := splitJPEG([]byte{0xFF, 0xD8, 'a'}, false)
	if err != nil || tok != nil || adv != 0 {
		t.Errorf("expected request for more data, got adv=%d tok=%v err=%v", adv, tok, err)
	}
}

func TestFFmpegSource_Streaming(t *testing.T) {
	withFakes(t)

	src := NewFFmpegSource(Settings{Device: "/dev/video0"})
	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = src.Close() }()

	if !src.IsOpen() {
		t.Error("source should be open")
	}
	if src.GetDeviceInfo().Driver != "uvcvideo" {
		t.Errorf("device info not populated: %+v", src.GetDeviceInfo())
	}

	for i := 0; i < 3; i++ {
		frame, err := src.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame failed (attempt %d): %v", i, err)
		}
		if frame.Data[0] != 0xFF || frame.Data[1] != 0xD8 {
			t.Fatal("frame is not a JPEG")
		}
		img, err := frame.ToImage()
		if err != nil {
			t.Fatalf("ToImage failed: %v", err)
		}
		if img.Bounds().Dx() != 16 {
			t.Errorf("unexpected decoded width %d", img.Bounds().Dx())
		}
	}

	if err := src.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if _, err := src.ReadFrame(); !errors.Is(err, ErrCameraNotOpen) {
		t.Errorf("expected ErrCameraNotOpen after close, got %v", err)
	}
	// second close is a no-op
	if err := src.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestFFmpegSource_ReadFrameContext(t *testing.T) {
	withFakes(t)

	src := NewFFmpegSource(Settings{Device: "/dev/video0"})
	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = src.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	<-ctx.Done()

	start := time.Now()
	if _, err := ReadFrame(ctx, src); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > readTimeout/2 {
		t.Errorf("read waited %s past the deadline", elapsed)
	}
}

func TestFFmpegSource_OpenMissingDevice(t *testing.T) {
	src := NewFFmpegSource(Settings{Device: filepath.Join(t.TempDir(), "video9")})
	err := src.Open(context.Background())
	if !errors.Is(err, ErrCameraNotFound) {
		t.Errorf("expected ErrCameraNotFound, got %v", err)
	}
}

func TestFFmpegSource_OpenFailingStream(t *testing.T) {
	withFakes(t)
	t.Setenv("TEST_FAIL_FFMPEG", "1")

	src := NewFFmpegSource(Settings{Device: "/dev/video0"})
	if err := src.Open(context.Background()); err == nil {
		t.Fatal("expected error when ffmpeg exits immediately")
	}
	if src.IsOpen() {
		t.Error("source must not stay open after a failed Open")
	}
}

func TestFFmpegSource_Capture(t *testing.T) {
	withFakes(t)

	src := NewFFmpegSource(Settings{Device: "/dev/video0"})
	src.isOpen = true

	frame, err := src.Capture()
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if _, err := frame.ToImage(); err != nil {
		t.Errorf("captured frame does not decode: %v", err)
	}

	// without a stream ReadFrame falls back to a one-shot capture
	frame, err = src.ReadFrame()
	if err != nil || frame == nil {
		t.Fatalf("ReadFrame fallback failed: %v", err)
	}
}

func TestFFmpegSource_CaptureNotOpen(t *testing.T) {
	src := NewFFmpegSource(Settings{Device: "/dev/video0"})
	if _, err := src.Capture(); !errors.Is(err, ErrCameraNotOpen) {
		t.Errorf("expected ErrCameraNotOpen, got %v", err)
	}
}

func TestNewImageFrame(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 32, 24))
	f := NewImageFrame(img)
	if f.Width != 32 || f.Height != 24 {
		t.Errorf("unexpected size %dx%d", f.Width, f.Height)
	}
	got, err := f.ToImage()
	if err != nil || got != image.Image(img) {
		t.Errorf("ToImage should return the wrapped image, err=%v", err)
	}
}

func TestToImage_Invalid(t *testing.T) {
	f := &Frame{Data: []byte{0xFF, 0xD8, 0xFF, 0xE0}, Format: "JPEG"}
	if _, err := f.ToImage(); err == nil {
		t.Error("expected decode error for truncated JPEG")
	}
}
