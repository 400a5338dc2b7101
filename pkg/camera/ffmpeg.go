package camera

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/logging"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// Timeouts used by FFmpegSource, vars so tests can shorten them.
var (
	firstFrameTimeout = 5 * time.Second
	readTimeout       = 2 * time.Second
)

// statDevice checks that the device node exists.
var statDevice = func(path string) error {
	_, err := os.Stat(path)
	return err
}

// FFmpegSource streams MJPEG frames from a V4L2 device through ffmpeg.
type FFmpegSource struct {
	settings Settings

	mu      sync.Mutex
	isOpen  bool
	info    DeviceInfo
	stream  io.ReadCloser
	stop    func()
	frames  chan *Frame
	done    chan struct{}
	lastErr error
}

// NewFFmpegSource creates an unopened ffmpeg source.
func NewFFmpegSource(s Settings) *FFmpegSource {
	if s.FFmpegPath == "" {
		s.FFmpegPath = "ffmpeg"
	}
	if s.Width == 0 || s.Height == 0 {
		s.Width, s.Height = 640, 480
	}
	if s.FPS == 0 {
		s.FPS = 30
	}
	return &FFmpegSource{settings: s}
}

// Open starts the stream and waits for the first frame.
func (c *FFmpegSource) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.isOpen {
		c.mu.Unlock()
		return nil
	}
	if err := statDevice(c.settings.Device); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrCameraNotFound, c.settings.Device)
	}
	c.info = getDeviceInfo(c.settings.Device)
	c.isOpen = true
	c.mu.Unlock()

	if err := c.startStreaming(); err != nil {
		_ = c.Close()
		return err
	}

	select {
	case frame := <-c.frames:
		// put it back so the first ReadFrame sees it
		c.offer(frame)
		logging.Component("camera").WithFields(logging.Fields{
			"device": c.settings.Device,
			"name":   c.info.Name,
		}).Debugf("stream started")
		return nil
	case <-c.done:
		err := c.streamErr()
		_ = c.Close()
		if err == nil {
			err = ErrNoFrame
		}
		return fmt.Errorf("stream ended before first frame: %w", err)
	case <-time.After(firstFrameTimeout):
		_ = c.Close()
		return fmt.Errorf("no frame within %s: %w", firstFrameTimeout, ErrNoFrame)
	case <-ctx.Done():
		_ = c.Close()
		return ctx.Err()
	}
}

// GetDeviceInfo returns information about the opened device.
func (c *FFmpegSource) GetDeviceInfo() DeviceInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// IsOpen returns whether the source is open.
func (c *FFmpegSource) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isOpen
}

func (c *FFmpegSource) streamArgs() []string {
	s := c.settings
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", s.Width, s.Height),
		"-framerate", strconv.Itoa(s.FPS),
		"-i", s.Device,
		"-f", "mjpeg",
		"-q:v", "3",
		"pipe:1",
	}
}

func (c *FFmpegSource) startStreaming() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return nil
	}

	cmd := execCommand(c.settings.FFmpegPath, c.streamArgs()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open ffmpeg pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	c.stream = stdout
	c.frames = make(chan *Frame, 1)
	c.done = make(chan struct{})
	c.lastErr = nil

	var once sync.Once
	c.stop = func() {
		once.Do(func() {
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		})
	}

	go c.readLoop(stdout, cmd.Wait)
	return nil
}

func (c *FFmpegSource) readLoop(r io.Reader, wait func() error) {
	done := c.done
	defer close(done)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256*1024), 16*1024*1024)
	scanner.Split(splitJPEG)

	for scanner.Scan() {
		c.offer(&Frame{
			Data:      scanner.Bytes(),
			Width:     c.settings.Width,
			Height:    c.settings.Height,
			Format:    "JPEG",
			Timestamp: time.Now(),
		})
	}

	err := scanner.Err()
	if werr := wait(); err == nil && werr != nil {
		err = fmt.Errorf("ffmpeg exited: %w", werr)
	}
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

// offer keeps only the newest frame.
func (c *FFmpegSource) offer(f *Frame) {
	c.mu.Lock()
	frames := c.frames
	c.mu.Unlock()
	if frames == nil {
		return
	}
	for {
		select {
		case frames <- f:
			return
		default:
		}
		select {
		case <-frames:
		default:
		}
	}
}

func (c *FFmpegSource) streamErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// ReadFrame returns the newest streamed frame, or a one-shot capture when
// no stream is running.
func (c *FFmpegSource) ReadFrame() (*Frame, error) {
	return c.ReadFrameContext(context.Background())
}

// ReadFrameContext is ReadFrame bounded by ctx as well as readTimeout.
func (c *FFmpegSource) ReadFrameContext(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if !c.isOpen {
		c.mu.Unlock()
		return nil, ErrCameraNotOpen
	}
	frames, done := c.frames, c.done
	c.mu.Unlock()

	if frames == nil {
		return c.Capture()
	}

	select {
	case f := <-frames:
		return f, nil
	default:
	}

	select {
	case f := <-frames:
		return f, nil
	case <-done:
		select {
		case f := <-frames:
			return f, nil
		default:
		}
		c.stopStreaming()
		return c.Capture()
	case <-time.After(readTimeout):
		return nil, fmt.Errorf("no frame within %s: %w", readTimeout, ErrNoFrame)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Capture grabs a single frame with a one-shot ffmpeg run.
func (c *FFmpegSource) Capture() (*Frame, error) {
	if !c.IsOpen() {
		return nil, ErrCameraNotOpen
	}

	tmpDir, err := os.MkdirTemp("", "faceattend-capture")
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()
	out := filepath.Join(tmpDir, "frame.jpg")

	s := c.settings
	cmd := execCommand(s.FFmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", s.Width, s.Height),
		"-i", s.Device,
		"-frames:v", "1",
		"-y", out,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %v %s", ErrNoFrame, err, bytes.TrimSpace(stderr.Bytes()))
	}

	data, err := os.ReadFile(out)
	if err != nil || len(data) == 0 {
		return nil, ErrNoFrame
	}
	return &Frame{
		Data:      data,
		Width:     s.Width,
		Height:    s.Height,
		Format:    "JPEG",
		Timestamp: time.Now(),
	}, nil
}

func (c *FFmpegSource) stopStreaming() {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.stream, c.frames = nil, nil, nil
	c.mu.Unlock()

	if stop == nil {
		return
	}
	stop()
	<-done
}

// Close stops the stream and releases the device. Safe to call twice.
func (c *FFmpegSource) Close() error {
	c.stopStreaming()
	c.mu.Lock()
	c.isOpen = false
	c.mu.Unlock()
	return nil
}

// splitJPEG is a bufio.SplitFunc yielding complete SOI..EOI images.
func splitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		if len(data) < 2 {
			return 0, nil, nil
		}
		// keep a trailing 0xFF, it may begin the next marker
		return len(data) - 1, nil, nil
	}

	end := bytes.Index(data[start+2:], jpegEOI)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}

	stop := start + 2 + end + 2
	frame := make([]byte, stop-start)
	copy(frame, data[start:stop])
	return stop, frame, nil
}
