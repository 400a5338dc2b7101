// Package camera provides frame sources for faceattend.
// A Source yields JPEG frames from a capture device; Open retries a fresh
// Source with backoff and Guard keeps a device to a single holder.
package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/logging"
)

// execCommand is swapped in tests.
var execCommand = exec.Command

// devicePattern is the glob used by ListCameras.
var devicePattern = "/dev/video*"

// Frame represents a single camera frame.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Format    string // "JPEG", "RGBA"
	Timestamp time.Time
	image     image.Image
}

// NewImageFrame wraps an already decoded image.
func NewImageFrame(img image.Image) *Frame {
	b := img.Bounds()
	return &Frame{
		Width:     b.Dx(),
		Height:    b.Dy(),
		Format:    "RGBA",
		Timestamp: time.Now(),
		image:     img,
	}
}

// ToImage decodes the frame.
func (f *Frame) ToImage() (image.Image, error) {
	if f.image != nil {
		return f.image, nil
	}
	img, err := jpeg.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	f.image = img
	return img, nil
}

// DeviceInfo contains information about a camera device.
type DeviceInfo struct {
	Path   string
	Name   string
	Driver string
}

// Settings describe how a device is opened.
type Settings struct {
	Device     string
	Width      int
	Height     int
	FPS        int
	FFmpegPath string
}

// Source is a live frame stream from one device.
type Source interface {
	Open(ctx context.Context) error
	ReadFrame() (*Frame, error)
	Close() error
}

// ContextReader is implemented by sources whose reads can be cut short.
type ContextReader interface {
	ReadFrameContext(ctx context.Context) (*Frame, error)
}

// ReadFrame reads from src, honouring ctx when src is a ContextReader.
func ReadFrame(ctx context.Context, src Source) (*Frame, error) {
	if r, ok := src.(ContextReader); ok {
		return r.ReadFrameContext(ctx)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return src.ReadFrame()
}

// Opener returns a fresh, unopened Source.
type Opener func() Source

var (
	// ErrCameraNotFound is returned when the camera device is not found.
	ErrCameraNotFound = errors.New("camera device not found")

	// ErrCameraNotOpen is returned when reading from a closed source.
	ErrCameraNotOpen = errors.New("camera not open")

	// ErrNoFrame is returned when no frame could be captured.
	ErrNoFrame = errors.New("failed to capture frame")

	// ErrDeviceUnavailable is returned when every open attempt failed.
	ErrDeviceUnavailable = errors.New("camera device unavailable")

	// ErrDeviceBusy is returned when the device is held by another operation.
	ErrDeviceBusy = errors.New("camera device busy")

	// ErrUnknownDriver is returned for an unregistered driver name.
	ErrUnknownDriver = errors.New("unknown camera driver")
)

// Open opens a Source, retrying with a fresh one up to attempts times.
func Open(ctx context.Context, opener Opener, attempts int, backoff time.Duration) (Source, error) {
	if attempts < 1 {
		attempts = 1
	}
	log := logging.Component("camera")

	var lastErr error
	for i := 1; i <= attempts; i++ {
		src := opener()
		err := src.Open(ctx)
		if err == nil {
			if i > 1 {
				log.Infof("camera opened on attempt %d", i)
			}
			return src, nil
		}
		_ = src.Close()
		lastErr = err
		log.WithError(err).Warnf("camera open attempt %d/%d failed", i, attempts)

		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, ctx.Err())
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrDeviceUnavailable, attempts, lastErr)
}

// DriverFactory builds a Source for the given settings.
type DriverFactory func(Settings) Source

var (
	driversMu sync.RWMutex
	drivers   = map[string]DriverFactory{
		"ffmpeg": func(s Settings) Source { return NewFFmpegSource(s) },
	}
)

// RegisterDriver makes a driver available to NewOpener.
func RegisterDriver(name string, factory DriverFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[name] = factory
}

// Drivers lists the registered driver names.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewOpener returns an Opener for the named driver.
func NewOpener(driver string, s Settings) (Opener, error) {
	driversMu.RLock()
	factory, ok := drivers[driver]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s (available: %s)", ErrUnknownDriver, driver, strings.Join(Drivers(), ", "))
	}
	return func() Source { return factory(s) }, nil
}

// ListCameras returns info for all video devices on the system.
func ListCameras() ([]DeviceInfo, error) {
	matches, err := filepath.Glob(devicePattern)
	if err != nil {
		return nil, err
	}
	devices := make([]DeviceInfo, 0, len(matches))
	for _, path := range matches {
		devices = append(devices, getDeviceInfo(path))
	}
	return devices, nil
}

func getDeviceInfo(device string) DeviceInfo {
	info := DeviceInfo{Path: device, Name: filepath.Base(device)}

	out, err := execCommand("v4l2-ctl", "--device="+device, "--info").Output()
	if err != nil {
		return info
	}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "Driver name":
			info.Driver = strings.TrimSpace(value)
		case "Card type":
			info.Name = strings.TrimSpace(value)
		}
	}
	return info
}
