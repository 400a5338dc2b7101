// Package capture records enrollment samples for one identity.
//
// A capture runs on its own goroutine under a deadline. The caller waits at
// most deadline plus a join grace; a worker that overruns is abandoned and
// keeps the camera until it exits.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/camera"
	"github.com/MrCodeEU/faceattend/pkg/dataset"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/vision"
)

// StopReason tells why a capture loop ended.
type StopReason string

const (
	StopComplete    StopReason = "complete"
	StopReadFailure StopReason = "read_failure"
	StopAborted     StopReason = "aborted"
	StopDeadline    StopReason = "deadline"
	StopError       StopReason = "error"
)

// ErrInProgress is returned when the identity is already being captured.
var ErrInProgress = errors.New("capture already in progress")

// Locator finds face regions in a frame.
type Locator interface {
	Locate(img image.Image) ([]image.Rectangle, error)
}

// SampleStore persists normalized samples.
type SampleStore interface {
	Reset(id string) error
	SaveSample(id string, n int, img image.Image) (string, error)
	Count(id string) (int, error)
}

// PreviewFunc receives every processed frame with its regions and a
// progress caption. It must not block.
type PreviewFunc func(frame image.Image, regions []image.Rectangle, caption string)

// Options configures a Capturer.
type Options struct {
	Device       string
	Opener       camera.Opener
	OpenAttempts int
	OpenBackoff  time.Duration
	Guard        *camera.Guard

	MaxImages     int
	Timeout       time.Duration
	JoinGrace     time.Duration
	FrameInterval time.Duration
	RegionPolicy  vision.RegionPolicy
	SampleSize    int
	Preview       PreviewFunc
}

// DefaultOptions returns 100 images, a 150s deadline and a 5s join grace.
func DefaultOptions() Options {
	return Options{
		OpenAttempts:  3,
		OpenBackoff:   500 * time.Millisecond,
		Guard:         camera.DefaultGuard,
		MaxImages:     100,
		Timeout:       150 * time.Second,
		JoinGrace:     5 * time.Second,
		FrameInterval: 33 * time.Millisecond,
		RegionPolicy:  vision.PolicyFirst,
		SampleSize:    vision.SampleSize,
	}
}

// Result is the outcome of one capture.
type Result struct {
	Identity  string     `json:"identity"`
	Count     int        `json:"count"`
	Max       int        `json:"max"`
	Stop      StopReason `json:"stop"`
	Abandoned bool       `json:"abandoned,omitempty"`
}

// Progress is a snapshot of a capture.
type Progress struct {
	Count   int    `json:"count"`
	Max     int    `json:"max"`
	Running bool   `json:"running"`
	Done    bool   `json:"done"`
	Err     string `json:"error,omitempty"`
}

type job struct {
	cancel context.CancelFunc
	max    int
	count  atomic.Int64

	mu   sync.Mutex
	done bool
	err  error
}

func (j *job) finish(err error) {
	j.mu.Lock()
	j.done = true
	j.err = err
	j.mu.Unlock()
}

func (j *job) snapshot() Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	p := Progress{Count: int(j.count.Load()), Max: j.max, Running: !j.done, Done: j.done}
	if j.err != nil {
		p.Err = j.err.Error()
	}
	return p
}

type outcome struct {
	count int
	stop  StopReason
	err   error
}

// Capturer drives a frame source and a locator to fill a sample partition.
type Capturer struct {
	opts    Options
	locator Locator
	store   SampleStore

	mu   sync.Mutex
	jobs map[string]*job
}

// New creates a Capturer. Zero option fields take their defaults.
func New(opts Options, locator Locator, store SampleStore) *Capturer {
	def := DefaultOptions()
	if opts.OpenAttempts <= 0 {
		opts.OpenAttempts = def.OpenAttempts
	}
	if opts.Guard == nil {
		opts.Guard = def.Guard
	}
	if opts.MaxImages <= 0 {
		opts.MaxImages = def.MaxImages
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.RegionPolicy == "" {
		opts.RegionPolicy = def.RegionPolicy
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = def.SampleSize
	}
	return &Capturer{opts: opts, locator: locator, store: store, jobs: make(map[string]*job)}
}

// Capture records up to MaxImages samples for identity. It returns the
// number of samples persisted; zero is a valid outcome. Camera failures
// return a zero count and an error wrapping camera.ErrDeviceUnavailable.
func (c *Capturer) Capture(ctx context.Context, identity string) (Result, error) {
	res := Result{Identity: identity, Max: c.opts.MaxImages}
	if err := dataset.ValidateIdentity(identity); err != nil {
		res.Stop = StopError
		return res, err
	}

	workCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	j := &job{cancel: cancel, max: c.opts.MaxImages}
	if err := c.register(identity, j); err != nil {
		cancel()
		res.Stop = StopError
		return res, err
	}

	log := logging.Component("capture").WithField("identity", identity)
	log.Infof("Starting capture of %d samples", c.opts.MaxImages)

	done := make(chan outcome, 1)
	go func() {
		defer cancel()
		out := c.run(workCtx, identity, j)
		j.finish(out.err)
		done <- out
	}()

	join := time.NewTimer(c.opts.Timeout + c.opts.JoinGrace)
	defer join.Stop()

	select {
	case out := <-done:
		res.Count, res.Stop = out.count, out.stop
		log.WithFields(logging.Fields{"count": out.count, "stop": out.stop}).Info("Capture finished")
		return res, out.err
	case <-join.C:
		cancel()
		res.Count = int(j.count.Load())
		res.Stop = StopDeadline
		res.Abandoned = true
		log.Warnf("Capture worker did not finish in time, abandoning it with %d samples", res.Count)
		return res, nil
	}
}

func (c *Capturer) register(identity string, j *job) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.jobs[identity]; ok && !prev.snapshot().Done {
		return fmt.Errorf("%w: %s", ErrInProgress, identity)
	}
	c.jobs[identity] = j
	return nil
}

// run is the worker loop. It holds the camera guard until it returns.
func (c *Capturer) run(ctx context.Context, identity string, j *job) outcome {
	log := logging.Component("capture").WithField("identity", identity)

	release, err := c.opts.Guard.Acquire(ctx, c.opts.Device)
	if err != nil {
		return outcome{stop: StopError, err: err}
	}
	defer release()

	src, err := camera.Open(ctx, c.opts.Opener, c.opts.OpenAttempts, c.opts.OpenBackoff)
	if err != nil {
		return outcome{stop: StopError, err: err}
	}
	defer func() {
		if err := src.Close(); err != nil {
			log.WithError(err).Warnf("Failed to release camera")
		}
	}()

	if err := c.store.Reset(identity); err != nil {
		return outcome{stop: StopError, err: fmt.Errorf("failed to prepare sample partition: %w", err)}
	}

	count := 0
	for count < c.opts.MaxImages {
		if err := ctx.Err(); err != nil {
			return outcome{count: count, stop: stopFor(err)}
		}

		frame, err := camera.ReadFrame(ctx, src)
		if ctx.Err() != nil {
			return outcome{count: count, stop: stopFor(ctx.Err())}
		}
		if err != nil {
			log.WithError(err).Warnf("Frame read failed")
			return outcome{count: count, stop: StopReadFailure}
		}
		img, err := frame.ToImage()
		if err != nil {
			log.WithError(err).Debugf("Skipping undecodable frame")
			continue
		}

		regions, err := c.locator.Locate(img)
		if err != nil {
			return outcome{count: count, stop: StopError, err: fmt.Errorf("face detection failed: %w", err)}
		}

		if region, ok := vision.PickRegion(regions, c.opts.RegionPolicy); ok {
			sample, err := vision.Normalize(img, region, c.opts.SampleSize)
			if err == nil {
				if _, err := c.store.SaveSample(identity, count+1, sample); err != nil {
					return outcome{count: count, stop: StopError, err: err}
				}
				count++
				j.count.Store(int64(count))
				log.Debugf("Saved sample %d/%d", count, c.opts.MaxImages)
			}
		}

		if c.opts.Preview != nil {
			c.opts.Preview(img, regions, fmt.Sprintf("%d/%d", count, c.opts.MaxImages))
		}

		if c.opts.FrameInterval > 0 && count < c.opts.MaxImages {
			select {
			case <-ctx.Done():
				return outcome{count: count, stop: stopFor(ctx.Err())}
			case <-time.After(c.opts.FrameInterval):
			}
		}
	}
	return outcome{count: count, stop: StopComplete}
}

func stopFor(err error) StopReason {
	if errors.Is(err, context.DeadlineExceeded) {
		return StopDeadline
	}
	return StopAborted
}

// Abort cancels a running capture of identity. It reports whether one was
// running.
func (c *Capturer) Abort(identity string) bool {
	c.mu.Lock()
	j, ok := c.jobs[identity]
	c.mu.Unlock()
	if !ok || j.snapshot().Done {
		return false
	}
	j.cancel()
	return true
}

// Progress returns the state of the latest capture of identity. Without one
// it reports the samples already on disk.
func (c *Capturer) Progress(identity string) Progress {
	c.mu.Lock()
	j, ok := c.jobs[identity]
	c.mu.Unlock()
	if ok {
		return j.snapshot()
	}

	n, err := c.store.Count(identity)
	p := Progress{Count: n, Max: c.opts.MaxImages, Done: true}
	if err != nil {
		p.Err = err.Error()
	}
	return p
}
