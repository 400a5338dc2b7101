package main

import (
	"fmt"

	"github.com/MrCodeEU/faceattend/pkg/attendance"
	"github.com/MrCodeEU/faceattend/pkg/camera"
	"github.com/MrCodeEU/faceattend/pkg/capture"
	"github.com/MrCodeEU/faceattend/pkg/dataset"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
	"github.com/MrCodeEU/faceattend/pkg/service"
	"github.com/MrCodeEU/faceattend/pkg/session"
	"github.com/MrCodeEU/faceattend/pkg/storage"
	"github.com/MrCodeEU/faceattend/pkg/training"
	"github.com/MrCodeEU/faceattend/pkg/vision"
)

// app owns every long-lived component built from cfg.
type app struct {
	db       *storage.DB
	resolver *session.Resolver
	samples  *dataset.Store

	locator  vision.Locator
	runtime  *recognition.Runtime
	capturer *capture.Capturer
	trainer  *training.Trainer
	marker   *attendance.Marker

	svc *service.Service
}

// appOptions selects the optional parts of the app.
type appOptions struct {
	// Vision builds the camera, locator, capture, training and marking
	// pipeline. Directory-only commands leave it off.
	Vision        bool
	TrainProgress training.ProgressFunc
}

func newApp(opts appOptions) (*app, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	db, err := storage.Open(storage.Options{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		LogLevel:     cfg.Database.LogLevel,
	})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	resolver, err := session.NewFromConfig(cfg.Sessions)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("invalid session windows: %w", err)
	}

	a := &app{
		db:       db,
		resolver: resolver,
		samples:  dataset.NewStore(cfg.Storage.DatasetDir),
	}
	deps := service.Deps{
		Sessions: resolver,
		Students: db.Students(),
		Events:   db.Events(),
		Samples:  a.samples,
		Location: resolver.Location(),
	}

	if opts.Vision {
		if err := a.buildVision(opts); err != nil {
			a.Close()
			return nil, err
		}
		deps.Capturer = a.capturer
		deps.Trainer = a.trainer
		deps.Marker = a.marker
	}

	a.svc = service.New(deps)
	return a, nil
}

func (a *app) buildVision(opts appOptions) error {
	opener, err := camera.NewOpener(cfg.Camera.Driver, camera.Settings{
		Device:     cfg.Camera.Device,
		Width:      cfg.Camera.Width,
		Height:     cfg.Camera.Height,
		FPS:        cfg.Camera.FPS,
		FFmpegPath: cfg.Camera.FFmpegPath,
	})
	if err != nil {
		return err
	}

	locator, backend, err := vision.NewLocator(vision.Options{
		Backend:     vision.Backend(cfg.Detection.Backend),
		CascadePath: cfg.Detection.CascadePath,
		DlibModels:  cfg.Detection.DlibModels,
		Params: vision.DetectorParams{
			ScaleFactor:  cfg.Detection.ScaleFactor,
			MinNeighbors: cfg.Detection.MinNeighbors,
			MinSize:      cfg.Detection.MinSize,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to load face locator (try 'faceattend models download'): %w", err)
	}
	a.locator = vision.Synchronized(locator)
	logging.Debugf("Using %s locator on %s via %s", backend, cfg.Camera.Device, cfg.Camera.Driver)

	sealer := modelSealer()
	a.runtime = recognition.NewRuntime(cfg.Recognition.ModelPath, sealer)

	a.capturer = capture.New(capture.Options{
		Device:        cfg.Camera.Device,
		Opener:        opener,
		OpenAttempts:  cfg.Camera.OpenAttempts,
		OpenBackoff:   cfg.Camera.OpenBackoff,
		Guard:         camera.DefaultGuard,
		MaxImages:     cfg.Capture.MaxImages,
		Timeout:       cfg.Capture.Timeout,
		JoinGrace:     cfg.Capture.JoinGrace,
		FrameInterval: cfg.Capture.FrameInterval,
		RegionPolicy:  vision.RegionPolicy(cfg.Capture.RegionPolicy),
		SampleSize:    cfg.Capture.SampleSize,
	}, a.locator, a.samples)

	a.trainer = training.New(training.Options{
		ModelPath:  cfg.Recognition.ModelPath,
		Params:     recognitionParams(),
		Sealer:     sealer,
		Workers:    cfg.Training.Workers,
		SampleSize: cfg.Capture.SampleSize,
		Progress:   opts.TrainProgress,
		OnSaved:    a.runtime.Publish,
	}, a.locator, a.samples)

	a.marker = attendance.New(attendance.Options{
		Device:        cfg.Camera.Device,
		Opener:        opener,
		OpenAttempts:  cfg.Camera.OpenAttempts,
		OpenBackoff:   cfg.Camera.OpenBackoff,
		Guard:         camera.DefaultGuard,
		CaptureWindow: cfg.Attendance.CaptureWindow,
		Threshold:     cfg.Recognition.Threshold,
		SampleSize:    cfg.Capture.SampleSize,
		Status:        cfg.Attendance.Status,
	}, a.resolver, attendance.RuntimeModels{Runtime: a.runtime}, a.locator, a.db.Students(), a.db.Events())

	return nil
}

// modelSealer returns nil when encryption is off. The nil must stay an
// untyped interface value.
func modelSealer() recognition.Sealer {
	if !cfg.Storage.EncryptionEnabled {
		return nil
	}
	return storage.NewSealer(cfg.Storage.EncryptionKey)
}

func recognitionParams() recognition.Params {
	p := recognition.DefaultParams()
	p.Radius = cfg.Recognition.Radius
	p.GridX = cfg.Recognition.GridX
	p.GridY = cfg.Recognition.GridY
	p.Metric = recognition.Metric(cfg.Recognition.Metric)
	return p
}

func (a *app) Close() {
	if a.locator != nil {
		if err := a.locator.Close(); err != nil {
			logging.WithError(err).Warnf("Failed to close locator")
		}
	}
	if err := a.db.Close(); err != nil {
		logging.WithError(err).Warnf("Failed to close database")
	}
}
