package training

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/MrCodeEU/faceattend/pkg/logging"
)

// Runner is anything that can run a training pass.
type Runner interface {
	Train(ctx context.Context) (Summary, error)
}

// Scheduler retrains on a cron schedule. Runs never overlap.
type Scheduler struct {
	s    *gocron.Scheduler
	expr string
}

// NewScheduler registers r under the cron expression expr, evaluated in loc.
func NewScheduler(r Runner, expr string, loc *time.Location) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := gocron.NewScheduler(loc)
	s.SingletonModeAll()

	_, err := s.Cron(expr).Do(func() {
		log := logging.Component("training").WithField("trigger", "schedule")
		summary, err := r.Train(context.Background())
		switch {
		case errors.Is(err, ErrNoTrainingData):
			log.Info("Scheduled training skipped, no samples")
		case err != nil:
			log.WithError(err).Errorf("Scheduled training failed")
		default:
			log.Infof("Scheduled training finished: %d identities, %d samples", summary.Identities, summary.Samples)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid training schedule %q: %w", expr, err)
	}
	return &Scheduler{s: s, expr: expr}, nil
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	logging.Infof("Training scheduled: %s", s.expr)
	s.s.StartAsync()
}

// Stop halts the scheduler. A running pass is allowed to finish.
func (s *Scheduler) Stop() {
	s.s.Stop()
}

// NextRun returns the next scheduled run.
func (s *Scheduler) NextRun() time.Time {
	_, next := s.s.NextRun()
	return next
}
