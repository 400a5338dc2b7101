// Package service exposes the enrollment, attendance and session operations
// to the CLI and the HTTP boundary.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/attendance"
	"github.com/MrCodeEU/faceattend/pkg/camera"
	"github.com/MrCodeEU/faceattend/pkg/capture"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/session"
	"github.com/MrCodeEU/faceattend/pkg/storage"
	"github.com/MrCodeEU/faceattend/pkg/training"
)

// Capturer records enrollment samples.
type Capturer interface {
	Capture(ctx context.Context, identity string) (capture.Result, error)
	Progress(identity string) capture.Progress
	Abort(identity string) bool
}

// Trainer rebuilds the model.
type Trainer interface {
	Train(ctx context.Context) (training.Summary, error)
}

// Marker runs one attendance pass.
type Marker interface {
	Mark(ctx context.Context) (attendance.Result, error)
}

// Sessions describes the session at an instant.
type Sessions interface {
	Info(now time.Time) session.Info
	Resolve(now time.Time) session.Current
}

// Students is the student directory.
type Students interface {
	Create(ctx context.Context, st *storage.Student) error
	Get(ctx context.Context, id string) (*storage.Student, error)
	List(ctx context.Context, f storage.StudentFilter) ([]storage.Student, error)
	Update(ctx context.Context, st *storage.Student) error
	SetEnrolled(ctx context.Context, id string, enrolled bool) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (total, enrolled int64, err error)
}

// Events reads and prunes attendance history.
type Events interface {
	Recent(ctx context.Context, limit int, branch string) ([]storage.AttendanceRecord, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context, date string) (int64, error)
}

// Samples manages stored sample partitions.
type Samples interface {
	Remove(id string) error
}

// Deps are the collaborators of a Service. The composition root owns their
// lifecycle.
type Deps struct {
	Capturer Capturer
	Trainer  Trainer
	Marker   Marker
	Sessions Sessions
	Students Students
	Events   Events
	Samples  Samples
	// Location is the civil zone for displayed times.
	Location *time.Location
	// Now defaults to time.Now.
	Now func() time.Time
}

// Service implements the external operations.
type Service struct {
	d Deps
}

// New creates a Service.
func New(d Deps) *Service {
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{d: d}
}

// EnrollResult is the outcome of an enrollment.
type EnrollResult struct {
	Success   bool               `json:"success"`
	Identity  string             `json:"identity"`
	Captured  int                `json:"captured"`
	Trained   bool               `json:"trained"`
	Stop      capture.StopReason `json:"stop,omitempty"`
	Abandoned bool               `json:"abandoned,omitempty"`
	Message   string             `json:"msg"`
}

// Enroll captures samples for the student and retrains. The student is
// marked enrolled once at least one sample was captured; a training failure
// after that is reported in the message only.
func (s *Service) Enroll(ctx context.Context, id string) (EnrollResult, error) {
	res := EnrollResult{Identity: id}
	log := logging.Component("service").WithField("identity", id)

	if _, err := s.d.Students.Get(ctx, id); err != nil {
		return res, err
	}

	cres, err := s.d.Capturer.Capture(ctx, id)
	res.Captured, res.Stop, res.Abandoned = cres.Count, cres.Stop, cres.Abandoned
	switch {
	case errors.Is(err, camera.ErrDeviceUnavailable), errors.Is(err, camera.ErrDeviceBusy):
		log.WithError(err).Warnf("Enrollment capture could not use the camera")
		res.Message = attendance.MessageFor(attendance.CodeCameraError)
		return res, nil
	case err != nil:
		return res, fmt.Errorf("capture failed: %w", err)
	}

	if res.Captured == 0 {
		res.Message = "No faces captured. Check camera and lighting."
		return res, nil
	}

	summary, err := s.d.Trainer.Train(ctx)
	if err != nil {
		log.WithError(err).Warnf("Training after enrollment failed")
		res.Message = fmt.Sprintf("%d images saved, but model training failed: %v", res.Captured, err)
	} else {
		res.Trained = true
		res.Message = fmt.Sprintf("Enrollment complete. %d images captured and model updated.", res.Captured)
		log.Infof("Model now covers %d identities", summary.Identities)
	}

	if err := s.d.Students.SetEnrolled(ctx, id, true); err != nil {
		return res, err
	}
	res.Success = true
	return res, nil
}

// CaptureProgress reports the running or latest capture of id.
func (s *Service) CaptureProgress(id string) capture.Progress {
	return s.d.Capturer.Progress(id)
}

// AbortCapture stops a running capture of id.
func (s *Service) AbortCapture(id string) bool {
	return s.d.Capturer.Abort(id)
}

// Train rebuilds the model from the stored samples.
func (s *Service) Train(ctx context.Context) (training.Summary, error) {
	return s.d.Trainer.Train(ctx)
}

// MarkAttendance runs one attendance pass.
func (s *Service) MarkAttendance(ctx context.Context) (attendance.Result, error) {
	return s.d.Marker.Mark(ctx)
}

// CurrentSessionInfo describes the session now.
func (s *Service) CurrentSessionInfo() session.Info {
	return s.d.Sessions.Info(s.d.Now())
}

// RecentAttendance lists the newest events with timestamps in civil time.
func (s *Service) RecentAttendance(ctx context.Context, limit int, branch string) ([]storage.AttendanceRecord, error) {
	records, err := s.d.Events.Recent(ctx, limit, branch)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i].Timestamp = records[i].Timestamp.In(s.d.Location)
	}
	return records, nil
}

// DeleteAttendance removes one event.
func (s *Service) DeleteAttendance(ctx context.Context, id string) error {
	return s.d.Events.Delete(ctx, id)
}

// CreateStudent adds a student.
func (s *Service) CreateStudent(ctx context.Context, st *storage.Student) error {
	return s.d.Students.Create(ctx, st)
}

// GetStudent returns the student with id.
func (s *Service) GetStudent(ctx context.Context, id string) (*storage.Student, error) {
	return s.d.Students.Get(ctx, id)
}

// UpdateStudent replaces the student's details. Enrollment state and face
// samples are kept.
func (s *Service) UpdateStudent(ctx context.Context, st *storage.Student) error {
	return s.d.Students.Update(ctx, st)
}

// ListStudents lists students matching f.
func (s *Service) ListStudents(ctx context.Context, f storage.StudentFilter) ([]storage.Student, error) {
	return s.d.Students.List(ctx, f)
}

// DeleteStudent removes the student, their history and their samples. The
// model keeps the identity until the next training run; the marker skips
// identities that are no longer in the directory.
func (s *Service) DeleteStudent(ctx context.Context, id string) error {
	if err := s.d.Students.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.d.Samples.Remove(id); err != nil {
		logging.WithError(err).Warnf("Failed to remove samples of %s", id)
	}
	return nil
}

// Stats is the dashboard summary.
type Stats struct {
	Students        int64  `json:"students"`
	Enrolled        int64  `json:"enrolled"`
	TodayAttendance int64  `json:"today_attendance"`
	Date            string `json:"date"`
	Session         string `json:"session"`
}

// Stats counts students and today's events.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	cur := s.d.Sessions.Resolve(s.d.Now())
	total, enrolled, err := s.d.Students.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	today, err := s.d.Events.Count(ctx, cur.Date)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Students:        total,
		Enrolled:        enrolled,
		TodayAttendance: today,
		Date:            cur.Date,
		Session:         cur.Name,
	}, nil
}
