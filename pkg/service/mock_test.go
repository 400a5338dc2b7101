package service

import (
	"context"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/attendance"
	"github.com/MrCodeEU/faceattend/pkg/capture"
	"github.com/MrCodeEU/faceattend/pkg/session"
	"github.com/MrCodeEU/faceattend/pkg/storage"
	"github.com/MrCodeEU/faceattend/pkg/training"
)

// MockCapturer implements Capturer for testing
type MockCapturer struct {
	CaptureFunc  func(ctx context.Context, identity string) (capture.Result, error)
	ProgressFunc func(identity string) capture.Progress
	AbortFunc    func(identity string) bool
}

func (m *MockCapturer) Capture(ctx context.Context, identity string) (capture.Result, error) {
	if m.CaptureFunc != nil {
		return m.CaptureFunc(ctx, identity)
	}
	return capture.Result{Identity: identity, Count: 100, Max: 100, Stop: capture.StopComplete}, nil
}

func (m *MockCapturer) Progress(identity string) capture.Progress {
	if m.ProgressFunc != nil {
		return m.ProgressFunc(identity)
	}
	return capture.Progress{}
}

func (m *MockCapturer) Abort(identity string) bool {
	if m.AbortFunc != nil {
		return m.AbortFunc(identity)
	}
	return false
}

// MockTrainer implements Trainer for testing
type MockTrainer struct {
	TrainFunc func(ctx context.Context) (training.Summary, error)
}

func (m *MockTrainer) Train(ctx context.Context) (training.Summary, error) {
	if m.TrainFunc != nil {
		return m.TrainFunc(ctx)
	}
	return training.Summary{Identities: 1, Samples: 100}, nil
}

// MockMarker implements Marker for testing
type MockMarker struct {
	MarkFunc func(ctx context.Context) (attendance.Result, error)
}

func (m *MockMarker) Mark(ctx context.Context) (attendance.Result, error) {
	if m.MarkFunc != nil {
		return m.MarkFunc(ctx)
	}
	return attendance.Result{}, nil
}

// MockSessions implements Sessions for testing
type MockSessions struct {
	InfoFunc    func(now time.Time) session.Info
	ResolveFunc func(now time.Time) session.Current
}

func (m *MockSessions) Info(now time.Time) session.Info {
	if m.InfoFunc != nil {
		return m.InfoFunc(now)
	}
	return session.Info{Session: session.Closed}
}

func (m *MockSessions) Resolve(now time.Time) session.Current {
	if m.ResolveFunc != nil {
		return m.ResolveFunc(now)
	}
	return session.Current{Name: session.Closed, Date: now.Format(session.DateLayout)}
}

// MockStudents implements Students for testing
type MockStudents struct {
	CreateFunc      func(ctx context.Context, st *storage.Student) error
	GetFunc         func(ctx context.Context, id string) (*storage.Student, error)
	ListFunc        func(ctx context.Context, f storage.StudentFilter) ([]storage.Student, error)
	UpdateFunc      func(ctx context.Context, st *storage.Student) error
	SetEnrolledFunc func(ctx context.Context, id string, enrolled bool) error
	DeleteFunc      func(ctx context.Context, id string) error
	CountFunc       func(ctx context.Context) (int64, int64, error)
}

func (m *MockStudents) Create(ctx context.Context, st *storage.Student) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, st)
	}
	return nil
}

func (m *MockStudents) Get(ctx context.Context, id string) (*storage.Student, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	return &storage.Student{ID: id, Name: id}, nil
}

func (m *MockStudents) List(ctx context.Context, f storage.StudentFilter) ([]storage.Student, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, f)
	}
	return nil, nil
}

func (m *MockStudents) Update(ctx context.Context, st *storage.Student) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, st)
	}
	return nil
}

func (m *MockStudents) SetEnrolled(ctx context.Context, id string, enrolled bool) error {
	if m.SetEnrolledFunc != nil {
		return m.SetEnrolledFunc(ctx, id, enrolled)
	}
	return nil
}

func (m *MockStudents) Delete(ctx context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

func (m *MockStudents) Count(ctx context.Context) (int64, int64, error) {
	if m.CountFunc != nil {
		return m.CountFunc(ctx)
	}
	return 0, 0, nil
}

// MockEvents implements Events for testing
type MockEvents struct {
	RecentFunc func(ctx context.Context, limit int, branch string) ([]storage.AttendanceRecord, error)
	DeleteFunc func(ctx context.Context, id string) error
	CountFunc  func(ctx context.Context, date string) (int64, error)
}

func (m *MockEvents) Recent(ctx context.Context, limit int, branch string) ([]storage.AttendanceRecord, error) {
	if m.RecentFunc != nil {
		return m.RecentFunc(ctx, limit, branch)
	}
	return nil, nil
}

func (m *MockEvents) Delete(ctx context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

func (m *MockEvents) Count(ctx context.Context, date string) (int64, error) {
	if m.CountFunc != nil {
		return m.CountFunc(ctx, date)
	}
	return 0, nil
}

// MockSamples implements Samples for testing
type MockSamples struct {
	RemoveFunc func(id string) error
}

func (m *MockSamples) Remove(id string) error {
	if m.RemoveFunc != nil {
		return m.RemoveFunc(id)
	}
	return nil
}
