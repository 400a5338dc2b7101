package api

import (
	"context"

	"github.com/MrCodeEU/faceattend/pkg/attendance"
	"github.com/MrCodeEU/faceattend/pkg/capture"
	"github.com/MrCodeEU/faceattend/pkg/service"
	"github.com/MrCodeEU/faceattend/pkg/session"
	"github.com/MrCodeEU/faceattend/pkg/storage"
	"github.com/MrCodeEU/faceattend/pkg/training"
)

// MockService implements Service for testing
type MockService struct {
	SessionFunc          func() session.Info
	MarkFunc             func(ctx context.Context) (attendance.Result, error)
	RecentFunc           func(ctx context.Context, limit int, branch string) ([]storage.AttendanceRecord, error)
	DeleteAttendanceFunc func(ctx context.Context, id string) error
	CreateStudentFunc    func(ctx context.Context, st *storage.Student) error
	ListStudentsFunc     func(ctx context.Context, f storage.StudentFilter) ([]storage.Student, error)
	GetStudentFunc       func(ctx context.Context, id string) (*storage.Student, error)
	UpdateStudentFunc    func(ctx context.Context, st *storage.Student) error
	DeleteStudentFunc    func(ctx context.Context, id string) error
	EnrollFunc           func(ctx context.Context, id string) (service.EnrollResult, error)
	ProgressFunc         func(id string) capture.Progress
	AbortFunc            func(id string) bool
	TrainFunc            func(ctx context.Context) (training.Summary, error)
	StatsFunc            func(ctx context.Context) (service.Stats, error)
}

func (m *MockService) CurrentSessionInfo() session.Info {
	if m.SessionFunc != nil {
		return m.SessionFunc()
	}
	return session.Info{Session: session.Closed}
}

func (m *MockService) MarkAttendance(ctx context.Context) (attendance.Result, error) {
	if m.MarkFunc != nil {
		return m.MarkFunc(ctx)
	}
	return attendance.Result{}, nil
}

func (m *MockService) RecentAttendance(ctx context.Context, limit int, branch string) ([]storage.AttendanceRecord, error) {
	if m.RecentFunc != nil {
		return m.RecentFunc(ctx, limit, branch)
	}
	return nil, nil
}

func (m *MockService) DeleteAttendance(ctx context.Context, id string) error {
	if m.DeleteAttendanceFunc != nil {
		return m.DeleteAttendanceFunc(ctx, id)
	}
	return nil
}

func (m *MockService) CreateStudent(ctx context.Context, st *storage.Student) error {
	if m.CreateStudentFunc != nil {
		return m.CreateStudentFunc(ctx, st)
	}
	st.ID = "generated"
	return nil
}

func (m *MockService) ListStudents(ctx context.Context, f storage.StudentFilter) ([]storage.Student, error) {
	if m.ListStudentsFunc != nil {
		return m.ListStudentsFunc(ctx, f)
	}
	return nil, nil
}

func (m *MockService) GetStudent(ctx context.Context, id string) (*storage.Student, error) {
	if m.GetStudentFunc != nil {
		return m.GetStudentFunc(ctx, id)
	}
	return &storage.Student{ID: id}, nil
}

func (m *MockService) UpdateStudent(ctx context.Context, st *storage.Student) error {
	if m.UpdateStudentFunc != nil {
		return m.UpdateStudentFunc(ctx, st)
	}
	return nil
}

func (m *MockService) DeleteStudent(ctx context.Context, id string) error {
	if m.DeleteStudentFunc != nil {
		return m.DeleteStudentFunc(ctx, id)
	}
	return nil
}

func (m *MockService) Enroll(ctx context.Context, id string) (service.EnrollResult, error) {
	if m.EnrollFunc != nil {
		return m.EnrollFunc(ctx, id)
	}
	return service.EnrollResult{Identity: id}, nil
}

func (m *MockService) CaptureProgress(id string) capture.Progress {
	if m.ProgressFunc != nil {
		return m.ProgressFunc(id)
	}
	return capture.Progress{}
}

func (m *MockService) AbortCapture(id string) bool {
	if m.AbortFunc != nil {
		return m.AbortFunc(id)
	}
	return false
}

func (m *MockService) Train(ctx context.Context) (training.Summary, error) {
	if m.TrainFunc != nil {
		return m.TrainFunc(ctx)
	}
	return training.Summary{}, nil
}

func (m *MockService) Stats(ctx context.Context) (service.Stats, error) {
	if m.StatsFunc != nil {
		return m.StatsFunc(ctx)
	}
	return service.Stats{}, nil
}
