// Package api serves the attendance operations as JSON over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/cors"

	"github.com/MrCodeEU/faceattend/pkg/attendance"
	"github.com/MrCodeEU/faceattend/pkg/capture"
	"github.com/MrCodeEU/faceattend/pkg/service"
	"github.com/MrCodeEU/faceattend/pkg/session"
	"github.com/MrCodeEU/faceattend/pkg/storage"
	"github.com/MrCodeEU/faceattend/pkg/training"
)

// Service is the set of operations exposed over HTTP.
type Service interface {
	CurrentSessionInfo() session.Info
	MarkAttendance(ctx context.Context) (attendance.Result, error)
	RecentAttendance(ctx context.Context, limit int, branch string) ([]storage.AttendanceRecord, error)
	DeleteAttendance(ctx context.Context, id string) error
	CreateStudent(ctx context.Context, st *storage.Student) error
	ListStudents(ctx context.Context, f storage.StudentFilter) ([]storage.Student, error)
	GetStudent(ctx context.Context, id string) (*storage.Student, error)
	UpdateStudent(ctx context.Context, st *storage.Student) error
	DeleteStudent(ctx context.Context, id string) error
	Enroll(ctx context.Context, id string) (service.EnrollResult, error)
	CaptureProgress(id string) capture.Progress
	AbortCapture(id string) bool
	Train(ctx context.Context) (training.Summary, error)
	Stats(ctx context.Context) (service.Stats, error)
}

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	// RequestTimeout bounds the quick endpoints. Enrollment and training run
	// until they finish or the client goes away.
	RequestTimeout time.Duration
}

// Handler holds the HTTP handlers.
type Handler struct {
	svc      Service
	validate *validator.Validate
}

// NewRouter builds the HTTP router.
func NewRouter(svc Service, opts Options) http.Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}

	h := &Handler{svc: svc, validate: newValidator()}

	r := chi.NewRouter()
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	})

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsHandler.Handler)

	quick := middleware.Timeout(opts.RequestTimeout)

	r.Route("/api", func(r chi.Router) {
		r.With(quick).Get("/current-session", h.CurrentSession)
		r.With(quick).Get("/stats", h.Stats)
		r.Post("/train", h.Train)

		r.Route("/attendance", func(r chi.Router) {
			r.Use(quick)
			r.Post("/", h.MarkAttendance)
			r.Get("/", h.ListAttendance)
			r.Delete("/{id}", h.DeleteAttendance)
		})

		r.Route("/students", func(r chi.Router) {
			r.With(quick).Post("/", h.CreateStudent)
			r.With(quick).Get("/", h.ListStudents)
			r.Route("/{id}", func(r chi.Router) {
				r.With(quick).Get("/", h.GetStudent)
				r.With(quick).Put("/", h.UpdateStudent)
				r.With(quick).Delete("/", h.DeleteStudent)
				r.Post("/enroll", h.Enroll)
				r.Delete("/enroll", h.AbortEnroll)
				r.Get("/enroll/progress", h.EnrollProgress)
			})
		})
	})

	return r
}
