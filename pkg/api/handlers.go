package api

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/MrCodeEU/faceattend/pkg/storage"
)

const (
	defaultAttendanceLimit = 50
	maxAttendanceLimit     = 500
)

// studentRequest is the body of POST /api/students and
// PUT /api/students/{id}.
type studentRequest struct {
	Name        string `json:"name" validate:"required,max=120"`
	AdmissionNo string `json:"admission_no" validate:"required,max=50"`
	Email       string `json:"email" validate:"required,email,max=120"`
	Phone       string `json:"phone" validate:"omitempty,max=30"`
	Branch      string `json:"branch" validate:"required,max=50"`
	Semester    int    `json:"semester" validate:"gte=0,lte=12"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// CurrentSession reports the session open now, or the closed state with the
// next window.
func (h *Handler) CurrentSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.CurrentSessionInfo())
}

// Stats returns the dashboard counts.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// MarkAttendance runs one attendance pass. Expected outcomes such as a
// closed window are reported with success=false and a 200 status.
func (h *Handler) MarkAttendance(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.MarkAttendance(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListAttendance returns the most recent records, newest first. limit
// defaults to 50 and is capped at 500.
func (h *Handler) ListAttendance(w http.ResponseWriter, r *http.Request) {
	limit := defaultAttendanceLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = min(n, maxAttendanceLimit)
	}

	records, err := h.svc.RecentAttendance(r.Context(), limit, r.URL.Query().Get("branch"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if records == nil {
		records = []storage.AttendanceRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// DeleteAttendance removes one record.
func (h *Handler) DeleteAttendance(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteAttendance(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeStudent reads and validates a studentRequest. It writes the error
// response itself and reports whether the caller should continue.
func (h *Handler) decodeStudent(w http.ResponseWriter, r *http.Request) (*storage.Student, bool) {
	var req studentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body: "+err.Error())
		return nil, false
	}
	req.Name = strings.TrimSpace(req.Name)
	req.AdmissionNo = strings.TrimSpace(req.AdmissionNo)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Phone = strings.TrimSpace(req.Phone)
	req.Branch = strings.TrimSpace(req.Branch)

	if err := h.validate.Struct(&req); err != nil {
		writeValidationError(w, err)
		return nil, false
	}

	return &storage.Student{
		Name:        req.Name,
		AdmissionNo: req.AdmissionNo,
		Email:       req.Email,
		Phone:       req.Phone,
		Branch:      req.Branch,
		Semester:    req.Semester,
	}, true
}

// CreateStudent adds a student and returns it with its new id.
func (h *Handler) CreateStudent(w http.ResponseWriter, r *http.Request) {
	st, ok := h.decodeStudent(w, r)
	if !ok {
		return
	}
	if err := h.svc.CreateStudent(r.Context(), st); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

// GetStudent returns one student.
func (h *Handler) GetStudent(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.GetStudent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// UpdateStudent replaces the student's details. Enrollment is untouched.
func (h *Handler) UpdateStudent(w http.ResponseWriter, r *http.Request) {
	st, ok := h.decodeStudent(w, r)
	if !ok {
		return
	}
	st.ID = chi.URLParam(r, "id")
	if err := h.svc.UpdateStudent(r.Context(), st); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ListStudents filters by branch and by name (q).
func (h *Handler) ListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.svc.ListStudents(r.Context(), storage.StudentFilter{
		Branch: r.URL.Query().Get("branch"),
		Query:  r.URL.Query().Get("q"),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if students == nil {
		students = []storage.Student{}
	}
	writeJSON(w, http.StatusOK, students)
}

// DeleteStudent removes the student with their history and face samples.
func (h *Handler) DeleteStudent(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteStudent(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Enroll blocks until the capture and the retraining finish.
func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Enroll(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// EnrollProgress reports the running or latest capture for the student.
func (h *Handler) EnrollProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.CaptureProgress(chi.URLParam(r, "id")))
}

// AbortEnroll stops a running capture. The samples taken so far are kept.
func (h *Handler) AbortEnroll(w http.ResponseWriter, r *http.Request) {
	if !h.svc.AbortCapture(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "NO_CAPTURE", "No enrollment is running for this student")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Train rebuilds the model from every stored sample.
func (h *Handler) Train(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Train(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
