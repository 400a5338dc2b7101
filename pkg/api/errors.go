package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/MrCodeEU/faceattend/pkg/capture"
	"github.com/MrCodeEU/faceattend/pkg/dataset"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/storage"
	"github.com/MrCodeEU/faceattend/pkg/training"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Success bool              `json:"success"`
	Code    string            `json:"code"`
	Msg     string            `json:"msg"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			logging.WithError(err).Warnf("Failed to encode JSON response")
		}
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Code: code, Msg: msg})
}

// writeServiceError maps service errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrStudentNotFound):
		writeError(w, http.StatusNotFound, "STUDENT_NOT_FOUND", "Student not found")
	case errors.Is(err, storage.ErrEventNotFound):
		writeError(w, http.StatusNotFound, "EVENT_NOT_FOUND", "Attendance record not found")
	case errors.Is(err, storage.ErrStudentExists):
		writeError(w, http.StatusConflict, "STUDENT_EXISTS", "A student with this email or admission number already exists")
	case errors.Is(err, capture.ErrInProgress):
		writeError(w, http.StatusConflict, "CAPTURE_IN_PROGRESS", "Enrollment is already running for this student")
	case errors.Is(err, dataset.ErrInvalidIdentity):
		writeError(w, http.StatusBadRequest, "INVALID_IDENTITY", err.Error())
	case errors.Is(err, training.ErrNoTrainingData):
		writeError(w, http.StatusUnprocessableEntity, "NO_TRAINING_DATA", "No enrolled faces to train on")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "TIMEOUT", "Request timed out")
	default:
		logging.Component("http").WithError(err).Errorf("%s %s failed", r.Method, r.URL.Path)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Error: "+err.Error())
	}
}

func writeValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid input")
		return
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Code:   "VALIDATION_FAILED",
		Msg:    "Validation failed",
		Fields: fields,
	})
}
