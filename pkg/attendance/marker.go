// Package attendance marks recognized faces present in the current session.
// It handles one short camera pass per call and writes at most one event per
// student, session and day.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"strings"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/camera"
	"github.com/MrCodeEU/faceattend/pkg/dataset"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
	"github.com/MrCodeEU/faceattend/pkg/session"
	"github.com/MrCodeEU/faceattend/pkg/storage"
	"github.com/MrCodeEU/faceattend/pkg/vision"
)

// State is a step of the marking state machine.
type State string

const (
	StateOpeningCamera State = "OPENING_CAMERA"
	StateStreaming     State = "STREAMING"
	StateRecognizing   State = "RECOGNIZING"
	StatePersisting    State = "PERSISTING"
	StateDone          State = "DONE"
	StateClosedWindow  State = "CLOSED_WINDOW"
	StateNoModel       State = "NO_MODEL"
	StateCameraError   State = "CAMERA_ERROR"
)

// Outcome is the result code of a marking call.
type Outcome string

const (
	CodeMarked          Outcome = "MARKED"
	CodeClosedWindow    Outcome = "CLOSED_WINDOW"
	CodeNoModel         Outcome = "NO_MODEL"
	CodeCameraError     Outcome = "CAMERA_ERROR"
	CodeNoMatch         Outcome = "NO_MATCH"
	CodeAlreadyMarked   Outcome = "ALREADY_MARKED"
	CodeNoValidIdentity Outcome = "NO_VALID_IDENTITY"
)

// User-facing messages
var messages = map[Outcome]string{
	CodeMarked:          "Attendance marked",
	CodeClosedWindow:    "Attendance closed",
	CodeNoModel:         "Face model is not trained yet. Enroll students and train first.",
	CodeCameraError:     "Cannot access camera.",
	CodeNoMatch:         "No known faces recognized. Attendance not marked.",
	CodeAlreadyMarked:   "Already marked",
	CodeNoValidIdentity: "No valid students found or all already marked.",
}

// MessageFor returns the generic message for code.
func MessageFor(code Outcome) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return "Attendance failed"
}

// Person is a student named in a result.
type Person struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Result is the outcome of one marking call. Success is true only when at
// least one new event was written.
type Result struct {
	Success       bool      `json:"success"`
	Code          Outcome   `json:"code"`
	Message       string    `json:"msg"`
	State         State     `json:"state"`
	Session       string    `json:"session"`
	Date          string    `json:"date,omitempty"`
	Marked        []Person  `json:"marked"`
	AlreadyMarked []Person  `json:"already_marked"`
	Timestamp     time.Time `json:"timestamp"`
}

// Resolver resolves the current session window.
type Resolver interface {
	Resolve(now time.Time) session.Current
	ClosedMessage(now time.Time) string
}

// Classifier predicts labels for normalized samples.
type Classifier interface {
	Predict(sample *image.Gray) recognition.Prediction
	Mapping() *dataset.LabelMapping
}

// Models supplies the current classifier. It returns an error wrapping
// recognition.ErrModelUnavailable when nothing was trained yet.
type Models interface {
	Classifier() (Classifier, error)
}

// RuntimeModels adapts a recognition runtime to Models.
type RuntimeModels struct {
	Runtime *recognition.Runtime
}

// Classifier returns the runtime's current model.
func (r RuntimeModels) Classifier() (Classifier, error) {
	model, err := r.Runtime.Model()
	if err != nil {
		return nil, err
	}
	return model, nil
}

// Locator finds face regions in a frame.
type Locator interface {
	Locate(img image.Image) ([]image.Rectangle, error)
}

// Directory looks students up by identity.
type Directory interface {
	Get(ctx context.Context, id string) (*storage.Student, error)
}

// EventStore persists attendance events. Record inserts only when no event
// exists for the same student, session and date, and reports whether it did.
type EventStore interface {
	Exists(ctx context.Context, studentID, session string, from, to time.Time) (bool, error)
	Record(ctx context.Context, ev *storage.AttendanceEvent) (bool, error)
}

// PreviewFunc receives every processed frame. It must not block.
type PreviewFunc func(frame image.Image, regions []image.Rectangle, caption string)

// Options configures a Marker.
type Options struct {
	Device         string
	Opener         camera.Opener
	OpenAttempts   int
	OpenBackoff    time.Duration
	Guard          *camera.Guard
	AcquireTimeout time.Duration
	// OpenTimeout bounds all open attempts together.
	OpenTimeout time.Duration

	CaptureWindow time.Duration
	Threshold     float64
	SampleSize    int
	Status        string
	Preview       PreviewFunc

	// Now defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns a 700ms capture window and threshold 75.
func DefaultOptions() Options {
	return Options{
		OpenAttempts:   3,
		OpenBackoff:    500 * time.Millisecond,
		Guard:          camera.DefaultGuard,
		AcquireTimeout: 2 * time.Second,
		OpenTimeout:    2 * time.Second,
		CaptureWindow:  700 * time.Millisecond,
		Threshold:      recognition.DefaultThreshold,
		SampleSize:     vision.SampleSize,
		Status:         storage.StatusPresent,
		Now:            time.Now,
	}
}

// Marker runs the marking state machine.
type Marker struct {
	opts     Options
	resolver Resolver
	models   Models
	locator  Locator
	students Directory
	events   EventStore
}

// New creates a Marker. Zero option fields take their defaults.
func New(opts Options, resolver Resolver, models Models, locator Locator, students Directory, events EventStore) *Marker {
	def := DefaultOptions()
	if opts.OpenAttempts <= 0 {
		opts.OpenAttempts = def.OpenAttempts
	}
	if opts.Guard == nil {
		opts.Guard = def.Guard
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = def.AcquireTimeout
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = def.OpenTimeout
	}
	if opts.CaptureWindow <= 0 {
		opts.CaptureWindow = def.CaptureWindow
	}
	if opts.Threshold <= 0 {
		opts.Threshold = def.Threshold
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = def.SampleSize
	}
	if opts.Status == "" {
		opts.Status = def.Status
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	return &Marker{
		opts:     opts,
		resolver: resolver,
		models:   models,
		locator:  locator,
		students: students,
		events:   events,
	}
}

func fail(res Result, state State, code Outcome, msg string) Result {
	res.State = state
	res.Code = code
	res.Message = msg
	if msg == "" {
		res.Message = MessageFor(code)
	}
	return res
}

// Mark runs one marking pass. Expected outcomes are reported in the result;
// the error is non-nil only for unexpected faults such as storage failures or
// a corrupt model.
func (m *Marker) Mark(ctx context.Context) (Result, error) {
	now := m.opts.Now()
	log := logging.Component("attendance")

	cur := m.resolver.Resolve(now)
	res := Result{Session: cur.Name, Date: cur.Date, Timestamp: now.UTC(), Marked: []Person{}, AlreadyMarked: []Person{}}

	if !cur.Open {
		log.Infof("Attendance requested outside session windows at %s", cur.Local.Format("15:04"))
		return fail(res, StateClosedWindow, CodeClosedWindow, m.resolver.ClosedMessage(now)), nil
	}

	classifier, err := m.models.Classifier()
	if err != nil {
		if errors.Is(err, recognition.ErrModelUnavailable) {
			log.Warnf("Attendance requested before training")
			return fail(res, StateNoModel, CodeNoModel, ""), nil
		}
		res = fail(res, StateNoModel, CodeNoModel, "")
		return res, fmt.Errorf("failed to load model: %w", err)
	}

	res.State = StateOpeningCamera
	labels, code, msg := m.scan(ctx, classifier, &res)
	if code != "" {
		return fail(res, StateCameraError, code, msg), nil
	}

	res.State = StateRecognizing
	if len(labels) == 0 {
		log.Info("No known faces recognized")
		return fail(res, StateRecognizing, CodeNoMatch, ""), nil
	}

	res.State = StatePersisting
	if err := m.persist(ctx, &res, cur, classifier.Mapping(), labels, now); err != nil {
		return res, err
	}

	res.State = StateDone
	switch {
	case len(res.Marked) > 0:
		res.Success = true
		res.Code = CodeMarked
		res.Message = fmt.Sprintf("%s Session (%s): %d marked - %s",
			cur.Name, cur.Local.Format("02-01-2006 15:04"), len(res.Marked), names(res.Marked, ""))
	case len(res.AlreadyMarked) > 0:
		res.Code = CodeAlreadyMarked
		res.Message = "Already marked: " + names(res.AlreadyMarked, cur.Name)
	default:
		res.Code = CodeNoValidIdentity
		res.Message = MessageFor(CodeNoValidIdentity)
	}

	log.WithFields(logging.Fields{
		"session": cur.Name,
		"date":    cur.Date,
		"marked":  len(res.Marked),
		"already": len(res.AlreadyMarked),
	}).Info("Attendance pass finished")
	return res, nil
}

// scan opens the camera, streams for the capture window and returns the set
// of accepted labels. A non-empty code means the camera could not be used.
// The camera is released before scan returns.
func (m *Marker) scan(ctx context.Context, classifier Classifier, res *Result) (map[int]struct{}, Outcome, string) {
	log := logging.Component("attendance")

	acquireCtx, cancelAcquire := context.WithTimeout(ctx, m.opts.AcquireTimeout)
	release, err := m.opts.Guard.Acquire(acquireCtx, m.opts.Device)
	cancelAcquire()
	if err != nil {
		log.WithError(err).Warnf("Camera busy")
		return nil, CodeCameraError, "Camera is busy with another operation. Try again shortly."
	}
	defer release()

	openCtx, cancelOpen := context.WithTimeout(ctx, m.opts.OpenTimeout)
	src, err := camera.Open(openCtx, m.opts.Opener, m.opts.OpenAttempts, m.opts.OpenBackoff)
	cancelOpen()
	if err != nil {
		log.WithError(err).Errorf("Failed to open camera")
		return nil, CodeCameraError, ""
	}
	defer func() {
		if err := src.Close(); err != nil {
			log.WithError(err).Warnf("Failed to release camera")
		}
	}()

	res.State = StateStreaming
	streamCtx, cancel := context.WithTimeout(ctx, m.opts.CaptureWindow)
	defer cancel()

	accepted := make(map[int]struct{})
	frames := 0
	for streamCtx.Err() == nil {
		frame, err := camera.ReadFrame(streamCtx, src)
		if err != nil {
			log.WithError(err).Debugf("Frame read failed after %d frames", frames)
			break
		}
		frames++

		img, err := frame.ToImage()
		if err != nil {
			continue
		}
		regions, err := m.locator.Locate(img)
		if err != nil {
			log.WithError(err).Warnf("Face detection failed")
			continue
		}

		caption := ""
		for _, r := range regions {
			sample, err := vision.Normalize(img, r, m.opts.SampleSize)
			if err != nil {
				continue
			}
			p := classifier.Predict(sample)
			if recognition.Accept(p, m.opts.Threshold) {
				accepted[p.Label] = struct{}{}
				caption = fmt.Sprintf("ID %d", p.Label)
			} else if caption == "" {
				caption = "Unknown"
			}
			log.Debugf("Predicted label %d at distance %.2f", p.Label, p.Distance)
		}

		if m.opts.Preview != nil {
			m.opts.Preview(img, regions, caption)
		}
	}

	if frames == 0 && ctx.Err() == nil {
		log.Warnf("Camera opened but delivered no frames")
		return nil, CodeCameraError, ""
	}
	log.Debugf("Processed %d frames, %d labels accepted", frames, len(accepted))
	return accepted, "", ""
}

// persist writes one event per resolved identity. Labels the mapping does
// not know and identities missing from the directory are skipped.
func (m *Marker) persist(ctx context.Context, res *Result, cur session.Current, mapping *dataset.LabelMapping, labels map[int]struct{}, now time.Time) error {
	log := logging.Component("attendance")

	ordered := make([]int, 0, len(labels))
	for l := range labels {
		ordered = append(ordered, l)
	}
	sort.Ints(ordered)

	for _, label := range ordered {
		id, ok := mapping.Identity(label)
		if !ok {
			log.Warnf("No identity for label %d", label)
			continue
		}

		st, err := m.students.Get(ctx, id)
		if errors.Is(err, storage.ErrStudentNotFound) {
			log.Warnf("No student found for identity %s", id)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to look up student %s: %w", id, err)
		}
		person := Person{ID: st.ID, Name: st.Name}

		exists, err := m.events.Exists(ctx, st.ID, cur.Name, cur.Start, cur.End)
		if err != nil {
			return fmt.Errorf("failed to check attendance: %w", err)
		}
		if exists {
			log.Infof("Already marked in %s session for %s", cur.Name, st.Name)
			res.AlreadyMarked = append(res.AlreadyMarked, person)
			continue
		}

		inserted, err := m.events.Record(ctx, &storage.AttendanceEvent{
			StudentID: st.ID,
			Session:   cur.Name,
			Date:      cur.Date,
			Timestamp: now,
			Status:    m.opts.Status,
		})
		if err != nil {
			return fmt.Errorf("failed to save attendance: %w", err)
		}
		if !inserted {
			log.Infof("Concurrent mark for %s in %s session", st.Name, cur.Name)
			res.AlreadyMarked = append(res.AlreadyMarked, person)
			continue
		}
		res.Marked = append(res.Marked, person)
	}
	return nil
}

func names(people []Person, session string) string {
	parts := make([]string, len(people))
	for i, p := range people {
		parts[i] = p.Name
		if session != "" {
			parts[i] += " (" + session + ")"
		}
	}
	return strings.Join(parts, ", ")
}
