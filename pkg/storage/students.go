package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/facette/natsort"
	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/MrCodeEU/faceattend/pkg/logging"
)

// ErrStudentNotFound is returned when no student has the requested ID.
var ErrStudentNotFound = errors.New("student not found")

// ErrStudentExists is returned when the email or admission number is taken.
var ErrStudentExists = errors.New("student already exists")

// StudentFilter narrows ListStudents.
type StudentFilter struct {
	// Branch matches case-insensitively as a substring.
	Branch string
	// Query matches the name, ignoring case and diacritics.
	Query string
}

// StudentStore is the student directory.
type StudentStore struct {
	db *DB
}

// Students returns the student directory.
func (d *DB) Students() *StudentStore {
	return &StudentStore{db: d}
}

// Create inserts s, assigning a new ID when it has none.
func (s *StudentStore) Create(ctx context.Context, st *Student) error {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}

	var taken int64
	err := s.db.gorm.WithContext(ctx).Model(&Student{}).
		Where("email = ? OR admission_no = ?", st.Email, st.AdmissionNo).
		Count(&taken).Error
	if err != nil {
		return fmt.Errorf("failed to check existing students: %w", err)
	}
	if taken > 0 {
		return fmt.Errorf("%w: email %s or admission number %s is taken", ErrStudentExists, st.Email, st.AdmissionNo)
	}

	if err := s.db.gorm.WithContext(ctx).Create(st).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %v", ErrStudentExists, err)
		}
		return fmt.Errorf("failed to create student: %w", err)
	}

	logging.WithFields(logging.Fields{"id": st.ID, "branch": st.Branch}).Info("Student created")
	return nil
}

// Get returns the student with id.
func (s *StudentStore) Get(ctx context.Context, id string) (*Student, error) {
	var st Student
	err := s.db.gorm.WithContext(ctx).Where("id = ?", id).First(&st).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStudentNotFound
		}
		return nil, fmt.Errorf("failed to load student %s: %w", id, err)
	}
	return &st, nil
}

// List returns students matching f ordered naturally by admission number.
func (s *StudentStore) List(ctx context.Context, f StudentFilter) ([]Student, error) {
	q := s.db.gorm.WithContext(ctx).Model(&Student{})
	if f.Branch != "" {
		q = q.Where("LOWER(branch) LIKE ?", "%"+strings.ToLower(f.Branch)+"%")
	}

	var students []Student
	if err := q.Find(&students).Error; err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}

	if f.Query != "" {
		want := NormalizeName(f.Query)
		matched := students[:0]
		for _, st := range students {
			if strings.Contains(NormalizeName(st.Name), want) {
				matched = append(matched, st)
			}
		}
		students = matched
	}

	sort.SliceStable(students, func(i, j int) bool {
		a, b := students[i].AdmissionNo, students[j].AdmissionNo
		if a == b {
			return students[i].Name < students[j].Name
		}
		return natsort.Compare(a, b)
	})
	return students, nil
}

// Update replaces the editable fields of the student with st.ID and reloads
// st from the stored row.
func (s *StudentStore) Update(ctx context.Context, st *Student) error {
	if _, err := s.Get(ctx, st.ID); err != nil {
		return err
	}

	var taken int64
	err := s.db.gorm.WithContext(ctx).Model(&Student{}).
		Where("id <> ? AND (email = ? OR admission_no = ?)", st.ID, st.Email, st.AdmissionNo).
		Count(&taken).Error
	if err != nil {
		return fmt.Errorf("failed to check existing students: %w", err)
	}
	if taken > 0 {
		return fmt.Errorf("%w: email %s or admission number %s is taken", ErrStudentExists, st.Email, st.AdmissionNo)
	}

	err = s.db.gorm.WithContext(ctx).Model(&Student{}).Where("id = ?", st.ID).Updates(map[string]any{
		"name":         st.Name,
		"admission_no": st.AdmissionNo,
		"email":        st.Email,
		"phone":        st.Phone,
		"branch":       st.Branch,
		"semester":     st.Semester,
	}).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %v", ErrStudentExists, err)
		}
		return fmt.Errorf("failed to update student %s: %w", st.ID, err)
	}

	updated, err := s.Get(ctx, st.ID)
	if err != nil {
		return err
	}
	*st = *updated

	logging.WithFields(logging.Fields{"id": st.ID, "branch": st.Branch}).Info("Student updated")
	return nil
}

// Count returns the number of students and how many of them are enrolled.
func (s *StudentStore) Count(ctx context.Context) (total, enrolled int64, err error) {
	db := s.db.gorm.WithContext(ctx).Model(&Student{})
	if err := db.Count(&total).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to count students: %w", err)
	}
	if err := s.db.gorm.WithContext(ctx).Model(&Student{}).Where("face_enrolled = ?", true).Count(&enrolled).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to count enrolled students: %w", err)
	}
	return total, enrolled, nil
}

// SetEnrolled updates the face enrollment flag.
func (s *StudentStore) SetEnrolled(ctx context.Context, id string, enrolled bool) error {
	res := s.db.gorm.WithContext(ctx).Model(&Student{}).Where("id = ?", id).Update("face_enrolled", enrolled)
	if res.Error != nil {
		return fmt.Errorf("failed to update student %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStudentNotFound
	}
	return nil
}

// Delete removes the student and their attendance history.
func (s *StudentStore) Delete(ctx context.Context, id string) error {
	return s.db.gorm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("student_id = ?", id).Delete(&AttendanceEvent{}).Error; err != nil {
			return fmt.Errorf("failed to delete attendance for %s: %w", id, err)
		}
		res := tx.Where("id = ?", id).Delete(&Student{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete student %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrStudentNotFound
		}
		logging.WithField("id", id).Info("Student deleted")
		return nil
	})
}

// NormalizeName folds a name for comparison: no diacritics, lower case,
// dashes as spaces.
func NormalizeName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	folded = strings.ToLower(folded)
	return strings.ReplaceAll(folded, "-", " ")
}
