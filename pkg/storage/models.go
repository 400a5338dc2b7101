package storage

import "time"

// StatusPresent is the status written for recognized students.
const StatusPresent = "PRESENT"

// Student is an enrollable person. ID doubles as the dataset identity key.
type Student struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Name         string    `gorm:"size:120;not null" json:"name"`
	AdmissionNo  string    `gorm:"size:50;not null;uniqueIndex" json:"admission_no"`
	Email        string    `gorm:"size:120;not null;uniqueIndex" json:"email"`
	Phone        string    `gorm:"size:30" json:"phone,omitempty"`
	Branch       string    `gorm:"size:50;index" json:"branch"`
	Semester     int       `json:"semester,omitempty"`
	FaceEnrolled bool      `gorm:"not null;default:false" json:"face_enrolled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AttendanceEvent records that a student was present in a session. At most
// one row exists per (student, session, date).
type AttendanceEvent struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	StudentID string    `gorm:"size:36;not null;uniqueIndex:idx_attendance_once,priority:1" json:"student_id"`
	Session   string    `gorm:"size:16;not null;uniqueIndex:idx_attendance_once,priority:2" json:"session"`
	Date      string    `gorm:"size:10;not null;uniqueIndex:idx_attendance_once,priority:3" json:"date"`
	Timestamp time.Time `gorm:"not null;index" json:"timestamp"`
	Status    string    `gorm:"size:16;not null" json:"status"`
}

// TableName pins the table name across dialects.
func (AttendanceEvent) TableName() string {
	return "attendance_events"
}

// AttendanceRecord is an event joined with its student.
type AttendanceRecord struct {
	ID          string    `json:"id"`
	StudentID   string    `json:"student_id"`
	Name        string    `json:"name"`
	AdmissionNo string    `json:"admission_no"`
	Branch      string    `json:"branch"`
	Session     string    `json:"session"`
	Date        string    `json:"date"`
	Timestamp   time.Time `json:"timestamp"`
	Status      string    `json:"status"`
}
