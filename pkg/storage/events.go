package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// ErrEventNotFound is returned when deleting an unknown attendance event.
var ErrEventNotFound = errors.New("attendance event not found")

// EventStore reads and writes attendance events.
type EventStore struct {
	db *DB
}

// Events returns the attendance event store.
func (d *DB) Events() *EventStore {
	return &EventStore{db: d}
}

// Exists reports whether studentID already has an event for session with a
// timestamp in [from, to).
func (e *EventStore) Exists(ctx context.Context, studentID, session string, from, to time.Time) (bool, error) {
	query, args, err := e.db.sb.Select("COUNT(1)").
		From("attendance_events").
		Where(sq.Eq{"student_id": studentID, "session": session}).
		Where(sq.GtOrEq{"timestamp": from.UTC()}).
		Where(sq.Lt{"timestamp": to.UTC()}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build SQL for Exists: %w", err)
	}

	var n int64
	if err := e.db.sql.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check attendance for %s: %w", studentID, err)
	}
	return n > 0, nil
}

// Record inserts ev unless an event for the same student, session and date
// exists. It reports whether a row was written. Concurrent callers race on
// the unique index, so exactly one of them sees true.
func (e *EventStore) Record(ctx context.Context, ev *AttendanceEvent) (bool, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Status == "" {
		ev.Status = StatusPresent
	}
	ev.Timestamp = ev.Timestamp.UTC()

	insert := e.db.sb.Insert("attendance_events").
		Columns("id", "student_id", "session", "date", "timestamp", "status").
		Values(ev.ID, ev.StudentID, ev.Session, ev.Date, ev.Timestamp, ev.Status)

	switch e.db.driver {
	case DriverMySQL:
		insert = insert.Options("IGNORE")
	default:
		insert = insert.Suffix("ON CONFLICT DO NOTHING")
	}

	query, args, err := insert.ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build SQL for Record: %w", err)
	}
	res, err := e.db.sql.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to record attendance for %s: %w", ev.StudentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// Recent returns the newest events joined with their students, newest
// first. Branch matches case-insensitively as a substring.
func (e *EventStore) Recent(ctx context.Context, limit int, branch string) ([]AttendanceRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	q := e.db.sb.Select(
		"e.id", "e.student_id", "s.name", "s.admission_no", "s.branch",
		"e.session", "e.date", "e.timestamp", "e.status",
	).
		From("attendance_events e").
		Join("students s ON s.id = e.student_id").
		OrderBy("e.timestamp DESC").
		Limit(uint64(limit))
	if branch != "" {
		q = q.Where(sq.Like{"LOWER(s.branch)": "%" + strings.ToLower(branch) + "%"})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL for Recent: %w", err)
	}
	rows, err := e.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := []AttendanceRecord{}
	for rows.Next() {
		var r AttendanceRecord
		if err := rows.Scan(&r.ID, &r.StudentID, &r.Name, &r.AdmissionNo, &r.Branch,
			&r.Session, &r.Date, &r.Timestamp, &r.Status); err != nil {
			return nil, fmt.Errorf("failed to scan attendance row: %w", err)
		}
		r.Timestamp = r.Timestamp.UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read attendance rows: %w", err)
	}
	return records, nil
}

// Delete removes one attendance event.
func (e *EventStore) Delete(ctx context.Context, id string) error {
	query, args, err := e.db.sb.Delete("attendance_events").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build SQL for Delete: %w", err)
	}
	res, err := e.db.sql.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete attendance %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrEventNotFound
	}
	return nil
}

// Count returns the number of events on a civil date.
func (e *EventStore) Count(ctx context.Context, date string) (int64, error) {
	query, args, err := e.db.sb.Select("COUNT(1)").From("attendance_events").
		Where(sq.Eq{"date": date}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build SQL for Count: %w", err)
	}
	var n int64
	if err := e.db.sql.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count attendance: %w", err)
	}
	return n, nil
}
