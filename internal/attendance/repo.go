package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository persists attendance data in Postgres. It implements Directory,
// SettingsStore and RecordStore over the schema documented in store.NewDB.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// dayOf truncates a timestamp to its calendar day for the marked_on column.
func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// StudentByID returns a student or nil when unknown.
func (r *Repository) StudentByID(ctx context.Context, id string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, full_name, class_id
		FROM students WHERE id = $1
	`, id)
	var st Student
	if err := row.Scan(&st.ID, &st.FullName, &st.ClassID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &st, nil
}

// StudentsByClass lists a class roster.
func (r *Repository) StudentsByClass(ctx context.Context, classID string) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, full_name, class_id
		FROM students
		WHERE class_id = $1
		ORDER BY full_name
	`, classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []Student
	for rows.Next() {
		var st Student
		if err := rows.Scan(&st.ID, &st.FullName, &st.ClassID); err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

// ClassByID returns a class or nil when unknown.
func (r *Repository) ClassByID(ctx context.Context, id string) (*Class, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, class_name, COALESCE(organization_id, '')
		FROM classes WHERE id = $1
	`, id)
	var cls Class
	if err := row.Scan(&cls.ID, &cls.Name, &cls.OrganizationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &cls, nil
}

// ClassIDs lists all class ids, for the sweep.
func (r *Repository) ClassIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM classes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SettingsByOrg returns an organization's settings row or nil when none is
// configured.
func (r *Repository) SettingsByOrg(ctx context.Context, orgID string) (*Settings, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT school_start_time, late_cutoff_time, auto_absent_time,
		       allow_late_arrivals, require_absence_excuse, multiple_checkins
		FROM attendance_settings WHERE organization_id = $1
	`, orgID)
	var cfg Settings
	if err := row.Scan(&cfg.SchoolStartTime, &cfg.LateCutoffTime, &cfg.AutoAbsentTime,
		&cfg.AllowLateArrivals, &cfg.RequireAbsenceExcuse, &cfg.MultipleCheckins); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &cfg, nil
}

// RecordForDay returns the record for a student/class on the day of the
// given timestamp, scoped to a check-in type when one is given.
func (r *Repository) RecordForDay(ctx context.Context, studentID, classID string, day time.Time, checkInType string) (*Record, error) {
	query := `
		SELECT id, student_id, class_id, status, confidence_score, check_in_type, marked_at
		FROM attendance
		WHERE student_id = $1 AND class_id = $2 AND marked_on = $3
	`
	args := []any{studentID, classID, dayOf(day)}
	if checkInType != "" {
		query += ` AND check_in_type = $4`
		args = append(args, checkInType)
	}
	query += ` LIMIT 1`

	row := r.db.QueryRowContext(ctx, query, args...)
	var rec Record
	if err := row.Scan(&rec.ID, &rec.StudentID, &rec.ClassID, &rec.Status,
		&rec.Confidence, &rec.CheckInType, &rec.MarkedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Insert writes a new record. The unique index on
// (student_id, class_id, check_in_type, marked_on) is the backstop against
// concurrent check-ins: a conflicting insert returns nil, nil.
func (r *Repository) Insert(ctx context.Context, rec Record) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance (id, student_id, class_id, status, confidence_score, check_in_type, marked_at, marked_on)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (student_id, class_id, check_in_type, marked_on) DO NOTHING
		RETURNING id
	`, rec.ID, rec.StudentID, rec.ClassID, rec.Status, rec.Confidence, rec.CheckInType, rec.MarkedAt, dayOf(rec.MarkedAt))
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.ID = id
	return &rec, nil
}

// Update rewrites a record's mutable fields after an absent-to-present (or
// absent-to-late) transition.
func (r *Repository) Update(ctx context.Context, rec Record) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE attendance
		SET status = $2, confidence_score = $3, check_in_type = $4, marked_at = $5, marked_on = $6
		WHERE id = $1
	`, rec.ID, rec.Status, rec.Confidence, rec.CheckInType, rec.MarkedAt, dayOf(rec.MarkedAt))
	return err
}

// OnDay lists records for a calendar day, optionally restricted to classes.
func (r *Repository) OnDay(ctx context.Context, day time.Time, classIDs []string) ([]Record, error) {
	query := `
		SELECT id, student_id, class_id, status, confidence_score, check_in_type, marked_at
		FROM attendance
		WHERE marked_on = $1
	`
	args := []any{dayOf(day)}
	if len(classIDs) > 0 {
		query += ` AND class_id = ANY($2)`
		args = append(args, classIDs)
	}
	query += ` ORDER BY marked_at`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.ClassID, &rec.Status,
			&rec.Confidence, &rec.CheckInType, &rec.MarkedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
