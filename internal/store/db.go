package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
//
// Schema management lives outside this service. The repositories expect:
//
//	students(id, full_name, class_id, ...)
//	classes(id, class_name, organization_id, ...)
//	attendance_settings(organization_id UNIQUE, school_start_time,
//	    late_cutoff_time, auto_absent_time, allow_late_arrivals,
//	    require_absence_excuse, multiple_checkins)
//	attendance(id, student_id, class_id, status, confidence_score,
//	    check_in_type, marked_at, marked_on,
//	    UNIQUE (student_id, class_id, check_in_type, marked_on))
//	face_embeddings(id, student_id UNIQUE, embedding vector, created_at,
//	    updated_at)
//
// The attendance unique index is load-bearing: it serializes concurrent
// check-ins and sweep inserts for the same day key.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection with sane defaults.
func NewDB(connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &DB{Client: db}, db.PingContext(context.Background())
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
