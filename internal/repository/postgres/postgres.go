// Package postgres is the primary repository backing store.
package postgres

import (
	"database/sql"
	"fmt"
	"time"

	"school-attendance-bridge/internal/repository"

	_ "github.com/lib/pq"
)

// Store backs all four repository interfaces against a Postgres database.
type Store struct {
	db *sql.DB
}

// Open connects to the given Postgres DSN, configures the connection
// pool and runs migrations.
func Open(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Health() error { return s.db.Ping() }

const schema = `
CREATE TABLE IF NOT EXISTS devices (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	name TEXT NOT NULL,
	host TEXT NOT NULL,
	port INTEGER NOT NULL,
	comm_password TEXT NOT NULL DEFAULT '',
	serial TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'UNKNOWN',
	last_seen TIMESTAMPTZ,
	max_users INTEGER NOT NULL DEFAULT 0,
	enrolled_users INTEGER NOT NULL DEFAULT 0,
	group_name TEXT NOT NULL DEFAULT '',
	timezone TEXT NOT NULL DEFAULT '',
	is_deleted BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS enrollment_sessions (
	session_uuid TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	student_id TEXT NOT NULL,
	device_id TEXT NOT NULL,
	finger_index INTEGER NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	sealed_template BYTEA,
	quality INTEGER,
	started_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	is_deleted BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_enrollment_student ON enrollment_sessions(tenant_id, student_id);
CREATE INDEX IF NOT EXISTS idx_enrollment_device ON enrollment_sessions(tenant_id, device_id);

CREATE TABLE IF NOT EXISTS attendance_records (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	device_id TEXT NOT NULL,
	student_id TEXT NOT NULL DEFAULT '',
	device_user_id TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	event_type TEXT NOT NULL,
	is_deleted BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_attendance_dedup ON attendance_records(tenant_id, device_id, device_user_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_attendance_student_time ON attendance_records(tenant_id, student_id, occurred_at);

CREATE TABLE IF NOT EXISTS students (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	is_deleted BOOLEAN NOT NULL DEFAULT FALSE
);
`

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func (s *Store) Devices() repository.DeviceRepo         { return deviceRepo{s.db} }
func (s *Store) Enrollments() repository.EnrollmentRepo { return enrollmentRepo{s.db} }
func (s *Store) Attendance() repository.AttendanceRepo   { return attendanceRepo{s.db} }
func (s *Store) Students() repository.StudentResolver    { return studentResolver{s.db} }

// Repositories bundles all four views, matching repository.Repositories.
func (s *Store) Repositories() repository.Repositories {
	return repository.Repositories{
		Devices:     s.Devices(),
		Enrollments: s.Enrollments(),
		Attendance:  s.Attendance(),
		Students:    s.Students(),
	}
}
