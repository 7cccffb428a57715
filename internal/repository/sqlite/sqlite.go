// Package sqlite is the local/dev repository backing store, selected by
// configuration when no Postgres DSN is set.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"school-attendance-bridge/internal/repository"

	_ "github.com/mattn/go-sqlite3"
)

// Store backs all four repository interfaces against a single SQLite
// database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path, applies
// WAL-mode pragmas and runs migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	s := &Store{db: db}
	if err := s.configurePragmas(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configurePragmas() error {
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = memory",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite: pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

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
	last_seen DATETIME,
	max_users INTEGER NOT NULL DEFAULT 0,
	enrolled_users INTEGER NOT NULL DEFAULT 0,
	group_name TEXT NOT NULL DEFAULT '',
	timezone TEXT NOT NULL DEFAULT '',
	is_deleted BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS enrollment_sessions (
	session_uuid TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	student_id TEXT NOT NULL,
	device_id TEXT NOT NULL,
	finger_index INTEGER NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	sealed_template BLOB,
	quality INTEGER,
	started_at DATETIME NOT NULL,
	completed_at DATETIME,
	is_deleted BOOLEAN NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_enrollment_student ON enrollment_sessions(tenant_id, student_id);
CREATE INDEX IF NOT EXISTS idx_enrollment_device ON enrollment_sessions(tenant_id, device_id);

CREATE TABLE IF NOT EXISTS attendance_records (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	device_id TEXT NOT NULL,
	student_id TEXT NOT NULL DEFAULT '',
	device_user_id TEXT NOT NULL,
	occurred_at DATETIME NOT NULL,
	event_type TEXT NOT NULL,
	is_deleted BOOLEAN NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_attendance_dedup ON attendance_records(tenant_id, device_id, device_user_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_attendance_student_time ON attendance_records(tenant_id, student_id, occurred_at);

CREATE TABLE IF NOT EXISTS students (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	is_deleted BOOLEAN NOT NULL DEFAULT 0
);
`

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// Devices returns the DeviceRepo view of this store.
func (s *Store) Devices() repository.DeviceRepo { return deviceRepo{s.db} }

// Enrollments returns the EnrollmentRepo view of this store.
func (s *Store) Enrollments() repository.EnrollmentRepo { return enrollmentRepo{s.db} }

// Attendance returns the AttendanceRepo view of this store.
func (s *Store) Attendance() repository.AttendanceRepo { return attendanceRepo{s.db} }

// Students returns the StudentResolver view of this store.
func (s *Store) Students() repository.StudentResolver { return studentResolver{s.db} }

// Repositories bundles all four views, matching repository.Repositories.
func (s *Store) Repositories() repository.Repositories {
	return repository.Repositories{
		Devices:     s.Devices(),
		Enrollments: s.Enrollments(),
		Attendance:  s.Attendance(),
		Students:    s.Students(),
	}
}
