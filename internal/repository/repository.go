// Package repository defines the typed, tenant-scoped persistence
// boundaries for devices, enrollments, attendance records and student
// resolution. Concrete backends live in the postgres and sqlite
// subpackages; callers depend only on these interfaces.
package repository

import (
	"context"
	"time"

	"school-attendance-bridge/internal/classifier"
	"school-attendance-bridge/internal/types"
)

// DeviceRepo is the tenant-scoped persistence boundary for devices.
type DeviceRepo interface {
	ListActive(ctx context.Context) ([]types.Device, error)
	Get(ctx context.Context, id, tenant string) (*types.Device, error)
	UpdateStatus(ctx context.Context, id string, status types.DeviceStatus, lastSeen *time.Time) error
	UpdateCapacity(ctx context.Context, id string, maxUsers, enrolledUsers int) error
}

// EnrollmentRepo is the tenant-scoped persistence boundary for
// enrollment sessions.
type EnrollmentRepo interface {
	Create(ctx context.Context, session types.EnrollmentSession) error
	GetByID(ctx context.Context, id, tenant string) (*types.EnrollmentSession, error)
	GetByUUID(ctx context.Context, sessionUUID string) (*types.EnrollmentSession, error)
	UpdateStatus(ctx context.Context, sessionUUID string, status types.EnrollmentStatus, errMsg string, completedAt *time.Time) error
	Update(ctx context.Context, sessionUUID string, fields map[string]any) error
	LatestCompletedByStudent(ctx context.Context, tenant, studentID string) (*types.EnrollmentSession, error)
	LatestCompletedByDevice(ctx context.Context, tenant, deviceID string) (*types.EnrollmentSession, error)
	EnrolledFingerIndices(ctx context.Context, tenant, studentID, deviceID string) ([]int, error)
}

// AttendanceKey identifies one raw device punch for dedup purposes.
type AttendanceKey struct {
	DeviceUserID string
	OccurredAt   time.Time
}

// AttendanceRepo is the tenant-scoped persistence boundary for attendance
// records.
type AttendanceRepo interface {
	FindExistingKeys(ctx context.Context, tenant, deviceID string, keys []AttendanceKey) (map[AttendanceKey]struct{}, error)
	BulkInsert(ctx context.Context, records []types.AttendanceRecord) error
	// LastRecordsForStudents and LastRecordForStudent implement the
	// classifier.HistoryStore / classifier.SingleRecordStore seams with
	// a single grouped query and a single-student query respectively.
	LastRecordsForStudents(tenant string, studentIDs []string, referenceTime time.Time) (map[string]classifier.Previous, error)
	LastRecordForStudent(tenant, studentID string, before time.Time) (*classifier.Previous, error)
}

// StudentResolver is the tenant-scoped persistence boundary for
// resolving device user ids to enrolled students.
type StudentResolver interface {
	FindExisting(ctx context.Context, tenant string, ids []string) (map[string]struct{}, error)
}

// Repositories bundles the four boundaries a runtime needs to wire the
// control loops and ingestion pipeline. Constructed once at startup from
// whichever backend the configuration selects.
type Repositories struct {
	Devices     DeviceRepo
	Enrollments EnrollmentRepo
	Attendance  AttendanceRepo
	Students    StudentResolver
}
