package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"school-attendance-bridge/internal/repository"
	"school-attendance-bridge/internal/types"

	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()

	s, err := Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDeviceRepoListActiveExcludesSoftDeleted(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx, `INSERT INTO devices (id, tenant_id, name, host, port) VALUES ('d1', 't1', 'Gate', '10.0.0.1', 4370)`)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, `INSERT INTO devices (id, tenant_id, name, host, port, is_deleted) VALUES ('d2', 't1', 'Gone', '10.0.0.2', 4370, 1)`)
	require.NoError(t, err)

	devices, err := s.Devices().ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.Equal(t, "d1", devices[0].ID)
}

func TestDeviceRepoUpdateStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx, `INSERT INTO devices (id, tenant_id, name, host, port) VALUES ('d1', 't1', 'Gate', '10.0.0.1', 4370)`)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.Devices().UpdateStatus(ctx, "d1", types.DeviceStatusOnline, &now))

	d, err := s.Devices().Get(ctx, "d1", "t1")
	require.NoError(t, err)
	require.NotNil(t, d)
	require.Equal(t, types.DeviceStatusOnline, d.Status)
	require.WithinDuration(t, now, *d.LastSeen, time.Second)
}

func TestEnrollmentRepoCreateAndLatestCompleted(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	session := types.EnrollmentSession{
		SessionUUID: "sess-1", TenantID: "t1", StudentID: "stu-1", DeviceID: "d1",
		FingerIndex: 1, Status: types.EnrollmentInProgress, StartedAt: time.Now().UTC(),
	}
	require.NoError(t, s.Enrollments().Create(ctx, session))

	completedAt := time.Now().UTC()
	require.NoError(t, s.Enrollments().UpdateStatus(ctx, "sess-1", types.EnrollmentCompleted, "", &completedAt))

	latest, err := s.Enrollments().LatestCompletedByStudent(ctx, "t1", "stu-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, types.EnrollmentCompleted, latest.Status)

	indices, err := s.Enrollments().EnrolledFingerIndices(ctx, "t1", "stu-1", "d1")
	require.NoError(t, err)
	require.Equal(t, []int{1}, indices)
}

func TestAttendanceRepoFindExistingKeysAndBulkInsert(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ts := time.Now().UTC().Truncate(time.Second)
	records := []types.AttendanceRecord{
		{ID: "a1", TenantID: "t1", DeviceID: "d1", StudentID: "stu-1", DeviceUserID: "1", OccurredAt: ts, EventType: types.EventIN},
	}
	require.NoError(t, s.Attendance().BulkInsert(ctx, records))

	keys := []repository.AttendanceKey{{DeviceUserID: "1", OccurredAt: ts}, {DeviceUserID: "2", OccurredAt: ts}}
	existing, err := s.Attendance().FindExistingKeys(ctx, "t1", "d1", keys)
	require.NoError(t, err)
	require.Len(t, existing, 1)
	_, ok := existing[repository.AttendanceKey{DeviceUserID: "1", OccurredAt: ts}]
	require.True(t, ok)
}

func TestAttendanceRepoLastRecordsForStudentsBatched(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	older := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	yesterday := time.Date(2026, 3, 9, 17, 0, 0, 0, time.UTC)
	records := []types.AttendanceRecord{
		{ID: "a0", TenantID: "t1", DeviceID: "d1", StudentID: "stu-1", DeviceUserID: "1", OccurredAt: yesterday, EventType: types.EventIN},
		{ID: "a1", TenantID: "t1", DeviceID: "d1", StudentID: "stu-1", DeviceUserID: "1", OccurredAt: older, EventType: types.EventIN},
		{ID: "a2", TenantID: "t1", DeviceID: "d1", StudentID: "stu-1", DeviceUserID: "1", OccurredAt: newer, EventType: types.EventOUT},
		{ID: "a3", TenantID: "t1", DeviceID: "d1", StudentID: "stu-2", DeviceUserID: "2", OccurredAt: yesterday, EventType: types.EventIN},
	}
	require.NoError(t, s.Attendance().BulkInsert(ctx, records))

	reference := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	result, err := s.Attendance().LastRecordsForStudents("t1", []string{"stu-1", "stu-2"}, reference)
	require.NoError(t, err)
	require.Contains(t, result, "stu-1")
	require.Equal(t, types.EventOUT, result["stu-1"].EventType)

	// stu-2's only record is from the previous day, outside the seed window.
	require.NotContains(t, result, "stu-2")
}

func TestStudentResolverFindExisting(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx, `INSERT INTO students (id, tenant_id) VALUES ('stu-1', 't1')`)
	require.NoError(t, err)

	found, err := s.Students().FindExisting(ctx, "t1", []string{"stu-1", "stu-2"})
	require.NoError(t, err)
	require.Contains(t, found, "stu-1")
	require.NotContains(t, found, "stu-2")
}
