package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"school-attendance-bridge/internal/classifier"
	"school-attendance-bridge/internal/repository"
	"school-attendance-bridge/internal/types"
)

type attendanceRepo struct {
	db *sql.DB
}

func (r attendanceRepo) FindExistingKeys(ctx context.Context, tenant, deviceID string, keys []repository.AttendanceKey) (map[repository.AttendanceKey]struct{}, error) {
	existing := make(map[repository.AttendanceKey]struct{})
	if len(keys) == 0 {
		return existing, nil
	}

	userIDs := make([]string, len(keys))
	occurredAts := make([]time.Time, len(keys))
	for i, k := range keys {
		userIDs[i] = k.DeviceUserID
		occurredAts[i] = k.OccurredAt
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT device_user_id, occurred_at FROM attendance_records
		WHERE tenant_id = $1 AND device_id = $2
		  AND (device_user_id, occurred_at) IN (
		      SELECT * FROM unnest($3::text[], $4::timestamptz[])
		  )`, tenant, deviceID, pq.Array(userIDs), pq.Array(occurredAts))
	if err != nil {
		return nil, fmt.Errorf("postgres: find existing attendance keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k repository.AttendanceKey
		if err := rows.Scan(&k.DeviceUserID, &k.OccurredAt); err != nil {
			return nil, err
		}
		existing[k] = struct{}{}
	}
	return existing, rows.Err()
}

func (r attendanceRepo) BulkInsert(ctx context.Context, records []types.AttendanceRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin bulk insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("attendance_records",
		"id", "tenant_id", "device_id", "student_id", "device_user_id", "occurred_at", "event_type"))
	if err != nil {
		return fmt.Errorf("postgres: prepare bulk insert: %w", err)
	}

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, rec.ID, rec.TenantID, rec.DeviceID, rec.StudentID,
			rec.DeviceUserID, rec.OccurredAt, string(rec.EventType)); err != nil {
			stmt.Close()
			return fmt.Errorf("postgres: bulk insert record: %w", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("postgres: flush bulk insert: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("postgres: close bulk insert statement: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit bulk insert: %w", err)
	}
	return nil
}

// LastRecordsForStudents implements classifier.HistoryStore with a
// single grouped query. Only records from the same calendar day as
// referenceTime (in referenceTime's own zone) participate, so yesterday's
// final IN never flips today's first tap.
func (r attendanceRepo) LastRecordsForStudents(tenant string, studentIDs []string, referenceTime time.Time) (map[string]classifier.Previous, error) {
	out := make(map[string]classifier.Previous)
	if len(studentIDs) == 0 {
		return out, nil
	}

	dayStart := startOfDay(referenceTime)
	rows, err := r.db.Query(`
		SELECT DISTINCT ON (student_id) student_id, event_type, occurred_at
		FROM attendance_records
		WHERE tenant_id = $1 AND student_id = ANY($2) AND occurred_at >= $3 AND occurred_at <= $4 AND is_deleted = FALSE
		ORDER BY student_id, occurred_at DESC`, tenant, pq.Array(studentIDs), dayStart, referenceTime)
	if err != nil {
		return nil, fmt.Errorf("postgres: last records for students: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var studentID string
		var p classifier.Previous
		if err := rows.Scan(&studentID, &p.EventType, &p.OccurredAt); err != nil {
			return nil, err
		}
		out[studentID] = p
	}
	return out, rows.Err()
}

func (r attendanceRepo) LastRecordForStudent(tenant, studentID string, before time.Time) (*classifier.Previous, error) {
	row := r.db.QueryRow(`
		SELECT event_type, occurred_at FROM attendance_records
		WHERE tenant_id = $1 AND student_id = $2 AND occurred_at <= $3 AND is_deleted = FALSE
		ORDER BY occurred_at DESC LIMIT 1`, tenant, studentID, before)

	var p classifier.Previous
	err := row.Scan(&p.EventType, &p.OccurredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: last record for student: %w", err)
	}
	return &p, nil
}

// startOfDay truncates t to midnight in t's own location, then normalizes
// to UTC for comparison against stored timestamps.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location()).UTC()
}
