package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

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

	placeholders := make([]string, 0, len(keys))
	args := []any{tenant, deviceID}
	for _, k := range keys {
		placeholders = append(placeholders, "(?, ?)")
		args = append(args, k.DeviceUserID, k.OccurredAt)
	}
	query := fmt.Sprintf(`
		SELECT device_user_id, occurred_at FROM attendance_records
		WHERE tenant_id = ? AND device_id = ? AND (device_user_id, occurred_at) IN (%s)`,
		strings.Join(placeholders, ", "))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: find existing attendance keys: %w", err)
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
		return fmt.Errorf("sqlite: begin bulk insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO attendance_records (id, tenant_id, device_id, student_id, device_user_id, occurred_at, event_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare bulk insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, rec.ID, rec.TenantID, rec.DeviceID, rec.StudentID,
			rec.DeviceUserID, rec.OccurredAt, string(rec.EventType)); err != nil {
			return fmt.Errorf("sqlite: bulk insert record: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit bulk insert: %w", err)
	}
	return nil
}

// LastRecordsForStudents implements classifier.HistoryStore with a
// single grouped query — never one query per student. Only records from
// the same calendar day as referenceTime (in referenceTime's own zone)
// participate, so yesterday's final IN never flips today's first tap.
func (r attendanceRepo) LastRecordsForStudents(tenant string, studentIDs []string, referenceTime time.Time) (map[string]classifier.Previous, error) {
	out := make(map[string]classifier.Previous)
	if len(studentIDs) == 0 {
		return out, nil
	}

	dayStart := startOfDay(referenceTime)
	placeholders := make([]string, len(studentIDs))
	args := make([]any, 0, len(studentIDs)+3)
	args = append(args, tenant, dayStart, referenceTime)
	for i, id := range studentIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		SELECT student_id, event_type, occurred_at FROM attendance_records a
		WHERE tenant_id = ? AND occurred_at >= ? AND occurred_at <= ? AND is_deleted = 0
		  AND student_id IN (%s)
		  AND occurred_at = (
		      SELECT MAX(b.occurred_at) FROM attendance_records b
		      WHERE b.tenant_id = a.tenant_id AND b.student_id = a.student_id
		        AND b.occurred_at >= ? AND b.occurred_at <= ? AND b.is_deleted = 0
		  )`, strings.Join(placeholders, ", "))
	args = append(args, dayStart, referenceTime)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: last records for students: %w", err)
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
		WHERE tenant_id = ? AND student_id = ? AND occurred_at <= ? AND is_deleted = 0
		ORDER BY occurred_at DESC LIMIT 1`, tenant, studentID, before)

	var p classifier.Previous
	err := row.Scan(&p.EventType, &p.OccurredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: last record for student: %w", err)
	}
	return &p, nil
}

// startOfDay truncates t to midnight in t's own location, then normalizes
// to UTC for comparison against stored timestamps.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location()).UTC()
}
