package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"school-attendance-bridge/internal/types"
)

type enrollmentRepo struct {
	db *sql.DB
}

func (r enrollmentRepo) Create(ctx context.Context, session types.EnrollmentSession) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO enrollment_sessions
			(session_uuid, tenant_id, student_id, device_id, finger_index, status, error, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.SessionUUID, session.TenantID, session.StudentID, session.DeviceID,
		session.FingerIndex, string(session.Status), session.Error, session.StartedAt)
	if err != nil {
		return fmt.Errorf("sqlite: create enrollment: %w", err)
	}
	return nil
}

func (r enrollmentRepo) GetByID(ctx context.Context, id, tenant string) (*types.EnrollmentSession, error) {
	return r.getWhere(ctx, "session_uuid = ? AND tenant_id = ?", id, tenant)
}

func (r enrollmentRepo) GetByUUID(ctx context.Context, sessionUUID string) (*types.EnrollmentSession, error) {
	return r.getWhere(ctx, "session_uuid = ?", sessionUUID)
}

func (r enrollmentRepo) getWhere(ctx context.Context, where string, args ...any) (*types.EnrollmentSession, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT session_uuid, tenant_id, student_id, device_id, finger_index, status,
		       error, sealed_template, quality, started_at, completed_at
		FROM enrollment_sessions WHERE is_deleted = 0 AND `+where, args...)

	var s types.EnrollmentSession
	var sealedTemplate []byte
	var quality sql.NullInt64
	var completedAt sql.NullTime
	err := row.Scan(&s.SessionUUID, &s.TenantID, &s.StudentID, &s.DeviceID, &s.FingerIndex,
		&s.Status, &s.Error, &sealedTemplate, &quality, &s.StartedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get enrollment: %w", err)
	}
	s.SealedTemplate = sealedTemplate
	if quality.Valid {
		q := int(quality.Int64)
		s.Quality = &q
	}
	if completedAt.Valid {
		s.CompletedAt = &completedAt.Time
	}
	return &s, nil
}

func (r enrollmentRepo) UpdateStatus(ctx context.Context, sessionUUID string, status types.EnrollmentStatus, errMsg string, completedAt *time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE enrollment_sessions SET status = ?, error = ?, completed_at = ?
		WHERE session_uuid = ?`, string(status), errMsg, completedAt, sessionUUID)
	if err != nil {
		return fmt.Errorf("sqlite: update enrollment status: %w", err)
	}
	return nil
}

// Update sets an arbitrary subset of columns, used for e.g. persisting the
// sealed template and quality score once verification succeeds. Only a
// fixed allowlist of fields may be set this way.
func (r enrollmentRepo) Update(ctx context.Context, sessionUUID string, fields map[string]any) error {
	allowed := map[string]string{
		"sealed_template": "sealed_template",
		"quality":         "quality",
	}
	var sets []string
	var args []any
	for k, v := range fields {
		col, ok := allowed[k]
		if !ok {
			return fmt.Errorf("sqlite: update enrollment: field %q not updatable", k)
		}
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, sessionUUID)
	query := fmt.Sprintf("UPDATE enrollment_sessions SET %s WHERE session_uuid = ?", strings.Join(sets, ", "))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("sqlite: update enrollment fields: %w", err)
	}
	return nil
}

func (r enrollmentRepo) LatestCompletedByStudent(ctx context.Context, tenant, studentID string) (*types.EnrollmentSession, error) {
	return r.getWhere(ctx, "tenant_id = ? AND student_id = ? AND status = 'COMPLETED' ORDER BY completed_at DESC LIMIT 1", tenant, studentID)
}

func (r enrollmentRepo) LatestCompletedByDevice(ctx context.Context, tenant, deviceID string) (*types.EnrollmentSession, error) {
	return r.getWhere(ctx, "tenant_id = ? AND device_id = ? AND status = 'COMPLETED' ORDER BY completed_at DESC LIMIT 1", tenant, deviceID)
}

func (r enrollmentRepo) EnrolledFingerIndices(ctx context.Context, tenant, studentID, deviceID string) ([]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT finger_index FROM enrollment_sessions
		WHERE tenant_id = ? AND student_id = ? AND device_id = ? AND status = 'COMPLETED' AND is_deleted = 0`,
		tenant, studentID, deviceID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: enrolled finger indices: %w", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	return out, rows.Err()
}
