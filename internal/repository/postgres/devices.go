package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"school-attendance-bridge/internal/types"
)

type deviceRepo struct {
	db *sql.DB
}

func (r deviceRepo) ListActive(ctx context.Context) ([]types.Device, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, host, port, comm_password, serial, status,
		       last_seen, max_users, enrolled_users, group_name, timezone
		FROM devices WHERE is_deleted = FALSE`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active devices: %w", err)
	}
	defer rows.Close()

	var out []types.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r deviceRepo) Get(ctx context.Context, id, tenant string) (*types.Device, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, host, port, comm_password, serial, status,
		       last_seen, max_users, enrolled_users, group_name, timezone
		FROM devices WHERE id = $1 AND tenant_id = $2 AND is_deleted = FALSE`, id, tenant)
	d, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get device: %w", err)
	}
	return &d, nil
}

func (r deviceRepo) UpdateStatus(ctx context.Context, id string, status types.DeviceStatus, lastSeen *time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE devices SET status = $1, last_seen = $2 WHERE id = $3`, string(status), lastSeen, id)
	if err != nil {
		return fmt.Errorf("postgres: update device status: %w", err)
	}
	return nil
}

func (r deviceRepo) UpdateCapacity(ctx context.Context, id string, maxUsers, enrolledUsers int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE devices SET max_users = $1, enrolled_users = $2 WHERE id = $3`, maxUsers, enrolledUsers, id)
	if err != nil {
		return fmt.Errorf("postgres: update device capacity: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (types.Device, error) {
	var d types.Device
	var lastSeen sql.NullTime
	err := row.Scan(&d.ID, &d.TenantID, &d.Name, &d.Host, &d.Port, &d.CommPassword,
		&d.Serial, &d.Status, &lastSeen, &d.MaxUsers, &d.EnrolledUsers, &d.Group, &d.Timezone)
	if err != nil {
		return types.Device{}, err
	}
	if lastSeen.Valid {
		d.LastSeen = &lastSeen.Time
	}
	return d, nil
}
