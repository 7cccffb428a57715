package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

type studentResolver struct {
	db *sql.DB
}

func (r studentResolver) FindExisting(ctx context.Context, tenant string, ids []string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM students WHERE tenant_id = $1 AND is_deleted = FALSE AND id = ANY($2)`,
		tenant, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("postgres: find existing students: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}
