// Package classifier decides whether a tap is an entry, an exit or a
// duplicate: a pure per-student state function mapping a previous tap plus
// the current one onto {IN, OUT, DUPLICATE}, and the batched history
// lookup the ingestion pipeline seeds its per-round cache from.
package classifier

import (
	"time"

	"school-attendance-bridge/internal/types"
)

// DefaultDuplicateWindow is used when the configured window is zero.
const DefaultDuplicateWindow = 5 * time.Minute

// Previous is the last known (event_type, occurred_at) for a student, as
// seeded by the pipeline's history lookup or updated in-flight during
// classification of a batch.
type Previous struct {
	EventType  types.EventType
	OccurredAt time.Time
}

// Classify maps a student's previous tap plus the current one onto an
// event type:
//   - no previous tap -> IN
//   - gap < window -> DUPLICATE
//   - previous IN, gap >= window -> OUT
//   - previous OUT, gap >= window -> IN
//   - previous UNKNOWN -> IN (non-directional)
func Classify(previous *Previous, now time.Time, window time.Duration) types.EventType {
	if window <= 0 {
		window = DefaultDuplicateWindow
	}
	if previous == nil {
		return types.EventIN
	}
	gap := now.Sub(previous.OccurredAt)
	if gap < window {
		return types.EventDuplicate
	}
	switch previous.EventType {
	case types.EventIN:
		return types.EventOUT
	case types.EventOUT:
		return types.EventIN
	default:
		return types.EventIN
	}
}

// HistoryStore is the narrow persistence seam the pipeline's batched
// lookup needs; a repository implements it with one grouped query.
type HistoryStore interface {
	LastRecordsForStudents(tenant string, studentIDs []string, referenceTime time.Time) (map[string]Previous, error)
}

// GetLastRecordsForStudents seeds classification history in one grouped
// query for every student in the set, never a per-student round trip.
// Thin wrapper so callers depend on this package's contract instead of
// the repository's directly.
func GetLastRecordsForStudents(store HistoryStore, tenant string, studentIDs []string, referenceTime time.Time) (map[string]Previous, error) {
	if len(studentIDs) == 0 {
		return map[string]Previous{}, nil
	}
	return store.LastRecordsForStudents(tenant, studentIDs, referenceTime)
}

// SingleRecordStore backs the ad-hoc, non-batched lookup Determine uses.
type SingleRecordStore interface {
	LastRecordForStudent(tenant, studentID string, before time.Time) (*Previous, error)
}

// Determine classifies one student's tap by querying for just that
// student's most recent record, rather than going through the batched
// per-round path. Not on the ingestion hot path — for manual/ad-hoc
// reclassification tooling only.
func Determine(store SingleRecordStore, tenant, studentID string, occurredAt time.Time, window time.Duration) (types.EventType, error) {
	previous, err := store.LastRecordForStudent(tenant, studentID, occurredAt)
	if err != nil {
		return "", err
	}
	return Classify(previous, occurredAt, window), nil
}
