// Package ingestion turns one device's raw attendance logs into
// classified, tenant-scoped attendance records: guard, fetch, dedup
// (database then memory), sort, resolve, classify, persist, then a
// best-effort broadcast/cache-update tail after the committed
// transaction.
package ingestion

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"school-attendance-bridge/internal/broadcast"
	"school-attendance-bridge/internal/classifier"
	"school-attendance-bridge/internal/errs"
	"school-attendance-bridge/internal/repository"
	"school-attendance-bridge/internal/types"
)

// AttendanceFetcher is the narrow slice of a device session the pipeline
// consumes — just enough to fetch raw logs, so tests can fake a device
// without a socket.
type AttendanceFetcher interface {
	FetchAttendanceLogs(ctx context.Context) ([]types.RawAttendanceLog, error)
}

// Result summarizes one pipeline run. A device with no logs yields the
// zero value.
type Result struct {
	Inserted           int
	Skipped            int
	DuplicatesFiltered int
	Total              int
}

// EventRelay is the optional outbound webhook relay. Best-effort: its
// failure never affects the pipeline's own guarantees.
type EventRelay interface {
	Enqueue(tenant string, record types.AttendanceRecord) error
}

// Pipeline wires the repositories, broadcast hub, scan cache and optional
// event relay the eleven steps need.
type Pipeline struct {
	repos     repository.Repositories
	hub       *broadcast.Hub
	cache     *ProcessedScanCache
	relay     EventRelay
	defaultTZ string
	window    time.Duration
	log       *logrus.Entry
}

// New builds a Pipeline. relay may be nil if no outbound relay is
// configured; defaultTimezone is attached to raw device timestamps when a
// device carries no zone of its own.
func New(repos repository.Repositories, hub *broadcast.Hub, cache *ProcessedScanCache, relay EventRelay, defaultTimezone string, duplicateWindow time.Duration, log *logrus.Entry) *Pipeline {
	return &Pipeline{repos: repos, hub: hub, cache: cache, relay: relay, defaultTZ: defaultTimezone, window: duplicateWindow, log: log}
}

// Run executes the full pipeline for one device.
func (p *Pipeline) Run(ctx context.Context, device types.Device, fetcher AttendanceFetcher) (Result, error) {
	// Step 1: guard.
	if device.IsDeleted {
		return Result{}, fmt.Errorf("%w: device %s is deleted", errs.ErrDeviceNotFound, device.ID)
	}
	if device.Status != types.DeviceStatusOnline {
		return Result{}, fmt.Errorf("%w: device %s", errs.ErrDeviceOffline, device.ID)
	}

	// Step 2: fetch and attach timezone.
	raw, err := fetcher.FetchAttendanceLogs(ctx)
	if err != nil {
		return Result{}, errs.OperationalToDeviceOffline(err)
	}
	if len(raw) == 0 {
		return Result{}, nil
	}

	loc, err := deviceLocation(device, p.defaultTZ)
	if err != nil {
		return Result{}, fmt.Errorf("ingestion: resolve timezone: %w", err)
	}

	type pending struct {
		key        repository.AttendanceKey
		occurredAt time.Time
	}
	candidates := make([]pending, 0, len(raw))
	keys := make([]repository.AttendanceKey, 0, len(raw))
	for _, r := range raw {
		// The device reports a naive wall-clock time; reinterpret it in the
		// device's zone before normalizing to UTC.
		t := r.Timestamp
		occurredAt := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc).UTC()
		key := repository.AttendanceKey{DeviceUserID: r.UserIDString, OccurredAt: occurredAt}
		candidates = append(candidates, pending{key: key, occurredAt: occurredAt})
		keys = append(keys, key)
	}

	total := len(candidates)
	skipped := 0

	// Step 3: dedup against the database.
	existing, err := p.repos.Attendance.FindExistingKeys(ctx, device.TenantID, device.ID, keys)
	if err != nil {
		return Result{}, fmt.Errorf("ingestion: find existing keys: %w", err)
	}

	// Step 4: dedup against the in-memory cache.
	var remaining []pending
	for _, c := range candidates {
		if _, ok := existing[c.key]; ok {
			skipped++
			continue
		}
		if p.cache.Contains(device.ID, c.key) {
			skipped++
			continue
		}
		remaining = append(remaining, c)
	}

	if len(remaining) == 0 {
		return Result{Total: total, Skipped: skipped}, nil
	}

	// Step 5: sort ascending — classification order matters.
	sort.Slice(remaining, func(i, j int) bool {
		return remaining[i].occurredAt.Before(remaining[j].occurredAt)
	})

	// Step 6: resolve device_user_id -> student_id.
	distinctIDs := make(map[string]struct{})
	for _, c := range remaining {
		distinctIDs[c.key.DeviceUserID] = struct{}{}
	}
	candidateStudentIDs := make([]string, 0, len(distinctIDs))
	for id := range distinctIDs {
		if _, err := strconv.Atoi(id); err != nil {
			continue
		}
		candidateStudentIDs = append(candidateStudentIDs, id)
	}
	resolved, err := p.repos.Students.FindExisting(ctx, device.TenantID, candidateStudentIDs)
	if err != nil {
		return Result{}, fmt.Errorf("ingestion: resolve students: %w", err)
	}

	// Step 7: seed per-student history, bounded to the current day in the
	// device's zone — the reference time carries that zone so the store
	// can compute the day window.
	referenceTime := time.Now().In(loc)
	if len(remaining) > 0 {
		referenceTime = remaining[len(remaining)-1].occurredAt.In(loc)
	}
	studentIDs := make([]string, 0, len(resolved))
	for id := range resolved {
		studentIDs = append(studentIDs, id)
	}
	history, err := classifier.GetLastRecordsForStudents(p.repos.Attendance, device.TenantID, studentIDs, referenceTime)
	if err != nil {
		return Result{}, fmt.Errorf("ingestion: seed history: %w", err)
	}

	// Step 8: classify.
	results := make([]classifiedScan, 0, len(remaining))
	for _, c := range remaining {
		studentID := ""
		if _, ok := resolved[c.key.DeviceUserID]; ok {
			studentID = c.key.DeviceUserID
		}

		var eventType types.EventType
		if studentID == "" {
			eventType = types.EventUnknown
		} else {
			var prev *classifier.Previous
			if seeded, ok := history[studentID]; ok {
				prev = &seeded
			}
			eventType = classifier.Classify(prev, c.occurredAt, p.window)
			if eventType != types.EventDuplicate {
				history[studentID] = classifier.Previous{EventType: eventType, OccurredAt: c.occurredAt}
			}
		}

		results = append(results, classifiedScan{
			studentID: studentID,
			eventType: eventType,
			record: types.AttendanceRecord{
				ID:           uuid.NewString(),
				TenantID:     device.TenantID,
				DeviceID:     device.ID,
				StudentID:    studentID,
				DeviceUserID: c.key.DeviceUserID,
				OccurredAt:   c.occurredAt,
				EventType:    eventType,
			},
		})
	}

	// Step 9: persist non-duplicate records in one transaction.
	var toInsert []types.AttendanceRecord
	for _, r := range results {
		if r.eventType != types.EventDuplicate {
			toInsert = append(toInsert, r.record)
		}
	}
	if err := p.repos.Attendance.BulkInsert(ctx, toInsert); err != nil {
		return Result{}, fmt.Errorf("ingestion: bulk insert: %w", err)
	}

	duplicates := 0
	for _, r := range results {
		if r.eventType == types.EventDuplicate {
			duplicates++
		}
	}

	// Step 10: broadcast, best-effort.
	p.broadcastResults(device, results)

	// Step 11: cache update, best-effort.
	for _, c := range remaining {
		p.cache.Add(device.ID, c.key)
	}

	return Result{
		Inserted:           len(toInsert),
		Skipped:            skipped,
		DuplicatesFiltered: duplicates,
		Total:              total,
	}, nil
}

// classifiedScan is one new log after step 8's classification, carrying
// both the persistable record (for non-duplicates) and the resolved
// student id (possibly empty, for UNKNOWN).
type classifiedScan struct {
	studentID string
	record    types.AttendanceRecord
	eventType types.EventType
}

func (p *Pipeline) broadcastResults(device types.Device, results []classifiedScan) {
	entries := make([]broadcast.AttendanceEntry, 0, len(results))
	for _, r := range results {
		id := r.record.ID
		if r.eventType == types.EventDuplicate {
			id = uuid.NewString()
		}
		entries = append(entries, broadcast.AttendanceEntry{
			ID:         id,
			StudentID:  r.studentID,
			DeviceID:   device.ID,
			DeviceName: device.Name,
			EventType:  string(r.eventType),
			OccurredAt: r.record.OccurredAt,
		})

		if r.eventType != types.EventDuplicate && p.relay != nil {
			if err := p.relay.Enqueue(device.TenantID, r.record); err != nil {
				p.log.WithError(err).Warn("ingestion: outbound relay enqueue failed")
			}
		}
	}

	if p.hub != nil {
		p.hub.Publish(broadcast.ChannelAttendanceScans, device.TenantID, broadcast.AttendanceScanEvent{
			Type:      "attendance_events",
			Events:    entries,
			Count:     len(entries),
			Timestamp: time.Now().UTC(),
		})
	}
}

func deviceLocation(device types.Device, fallback string) (*time.Location, error) {
	zone := device.Timezone
	if zone == "" {
		zone = fallback
	}
	if zone == "" {
		zone = "UTC"
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", zone, err)
	}
	return loc, nil
}
