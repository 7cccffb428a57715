package ingestion

import (
	"sort"
	"sync"

	"school-attendance-bridge/internal/repository"
)

// ProcessedScanCache is the per-device in-memory dedup layer sitting in
// front of the database lookup. Bounded: once it exceeds its cap, the
// oldest half (by timestamp) is dropped.
type ProcessedScanCache struct {
	mu      sync.Mutex
	entries map[string]map[repository.AttendanceKey]struct{}
	maxCap  int
}

// NewProcessedScanCache builds an empty cache with the configured
// per-device cap.
func NewProcessedScanCache(maxCap int) *ProcessedScanCache {
	return &ProcessedScanCache{
		entries: make(map[string]map[repository.AttendanceKey]struct{}),
		maxCap:  maxCap,
	}
}

// Contains reports whether key has already been processed for deviceID.
func (c *ProcessedScanCache) Contains(deviceID string, key repository.AttendanceKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.entries[deviceID]
	if !ok {
		return false
	}
	_, found := set[key]
	return found
}

// Add inserts key into deviceID's cache, trimming to the newest half by
// timestamp if the cap is exceeded.
func (c *ProcessedScanCache) Add(deviceID string, key repository.AttendanceKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.entries[deviceID]
	if !ok {
		set = make(map[repository.AttendanceKey]struct{})
		c.entries[deviceID] = set
	}
	set[key] = struct{}{}

	if len(set) <= c.maxCap {
		return
	}
	c.trimToNewestHalf(deviceID, set)
}

func (c *ProcessedScanCache) trimToNewestHalf(deviceID string, set map[repository.AttendanceKey]struct{}) {
	keys := make([]repository.AttendanceKey, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].OccurredAt.Before(keys[j].OccurredAt)
	})

	keep := keys[len(keys)/2:]
	trimmed := make(map[repository.AttendanceKey]struct{}, len(keep))
	for _, k := range keep {
		trimmed[k] = struct{}{}
	}
	c.entries[deviceID] = trimmed
}

// Size reports the current number of cached keys for a device, for tests
// and observability.
func (c *ProcessedScanCache) Size(deviceID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries[deviceID])
}
