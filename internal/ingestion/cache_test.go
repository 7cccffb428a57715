package ingestion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"school-attendance-bridge/internal/repository"
)

func TestProcessedScanCacheContainsAfterAdd(t *testing.T) {
	c := NewProcessedScanCache(10)
	key := repository.AttendanceKey{DeviceUserID: "1", OccurredAt: time.Now()}
	assert.False(t, c.Contains("d1", key))
	c.Add("d1", key)
	assert.True(t, c.Contains("d1", key))
}

func TestProcessedScanCacheTrimsToNewestHalfWhenOverCap(t *testing.T) {
	c := NewProcessedScanCache(4)
	base := time.Now()
	keys := make([]repository.AttendanceKey, 5)
	for i := range keys {
		keys[i] = repository.AttendanceKey{DeviceUserID: "1", OccurredAt: base.Add(time.Duration(i) * time.Minute)}
		c.Add("d1", keys[i])
	}

	assert.LessOrEqual(t, c.Size("d1"), 4)
	assert.True(t, c.Contains("d1", keys[4]), "newest key should survive the trim")
	assert.False(t, c.Contains("d1", keys[0]), "oldest key should be dropped by the trim")
}

func TestProcessedScanCacheIsolatesByDevice(t *testing.T) {
	c := NewProcessedScanCache(10)
	key := repository.AttendanceKey{DeviceUserID: "1", OccurredAt: time.Now()}
	c.Add("d1", key)
	assert.False(t, c.Contains("d2", key))
}
