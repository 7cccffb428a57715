package classifier

import (
	"testing"
	"time"

	"school-attendance-bridge/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyNoPreviousIsIN(t *testing.T) {
	now := time.Now()
	assert.Equal(t, types.EventIN, Classify(nil, now, 5*time.Minute))
}

func TestClassifyWithinWindowIsDuplicate(t *testing.T) {
	prev := &Previous{EventType: types.EventIN, OccurredAt: time.Now()}
	now := prev.OccurredAt.Add(5*time.Minute - time.Nanosecond)
	assert.Equal(t, types.EventDuplicate, Classify(prev, now, 5*time.Minute))
}

func TestClassifyAtWindowFlipsINtoOUT(t *testing.T) {
	prev := &Previous{EventType: types.EventIN, OccurredAt: time.Now()}
	now := prev.OccurredAt.Add(5 * time.Minute)
	assert.Equal(t, types.EventOUT, Classify(prev, now, 5*time.Minute))
}

func TestClassifyAtWindowFlipsOUTintoIN(t *testing.T) {
	prev := &Previous{EventType: types.EventOUT, OccurredAt: time.Now()}
	now := prev.OccurredAt.Add(5 * time.Minute)
	assert.Equal(t, types.EventIN, Classify(prev, now, 5*time.Minute))
}

func TestClassifyUnknownPreviousIsNonDirectional(t *testing.T) {
	prev := &Previous{EventType: types.EventUnknown, OccurredAt: time.Now().Add(-time.Hour)}
	now := time.Now()
	assert.Equal(t, types.EventIN, Classify(prev, now, 5*time.Minute))
}

func TestClassifyZeroWindowFallsBackToDefault(t *testing.T) {
	prev := &Previous{EventType: types.EventIN, OccurredAt: time.Now()}
	now := prev.OccurredAt.Add(1 * time.Minute)
	assert.Equal(t, types.EventDuplicate, Classify(prev, now, 0))
}

type fakeHistoryStore struct {
	records map[string]Previous
	calls   int
}

func (f *fakeHistoryStore) LastRecordsForStudents(tenant string, studentIDs []string, referenceTime time.Time) (map[string]Previous, error) {
	f.calls++
	out := make(map[string]Previous)
	for _, id := range studentIDs {
		if p, ok := f.records[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func TestGetLastRecordsForStudentsSingleGroupedCall(t *testing.T) {
	store := &fakeHistoryStore{records: map[string]Previous{
		"s1": {EventType: types.EventIN, OccurredAt: time.Now()},
	}}
	result, err := GetLastRecordsForStudents(store, "t1", []string{"s1", "s2"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, store.calls)
	assert.Contains(t, result, "s1")
	assert.NotContains(t, result, "s2")
}

func TestGetLastRecordsForStudentsEmptyInputSkipsQuery(t *testing.T) {
	store := &fakeHistoryStore{records: map[string]Previous{}}
	result, err := GetLastRecordsForStudents(store, "t1", nil, time.Now())
	require.NoError(t, err)
	assert.Empty(t, result)
	assert.Equal(t, 0, store.calls)
}

type fakeSingleRecordStore struct {
	prev *Previous
}

func (f *fakeSingleRecordStore) LastRecordForStudent(tenant, studentID string, before time.Time) (*Previous, error) {
	return f.prev, nil
}

func TestDetermineQueriesSingleRecordAndClassifies(t *testing.T) {
	prev := &Previous{EventType: types.EventIN, OccurredAt: time.Now().Add(-time.Hour)}
	store := &fakeSingleRecordStore{prev: prev}

	result, err := Determine(store, "t1", "s1", time.Now(), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, types.EventOUT, result)
}

func TestDetermineWithNoPriorRecordIsIN(t *testing.T) {
	store := &fakeSingleRecordStore{prev: nil}
	result, err := Determine(store, "t1", "s1", time.Now(), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, types.EventIN, result)
}
