package enrollment

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"school-attendance-bridge/internal/device"
	"school-attendance-bridge/internal/protocol"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedSource struct {
	events      []device.Event
	errs        []error
	idx         int
	template    []byte
	templateErr error
}

func (s *scriptedSource) RecvEvent(ctx context.Context, timeout time.Duration) (device.Event, error) {
	if s.idx >= len(s.events) {
		return device.Event{}, context.DeadlineExceeded
	}
	e, err := s.events[s.idx], s.errs[s.idx]
	s.idx++
	return e, err
}

func (s *scriptedSource) RegisterEvents(ctx context.Context, flagMask uint32) error { return nil }
func (s *scriptedSource) CancelCapture(ctx context.Context)                        {}
func (s *scriptedSource) GetTemplateBytes(ctx context.Context, userIDString string, fingerIndex int) ([]byte, error) {
	return s.template, s.templateErr
}

func newLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(nopWriter{})
	return logrus.NewEntry(l)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestDriverSuccessfulThreePressFlow(t *testing.T) {
	src := &scriptedSource{
		events: []device.Event{
			{Code: 1}, {Code: 1}, // press 1: detected, processed
			{Code: 1}, {Code: 1}, // press 2
			{Code: 1}, {Code: 1}, // press 3
			{Code: 0}, // final summary: success
		},
		errs:     []error{nil, nil, nil, nil, nil, nil, nil},
		template: []byte{1, 2, 3},
	}
	d := New(src, time.Second, newLogger())
	var cancel atomic.Bool
	var progress []Progress
	result := d.Run(context.Background(), "1042", 0, &cancel, func(p Progress) { progress = append(progress, p) })

	require.True(t, result.Success)
	assert.Equal(t, "complete", result.Status)

	wantStatuses := []string{"ready", "placing", "processing", "placing", "processing", "placing", "processing", "complete"}
	wantProgress := []int{0, 33, 66, 33, 66, 33, 66, 100}
	require.Len(t, progress, len(wantStatuses))
	for i := range wantStatuses {
		assert.Equal(t, wantStatuses[i], progress[i].Status)
		assert.Equal(t, wantProgress[i], progress[i].Progress)
	}
}

func TestDriverVerificationFailureDowngrades(t *testing.T) {
	src := &scriptedSource{
		events:      []device.Event{{Code: 1}, {Code: 1}, {Code: 1}, {Code: 1}, {Code: 1}, {Code: 1}, {Code: 0}},
		errs:        []error{nil, nil, nil, nil, nil, nil, nil},
		template:    nil,
		templateErr: nil,
	}
	d := New(src, time.Second, newLogger())
	var cancel atomic.Bool
	result := d.Run(context.Background(), "1042", 0, &cancel, func(Progress) {})

	assert.False(t, result.Success)
	assert.Equal(t, "verification failed", result.Message)
}

func TestDriverDuplicateFingerprint(t *testing.T) {
	src := &scriptedSource{
		events: []device.Event{{Code: protocol.EnrollResultDuplicate}},
		errs:   []error{nil},
	}
	d := New(src, time.Second, newLogger())
	var cancel atomic.Bool
	result := d.Run(context.Background(), "1042", 0, &cancel, func(Progress) {})

	assert.False(t, result.Success)
	assert.Equal(t, "This fingerprint is already enrolled", result.Message)
}

func TestDriverLowQualityRetryThenSuccess(t *testing.T) {
	src := &scriptedSource{
		events: []device.Event{
			{Code: 1}, {Code: protocol.EnrollResultLowQuality}, // press 1: low quality, does not count
			{Code: 1}, {Code: 1}, // press 1 retried
			{Code: 1}, {Code: 1}, // press 2
			{Code: 1}, {Code: 1}, // press 3
			{Code: 0}, // final summary: success
		},
		errs:     []error{nil, nil, nil, nil, nil, nil, nil, nil, nil},
		template: []byte{9},
	}
	d := New(src, time.Second, newLogger())
	var cancel atomic.Bool
	result := d.Run(context.Background(), "1042", 0, &cancel, func(Progress) {})

	assert.True(t, result.Success)
}

func TestDriverCancelFlagHonoredBeforeWait(t *testing.T) {
	src := &scriptedSource{}
	d := New(src, time.Second, newLogger())
	var cancel atomic.Bool
	cancel.Store(true)
	result := d.Run(context.Background(), "1042", 0, &cancel, func(Progress) {})

	assert.False(t, result.Success)
	assert.Equal(t, "cancelled", result.Status)
}

func TestDriverFirmwareSpecificFinalCodeIsSuccess(t *testing.T) {
	src := &scriptedSource{
		events: []device.Event{
			{Code: 1}, {Code: 1},
			{Code: 1}, {Code: 1},
			{Code: 1}, {Code: 1},
			{Code: 54}, // firmware-specific completion code
		},
		errs:     []error{nil, nil, nil, nil, nil, nil, nil},
		template: []byte{7},
	}
	d := New(src, time.Second, newLogger())
	var cancel atomic.Bool
	result := d.Run(context.Background(), "1042", 0, &cancel, func(Progress) {})

	assert.True(t, result.Success)
}
