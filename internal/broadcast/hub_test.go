package broadcast

import (
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSub struct {
	id      string
	fail    bool
	events  []any
}

func (f *fakeSub) ID() string { return f.id }
func (f *fakeSub) Send(event any) error {
	if f.fail {
		return fmt.Errorf("boom")
	}
	f.events = append(f.events, event)
	return nil
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.Out = discard{}
	return logrus.NewEntry(l)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestPublishDeliversToTenantSubscribersOnly(t *testing.T) {
	h := New(testLogger())
	subA := &fakeSub{id: "a"}
	subB := &fakeSub{id: "b"}
	h.Subscribe(ChannelDeviceStatus, "tenant-1", subA)
	h.Subscribe(ChannelDeviceStatus, "tenant-2", subB)

	h.Publish(ChannelDeviceStatus, "tenant-1", DeviceStatusEvent{Type: "device_status_update"})

	require.Len(t, subA.events, 1)
	assert.Empty(t, subB.events)
}

func TestPublishRemovesFailingSubscriber(t *testing.T) {
	h := New(testLogger())
	sub := &fakeSub{id: "dead", fail: true}
	h.Subscribe(ChannelAttendanceScans, "t1", sub)

	h.Publish(ChannelAttendanceScans, "t1", AttendanceScanEvent{Type: "attendance_events"})

	assert.Equal(t, 0, h.Count(ChannelAttendanceScans, "t1"))
}

func TestUnsubscribeRemovesSubscriber(t *testing.T) {
	h := New(testLogger())
	sub := &fakeSub{id: "s1"}
	h.Subscribe(ChannelEnrollmentProgress, "t1", sub)
	require.Equal(t, 1, h.Count(ChannelEnrollmentProgress, "t1"))

	h.Unsubscribe(ChannelEnrollmentProgress, "t1", sub)
	assert.Equal(t, 0, h.Count(ChannelEnrollmentProgress, "t1"))
}

func TestCountAcrossAllTenants(t *testing.T) {
	h := New(testLogger())
	h.Subscribe(ChannelDeviceInfo, "t1", &fakeSub{id: "a"})
	h.Subscribe(ChannelDeviceInfo, "t2", &fakeSub{id: "b"})
	assert.Equal(t, 2, h.Count(ChannelDeviceInfo, ""))
}
