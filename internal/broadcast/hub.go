// Package broadcast is the real-time fan-out layer: four independent
// tenant-keyed channels (device-status, device-info, enrollment-progress,
// attendance-scans), one generic hub parameterized by channel name.
// Publish is synchronous and fan-out-once — no buffering for absent
// subscribers.
package broadcast

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Channel names.
const (
	ChannelDeviceStatus        = "device-status"
	ChannelDeviceInfo          = "device-info"
	ChannelEnrollmentProgress  = "enrollment-progress"
	ChannelAttendanceScans     = "attendance-scans"
)

// Subscriber is anything that can receive a broadcast event. A failing
// Send removes the subscriber from its set; the hub treats Send errors as
// fatal for that subscriber, never for the publish call itself.
type Subscriber interface {
	ID() string
	Send(event any) error
}

type tenantSet map[string]map[Subscriber]struct{}

// Hub fans events out to tenant-scoped subscriber sets across four fixed
// channels.
type Hub struct {
	mu       sync.Mutex
	channels map[string]tenantSet
	log      *logrus.Entry
}

// New builds an empty Hub with the four channels pre-registered.
func New(log *logrus.Entry) *Hub {
	h := &Hub{
		channels: make(map[string]tenantSet),
		log:      log,
	}
	for _, ch := range []string{ChannelDeviceStatus, ChannelDeviceInfo, ChannelEnrollmentProgress, ChannelAttendanceScans} {
		h.channels[ch] = make(tenantSet)
	}
	return h
}

// Subscribe registers an already-accepted sink under (channel, tenant).
func (h *Hub) Subscribe(channel, tenant string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.channels[channel][tenant]
	if !ok {
		set = make(map[Subscriber]struct{})
		h.channels[channel][tenant] = set
	}
	set[sub] = struct{}{}
}

// Unsubscribe removes one subscriber from (channel, tenant).
func (h *Hub) Unsubscribe(channel, tenant string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.channels[channel][tenant]; ok {
		delete(set, sub)
	}
}

// Publish sends event to every subscriber currently registered under
// (channel, tenant), in iteration order. A subscriber whose Send fails is
// removed atomically with the failed send; no error propagates out of
// Publish itself — callers treat broadcast as best-effort.
func (h *Hub) Publish(channel, tenant string, event any) {
	h.mu.Lock()
	set, ok := h.channels[channel][tenant]
	if !ok || len(set) == 0 {
		h.mu.Unlock()
		return
	}
	subs := make([]Subscriber, 0, len(set))
	for s := range set {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	var dead []Subscriber
	for _, s := range subs {
		if err := s.Send(event); err != nil {
			h.log.WithError(err).WithField("subscriber", s.ID()).Debug("broadcast send failed, disconnecting")
			dead = append(dead, s)
		}
	}
	if len(dead) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.channels[channel][tenant]; ok {
		for _, s := range dead {
			delete(set, s)
		}
	}
}

// Count reports the number of subscribers for a channel, optionally scoped
// to one tenant (tenant == "" sums across all tenants).
func (h *Hub) Count(channel, tenant string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.channels[channel]
	if !ok {
		return 0
	}
	if tenant != "" {
		return len(set[tenant])
	}
	total := 0
	for _, s := range set {
		total += len(s)
	}
	return total
}

// Event envelopes, one set per channel.

// DeviceStatusEvent is published on ChannelDeviceStatus.
type DeviceStatusEvent struct {
	Type      string     `json:"type"`
	DeviceID  string     `json:"device_id"`
	Status    string     `json:"status"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// DeviceInfoEvent is published on ChannelDeviceInfo.
type DeviceInfoEvent struct {
	Type      string         `json:"type"`
	DeviceID  string         `json:"device_id"`
	Info      map[string]any `json:"info"`
	Timestamp time.Time      `json:"timestamp"`
}

// EnrollmentProgressEvent is published on ChannelEnrollmentProgress. Type
// is one of enrollment_progress/enrollment_complete/enrollment_error/
// enrollment_cancelled.
type EnrollmentProgressEvent struct {
	Type          string    `json:"type"`
	SessionID     string    `json:"session_id"`
	Progress      int       `json:"progress"`
	Status        string    `json:"status"`
	Message       string    `json:"message"`
	QualityScore  *int      `json:"quality_score,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// AttendanceScanEvent is published on ChannelAttendanceScans, one per
// ingestion round, carrying every classified scan including UNKNOWN and
// DUPLICATE (duplicates reach the live feed even though they are never
// persisted).
type AttendanceScanEvent struct {
	Type      string            `json:"type"`
	Events    []AttendanceEntry `json:"events"`
	Count     int               `json:"count"`
	Timestamp time.Time         `json:"timestamp"`
}

// AttendanceEntry is one scan within an AttendanceScanEvent.
type AttendanceEntry struct {
	ID              string    `json:"id"`
	StudentID       string    `json:"student_id,omitempty"`
	StudentName     string    `json:"student_name,omitempty"`
	AdmissionNumber string    `json:"admission_number,omitempty"`
	ClassName       string    `json:"class_name,omitempty"`
	DeviceID        string    `json:"device_id"`
	DeviceName      string    `json:"device_name"`
	EventType       string    `json:"event_type"`
	OccurredAt      time.Time `json:"occurred_at"`
}
