// Package types holds the domain entities shared across the device
// interaction subsystem: devices, sessions, enrollments, templates and
// attendance records. These are semantic types, not storage rows — the
// repository packages map them to and from whatever backing store is
// configured.
package types

import (
	"fmt"
	"time"
)

// DeviceStatus is the lifecycle status of a Device as seen by the fleet
// control plane.
type DeviceStatus string

const (
	DeviceStatusOnline  DeviceStatus = "ONLINE"
	DeviceStatusOffline DeviceStatus = "OFFLINE"
	DeviceStatusUnknown DeviceStatus = "UNKNOWN"
)

// Device is a single ZKTeco terminal belonging to exactly one tenant.
type Device struct {
	ID             string
	TenantID       string
	Name           string
	Host           string
	Port           int
	CommPassword   string
	Serial         string
	Status         DeviceStatus
	LastSeen       *time.Time
	MaxUsers       int
	EnrolledUsers  int
	Group          string
	Timezone       string // IANA zone; falls back to the configured attendance_timezone when empty
	IsDeleted      bool
}

// Endpoint returns the host:port dial target for this device.
func (d Device) Endpoint() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// EnrollmentStatus is the lifecycle of an EnrollmentSession.
type EnrollmentStatus string

const (
	EnrollmentPending    EnrollmentStatus = "PENDING"
	EnrollmentInProgress EnrollmentStatus = "IN_PROGRESS"
	EnrollmentCompleted  EnrollmentStatus = "COMPLETED"
	EnrollmentFailed     EnrollmentStatus = "FAILED"
	EnrollmentCancelled  EnrollmentStatus = "CANCELLED"
)

// Terminal reports whether the status is one of the terminal states.
func (s EnrollmentStatus) Terminal() bool {
	switch s {
	case EnrollmentCompleted, EnrollmentFailed, EnrollmentCancelled:
		return true
	default:
		return false
	}
}

// EnrollmentSession tracks one interactive enrollment from PENDING to a
// terminal state.
type EnrollmentSession struct {
	SessionUUID    string
	TenantID       string
	StudentID      string
	DeviceID       string
	FingerIndex    int
	Status         EnrollmentStatus
	Error          string
	SealedTemplate []byte
	Quality        *int
	StartedAt      time.Time
	CompletedAt    *time.Time
}

// FingerprintTemplate is an append-only sealed template blob synced from a
// device or produced by an enrollment.
type FingerprintTemplate struct {
	ID                string
	TenantID          string
	StudentID         string
	DeviceOriginID    string
	FingerIndex       int
	SealedBytes       []byte
	Quality           *int
	SourceEnrollment  string
	IsDeleted         bool
}

// EventType classifies an attendance tap. DUPLICATE is never persisted; it
// is only ever attached to a live-feed broadcast event.
type EventType string

const (
	EventIN        EventType = "IN"
	EventOUT       EventType = "OUT"
	EventUnknown   EventType = "UNKNOWN"
	EventDuplicate EventType = "DUPLICATE"
)

// AttendanceRecord is a persisted (or, for DUPLICATE, feed-only) tap.
type AttendanceRecord struct {
	ID            string
	TenantID      string
	DeviceID      string
	StudentID     string // empty when unresolved
	DeviceUserID  string
	OccurredAt    time.Time // UTC
	EventType     EventType
	RawPayload    map[string]any
}

// RawAttendanceLog is what a device session hands back from
// fetch_attendance_logs: a naive, device-local timestamp plus the raw
// device user id string.
type RawAttendanceLog struct {
	UserIDString string
	Timestamp    time.Time // naive, device-local — caller must attach a zone
	PunchCode    int
	DeviceSerial string
}

// DeviceUser is a user record as stored on the device itself.
type DeviceUser struct {
	UID            int
	UserIDString   string
	Name           string
	Privilege      int
}

// FreeSizes is the device capacity snapshot returned by GET_FREE_SIZES.
type FreeSizes struct {
	Users      int
	Fingers    int
	Records    int
	Cards      int
	Faces      int
	UsersCap   int
	FingersCap int
	RecCap     int
	FacesCap   int
	UsersAv    int
	FingersAv  int
	RecAv      int
}

// DeviceInfo is the aggregate device metadata the info-sync loop publishes.
type DeviceInfo struct {
	Serial      string
	Name        string
	Firmware    string
	DeviceTime  string
	Capacity    *FreeSizes
}
