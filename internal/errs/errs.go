// Package errs defines the named error kinds that cross component
// boundaries in the device interaction subsystem. They are
// plain sentinel/typed errors rather than a generic error-category system:
// callers use errors.Is/errors.As to decide whether to log-and-swallow
// (control loops), propagate (user-initiated requests), or roll back
// (ingestion).
package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors compared with errors.Is.
var (
	ErrDeviceNotFound       = fmt.Errorf("device not found")
	ErrDeviceOffline        = fmt.Errorf("device offline")
	ErrStudentNotFound      = fmt.Errorf("student not found")
	ErrEnrollmentInProgress = fmt.Errorf("enrollment already in progress for this finger")
	ErrConnectTimeout       = fmt.Errorf("connect timeout")
	ErrAuthRejected         = fmt.Errorf("device rejected authentication")
	ErrConnLost             = fmt.Errorf("connection lost")
	ErrEventTimeout         = fmt.Errorf("event wait timed out")
	ErrProtocolDecode       = fmt.Errorf("malformed protocol frame")
)

// DeviceRejected is returned when a device responds with a status other
// than ACK_OK to a command.
type DeviceRejected struct {
	Code int
}

func (e *DeviceRejected) Error() string {
	return fmt.Sprintf("device rejected command: status=%d", e.Code)
}

// EnrollmentError is returned when the enrollment state machine exits in a
// terminal non-success state.
type EnrollmentError struct {
	Reason string
}

func (e *EnrollmentError) Error() string {
	return fmt.Sprintf("enrollment failed: %s", e.Reason)
}

// OperationalToDeviceOffline maps session/enrollment operational errors
// onto the ingress-facing DeviceOffline error: a connect timeout, auth
// rejection, lost connection or event timeout all mean the same thing to
// an API caller — the device is unreachable right now.
func OperationalToDeviceOffline(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case isAny(err, ErrConnectTimeout, ErrAuthRejected, ErrConnLost, ErrEventTimeout):
		return fmt.Errorf("%w: %v", ErrDeviceOffline, err)
	default:
		return err
	}
}

func isAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
