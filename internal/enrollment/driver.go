// Package enrollment is the state machine that drives a device through
// its three-press fingerprint enrollment ritual. It never opens its own
// socket — it only consumes events off an already connected session
// (internal/device.Session, abstracted here as EventSource so this
// package is testable without real sockets).
package enrollment

import (
	"context"
	"sync/atomic"
	"time"

	"school-attendance-bridge/internal/device"
	"school-attendance-bridge/internal/protocol"

	"github.com/sirupsen/logrus"
)

const maxAttempts = 3

// EventSource is the slice of internal/device.Session the driver needs.
// Kept as an interface so tests can substitute a scripted fake instead of
// a real socket.
type EventSource interface {
	RecvEvent(ctx context.Context, timeout time.Duration) (device.Event, error)
	RegisterEvents(ctx context.Context, flagMask uint32) error
	CancelCapture(ctx context.Context)
	GetTemplateBytes(ctx context.Context, userIDString string, fingerIndex int) ([]byte, error)
}

// internalState is the machine's own rich vocabulary — never exposed;
// Progress.Status carries the public 7-state wire vocabulary instead.
type internalState string

const (
	stateReady            internalState = "READY"
	stateWaitingFinger     internalState = "WAITING_FINGER"
	stateFingerDetected    internalState = "FINGER_DETECTED"
	stateFingerProcessed   internalState = "FINGER_PROCESSED"
	stateAttemptCompleted  internalState = "ATTEMPT_COMPLETED"
)

// Progress is one broadcast-ready enrollment update. Status is drawn from
// the public vocabulary: ready, placing, capturing, processing, complete,
// error, cancelled — what the enrollment-progress channel carries.
type Progress struct {
	Progress int // 0, 33, 66, 100
	Status   string
	Message  string
	Quality  *int
}

// Callback receives every Progress update the driver emits, in order.
type Callback func(Progress)

// Result is the terminal outcome of one enrollment run.
type Result struct {
	Success bool
	Status  string // complete, error, cancelled (matches the terminal Progress.Status)
	Message string
}

// Driver runs one enrollment session end to end.
type Driver struct {
	source  EventSource
	log     *logrus.Entry
	timeout time.Duration // per-event wait
}

// New builds a Driver bound to one already-connected session.
func New(source EventSource, timeout time.Duration, log *logrus.Entry) *Driver {
	return &Driver{source: source, timeout: timeout, log: log}
}

// Run drives the three-press ritual for one (student, finger), emitting
// Progress updates via cb, and returns the terminal Result. cancel is
// polled before every event wait; when it reports true the driver emits
// CANCELLED at the next poll point.
func (d *Driver) Run(ctx context.Context, userIDString string, fingerIndex int, cancel *atomic.Bool, cb Callback) Result {
	cb(Progress{Progress: 0, Status: "ready", Message: "Enrollment started. Place your finger on the scanner."})

	if err := d.source.RegisterEvents(ctx, protocol.EventFlagEnrollFinger); err != nil {
		return d.finish(ctx, false, "error", "failed to register for enrollment events", cb)
	}

	// Two frames per press (finger detected, then finger processed), three
	// presses, then one final summary frame.
	state := stateWaitingFinger
	for attempt := 0; attempt < maxAttempts; attempt++ {
		for {
			d.log.WithFields(logrus.Fields{"state": state, "attempt": attempt + 1}).Debug("awaiting enrollment event")
			if cancel.Load() {
				return d.finish(ctx, false, "cancelled", "Enrollment cancelled", cb)
			}

			waitStart := time.Now()
			first, err := d.source.RecvEvent(ctx, d.timeout)
			if err != nil {
				return d.finish(ctx, false, "error", "Enrollment timeout", cb)
			}
			if first.Code == protocol.EnrollResultDuplicate {
				return d.finish(ctx, false, "error", "This fingerprint is already enrolled", cb)
			}
			if protocol.IsAmbiguousFailure(first.Code) {
				elapsed := time.Since(waitStart).Seconds()
				if protocol.ClassifyTimeoutOrCancel(first.Code, elapsed, d.timeout.Seconds()) {
					return d.finish(ctx, false, "error", "Enrollment timeout", cb)
				}
				return d.finish(ctx, false, "cancelled", "Enrollment cancelled by device", cb)
			}

			state = stateFingerDetected
			cb(Progress{Progress: 33, Status: "placing", Message: "Finger detected. Keep your finger steady..."})

			if cancel.Load() {
				return d.finish(ctx, false, "cancelled", "Enrollment cancelled", cb)
			}

			second, err := d.source.RecvEvent(ctx, d.timeout)
			if err != nil {
				return d.finish(ctx, false, "error", "Enrollment timeout", cb)
			}
			if protocol.IsAmbiguousFailure(second.Code) {
				elapsed := time.Since(waitStart).Seconds()
				if protocol.ClassifyTimeoutOrCancel(second.Code, elapsed, d.timeout.Seconds()) {
					return d.finish(ctx, false, "error", "Enrollment timeout", cb)
				}
				return d.finish(ctx, false, "cancelled", "Enrollment cancelled by device", cb)
			}
			if protocol.IsLowQualityRetry(second.Code) {
				// Low-quality read: the press does not count, wait for the
				// device to re-prompt within the same attempt.
				cb(Progress{Progress: 66, Status: "processing", Message: "Finger quality low, retrying."})
				state = stateWaitingFinger
				continue
			}

			state = stateFingerProcessed
			cb(Progress{Progress: 66, Status: "processing", Message: "Processing fingerprint data..."})
			break
		}
		state = stateAttemptCompleted
	}

	// All presses consumed: the device reports the overall outcome in one
	// final summary frame.
	if cancel.Load() {
		return d.finish(ctx, false, "cancelled", "Enrollment cancelled", cb)
	}
	final, err := d.source.RecvEvent(ctx, d.timeout)
	if err != nil {
		return d.finish(ctx, false, "error", "Enrollment timeout", cb)
	}
	if final.Code == protocol.EnrollResultDuplicate {
		return d.finish(ctx, false, "error", "This fingerprint is already enrolled", cb)
	}
	if protocol.IsAmbiguousFailure(final.Code) {
		return d.finish(ctx, false, "error", "Enrollment timeout", cb)
	}
	return d.verifyAndFinish(ctx, userIDString, fingerIndex, cb)
}

// verifyAndFinish is the readback verification step: a reported success
// is downgraded to a failure if no template bytes come back.
func (d *Driver) verifyAndFinish(ctx context.Context, userIDString string, fingerIndex int, cb Callback) Result {
	bytes, err := d.source.GetTemplateBytes(ctx, userIDString, fingerIndex)
	if err != nil || len(bytes) == 0 {
		return d.finish(ctx, false, "error", "verification failed", cb)
	}
	return d.finish(ctx, true, "complete", "Enrollment completed successfully", cb)
}

// finish runs the mandatory cleanup (register_events(0), cancel_capture)
// on every exit path, then emits the terminal Progress and returns Result.
func (d *Driver) finish(ctx context.Context, success bool, status, message string, cb Callback) Result {
	if err := d.source.RegisterEvents(ctx, 0); err != nil {
		d.log.WithError(err).Debug("failed to unregister enrollment events")
	}
	d.source.CancelCapture(ctx)

	progress := 100
	if !success {
		progress = 0
	}
	cb(Progress{Progress: progress, Status: status, Message: message})
	return Result{Success: success, Status: status, Message: message}
}
