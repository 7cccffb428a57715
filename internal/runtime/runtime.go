// Package runtime is the explicit runtime context that replaces global
// singletons: one object, built once at startup, threading the
// repositories, the session pool, the broadcast hub, the ingestion
// pipeline and the template sealer through every externally callable
// operation. internal/ingress is the only caller.
package runtime

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"school-attendance-bridge/internal/broadcast"
	"school-attendance-bridge/internal/enrollment"
	"school-attendance-bridge/internal/errs"
	"school-attendance-bridge/internal/ingestion"
	"school-attendance-bridge/internal/pool"
	"school-attendance-bridge/internal/repository"
	"school-attendance-bridge/internal/seal"
	"school-attendance-bridge/internal/types"
)

// EnrollmentTimeout is the per-event wait the enrollment driver uses.
const EnrollmentTimeout = 60 * time.Second

// Runtime bundles every shared dependency the external operations need.
// Built once at startup and passed by reference — never a package-level
// global. The outbound event relay is wired directly into the ingestion
// Pipeline at construction time, not threaded through here, since only
// the pipeline ever enqueues onto it.
type Runtime struct {
	Repos    repository.Repositories
	Pool     *pool.Pool
	Hub      *broadcast.Hub
	Pipeline *ingestion.Pipeline
	Sealer   seal.Sealer
	Log      *logrus.Entry

	mu     sync.Mutex
	active map[string]*enrollmentHandle // tenant:device:finger -> handle
}

type enrollmentHandle struct {
	cancel *atomic.Bool
}

// New builds a Runtime.
func New(repos repository.Repositories, p *pool.Pool, hub *broadcast.Hub, pipeline *ingestion.Pipeline, sealer seal.Sealer, log *logrus.Entry) *Runtime {
	return &Runtime{
		Repos:    repos,
		Pool:     p,
		Hub:      hub,
		Pipeline: pipeline,
		Sealer:   sealer,
		Log:      log,
		active:   make(map[string]*enrollmentHandle),
	}
}

// StartEnrollment begins one (student, device, finger) enrollment
// session. The capture driver runs in a background goroutine; progress is
// delivered over ChannelEnrollmentProgress as it happens. The returned
// session reflects the freshly created, IN_PROGRESS row.
func (r *Runtime) StartEnrollment(ctx context.Context, tenant, studentID, deviceID string, fingerIndex int) (*types.EnrollmentSession, error) {
	d, err := r.Repos.Devices.Get(ctx, deviceID, tenant)
	if err != nil {
		return nil, err
	}
	if d == nil || d.IsDeleted {
		return nil, errs.ErrDeviceNotFound
	}
	if d.Status != types.DeviceStatusOnline {
		return nil, errs.ErrDeviceOffline
	}

	key := tenant + ":" + deviceID + ":" + fmt.Sprint(fingerIndex)
	r.mu.Lock()
	if _, busy := r.active[key]; busy {
		r.mu.Unlock()
		return nil, errs.ErrEnrollmentInProgress
	}
	cancel := &atomic.Bool{}
	r.active[key] = &enrollmentHandle{cancel: cancel}
	r.mu.Unlock()

	session := types.EnrollmentSession{
		SessionUUID: uuid.NewString(),
		TenantID:    tenant,
		StudentID:   studentID,
		DeviceID:    deviceID,
		FingerIndex: fingerIndex,
		Status:      types.EnrollmentInProgress,
		StartedAt:   time.Now().UTC(),
	}
	if err := r.Repos.Enrollments.Create(ctx, session); err != nil {
		r.mu.Lock()
		delete(r.active, key)
		r.mu.Unlock()
		return nil, err
	}

	deviceSession, releaseSession, err := r.Pool.Acquire(ctx, *d)
	if err != nil {
		r.mu.Lock()
		delete(r.active, key)
		r.mu.Unlock()
		_ = r.Repos.Enrollments.UpdateStatus(ctx, session.SessionUUID, types.EnrollmentFailed, err.Error(), nowPtr())
		return nil, errs.OperationalToDeviceOffline(err)
	}

	// The device must acknowledge the enrollment command before the capture
	// goroutine starts polling for events; a rejection surfaces to the
	// caller directly.
	if err := deviceSession.StartEnrollment(ctx, studentID, fingerIndex); err != nil {
		releaseSession()
		r.mu.Lock()
		delete(r.active, key)
		r.mu.Unlock()
		_ = r.Repos.Enrollments.UpdateStatus(ctx, session.SessionUUID, types.EnrollmentFailed, err.Error(), nowPtr())
		return nil, err
	}

	go r.runEnrollment(context.Background(), key, session.SessionUUID, tenant, studentID, deviceSession, releaseSession, fingerIndex, cancel)

	return &session, nil
}

func (r *Runtime) runEnrollment(ctx context.Context, key, sessionUUID, tenant, studentID string, session enrollment.EventSource, release func(), fingerIndex int, cancel *atomic.Bool) {
	defer release()
	defer func() {
		r.mu.Lock()
		delete(r.active, key)
		r.mu.Unlock()
	}()

	driver := enrollment.New(session, EnrollmentTimeout, r.Log)
	result := driver.Run(ctx, studentID, fingerIndex, cancel, func(p enrollment.Progress) {
		r.Hub.Publish(broadcast.ChannelEnrollmentProgress, tenant, broadcast.EnrollmentProgressEvent{
			Type:         enrollmentEventType(p.Status),
			SessionID:    sessionUUID,
			Progress:     p.Progress,
			Status:       p.Status,
			Message:      p.Message,
			QualityScore: p.Quality,
			Timestamp:    time.Now().UTC(),
		})
	})

	completedAt := nowPtr()
	status := resultToStatus(result)

	if !result.Success {
		if err := r.Repos.Enrollments.UpdateStatus(ctx, sessionUUID, status, result.Message, completedAt); err != nil {
			r.Log.WithError(err).WithField("session_uuid", sessionUUID).Error("enrollment: failed to persist terminal status")
		}
		return
	}

	// Success: read back the raw template bytes and seal them for
	// storage. GetTemplateBytes is read-only and was already used for
	// readback verification inside the driver, so a second call here is
	// safe — the device session is idle once Run has returned.
	raw, err := session.GetTemplateBytes(ctx, studentID, fingerIndex)
	if err != nil || len(raw) == 0 {
		_ = r.Repos.Enrollments.UpdateStatus(ctx, sessionUUID, types.EnrollmentFailed, "verification failed", completedAt)
		return
	}
	sealed, err := r.Sealer.Seal(raw)
	if err != nil {
		r.Log.WithError(err).WithField("session_uuid", sessionUUID).Error("enrollment: failed to seal template")
		_ = r.Repos.Enrollments.UpdateStatus(ctx, sessionUUID, types.EnrollmentFailed, "failed to seal template", completedAt)
		return
	}

	quality := defaultQualityScore
	if err := r.Repos.Enrollments.UpdateStatus(ctx, sessionUUID, status, "", completedAt); err != nil {
		r.Log.WithError(err).WithField("session_uuid", sessionUUID).Error("enrollment: failed to persist terminal status")
		return
	}
	if err := r.Repos.Enrollments.Update(ctx, sessionUUID, map[string]any{"sealed_template": sealed, "quality": quality}); err != nil {
		r.Log.WithError(err).WithField("session_uuid", sessionUUID).Error("enrollment: failed to persist sealed template")
	}
}

// defaultQualityScore is used for every completed enrollment: the wire
// protocol's result codes are pass/fail only (protocol.EnrollResult*), they
// never carry a numeric quality figure, so there is nothing finer-grained
// to record.
const defaultQualityScore = 90

func enrollmentEventType(status string) string {
	switch status {
	case "complete":
		return "enrollment_complete"
	case "error":
		return "enrollment_error"
	case "cancelled":
		return "enrollment_cancelled"
	default:
		return "enrollment_progress"
	}
}

func resultToStatus(r enrollment.Result) types.EnrollmentStatus {
	switch r.Status {
	case "complete":
		return types.EnrollmentCompleted
	case "cancelled":
		return types.EnrollmentCancelled
	default:
		return types.EnrollmentFailed
	}
}

// CancelEnrollment flags an in-progress session for cancellation; the
// driver observes the flag at its next poll point and emits the terminal
// cancelled Progress itself. Nothing is force-closed here.
func (r *Runtime) CancelEnrollment(ctx context.Context, tenant, sessionUUID string) (*types.EnrollmentSession, error) {
	session, err := r.Repos.Enrollments.GetByUUID(ctx, sessionUUID)
	if err != nil {
		return nil, err
	}
	if session == nil || session.TenantID != tenant {
		return nil, errs.ErrDeviceNotFound
	}

	r.mu.Lock()
	for key, handle := range r.active {
		if key == tenant+":"+session.DeviceID+":"+fmt.Sprint(session.FingerIndex) {
			handle.cancel.Store(true)
		}
	}
	r.mu.Unlock()

	return session, nil
}

// ListEnrolledFingers queries the live device (not the database) for
// which finger slots already carry a template.
func (r *Runtime) ListEnrolledFingers(ctx context.Context, tenant, deviceID, studentID string) ([]int, error) {
	d, err := r.requireOnlineDevice(ctx, tenant, deviceID)
	if err != nil {
		return nil, err
	}
	session, release, err := r.Pool.Acquire(ctx, *d)
	if err != nil {
		return nil, errs.OperationalToDeviceOffline(err)
	}
	defer release()
	return session.GetEnrolledFingerIndices(ctx, studentID)
}

// DeleteFingerprint removes one finger's template from the device.
func (r *Runtime) DeleteFingerprint(ctx context.Context, tenant, deviceID, studentID string, fingerIndex int) error {
	d, err := r.requireOnlineDevice(ctx, tenant, deviceID)
	if err != nil {
		return err
	}
	session, release, err := r.Pool.Acquire(ctx, *d)
	if err != nil {
		return errs.OperationalToDeviceOffline(err)
	}
	defer release()
	return session.DeleteUserTemplate(ctx, deviceUID(studentID), studentID, fingerIndex)
}

// SyncStudentToDevice provisions a student as a user record on the device
// so it can later accept an enrollment for them.
func (r *Runtime) SyncStudentToDevice(ctx context.Context, tenant, studentID, deviceID string) error {
	d, err := r.requireOnlineDevice(ctx, tenant, deviceID)
	if err != nil {
		return err
	}
	session, release, err := r.Pool.Acquire(ctx, *d)
	if err != nil {
		return errs.OperationalToDeviceOffline(err)
	}
	defer release()
	return session.SetUser(ctx, deviceUID(studentID), studentID, studentID, 0)
}

// CheckStudentOnDevice reports whether the device already has a user
// record for studentID.
func (r *Runtime) CheckStudentOnDevice(ctx context.Context, tenant, studentID, deviceID string) (bool, error) {
	d, err := r.requireOnlineDevice(ctx, tenant, deviceID)
	if err != nil {
		return false, err
	}
	session, release, err := r.Pool.Acquire(ctx, *d)
	if err != nil {
		return false, errs.OperationalToDeviceOffline(err)
	}
	defer release()
	users, err := session.GetUsers(ctx)
	if err != nil {
		return false, err
	}
	for _, u := range users {
		if u.UserIDString == studentID {
			return true, nil
		}
	}
	return false, nil
}

// GetDeviceInfo returns the device's live metadata when ONLINE, falling
// back to the last-known capacity fields from the repository otherwise.
func (r *Runtime) GetDeviceInfo(ctx context.Context, tenant, deviceID string) (map[string]any, error) {
	d, err := r.Repos.Devices.Get(ctx, deviceID, tenant)
	if err != nil {
		return nil, err
	}
	if d == nil || d.IsDeleted {
		return nil, errs.ErrDeviceNotFound
	}

	info := map[string]any{
		"max_users":      d.MaxUsers,
		"users_enrolled": d.EnrolledUsers,
		"status":         string(d.Status),
	}
	if d.Status != types.DeviceStatusOnline {
		return info, nil
	}

	session, release, err := r.Pool.Acquire(ctx, *d)
	if err != nil {
		return info, nil
	}
	defer release()
	if serial, err := session.GetSerial(ctx); err == nil {
		info["serial"] = serial
	}
	if name, err := session.GetDeviceName(ctx); err == nil {
		info["name"] = name
	}
	if firmware, err := session.GetFirmware(ctx); err == nil {
		info["firmware"] = firmware
	}
	if deviceTime, err := session.GetTime(ctx); err == nil {
		info["device_time"] = deviceTime
	}
	if free, err := session.GetFreeSizes(ctx); err == nil {
		info["capacity"] = free
	}
	return info, nil
}

// TestResult is the outcome of a one-off connectivity test.
type TestResult struct {
	OK         bool
	Message    string
	ResponseMS int64
}

// TestDevice dials the device and runs one liveness probe bounded by
// timeout, reporting round-trip latency.
func (r *Runtime) TestDevice(ctx context.Context, tenant, deviceID string, timeout time.Duration) (TestResult, error) {
	d, err := r.Repos.Devices.Get(ctx, deviceID, tenant)
	if err != nil {
		return TestResult{}, err
	}
	if d == nil || d.IsDeleted {
		return TestResult{}, errs.ErrDeviceNotFound
	}

	testCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	session, release, err := r.Pool.Acquire(testCtx, *d)
	if err != nil {
		return TestResult{OK: false, Message: err.Error(), ResponseMS: time.Since(start).Milliseconds()}, nil
	}
	defer release()
	alive := session.TestLiveness(testCtx)
	elapsed := time.Since(start).Milliseconds()
	if !alive {
		return TestResult{OK: false, Message: "device did not respond", ResponseMS: elapsed}, nil
	}
	return TestResult{OK: true, Message: "ok", ResponseMS: elapsed}, nil
}

// IngestAttendanceForDevice runs one ingestion round on demand, outside
// the regular attendance-poll cadence.
func (r *Runtime) IngestAttendanceForDevice(ctx context.Context, tenant, deviceID string) (ingestion.Result, error) {
	d, err := r.Repos.Devices.Get(ctx, deviceID, tenant)
	if err != nil {
		return ingestion.Result{}, err
	}
	if d == nil || d.IsDeleted {
		return ingestion.Result{}, errs.ErrDeviceNotFound
	}
	session, release, err := r.Pool.Acquire(ctx, *d)
	if err != nil {
		return ingestion.Result{}, errs.OperationalToDeviceOffline(err)
	}
	defer release()
	return r.Pipeline.Run(ctx, *d, session)
}

// Subscribe* register a websocket (or any broadcast.Subscriber) on one
// of the four fixed channels.
func (r *Runtime) SubscribeDeviceStatus(tenant string, sub broadcast.Subscriber) {
	r.Hub.Subscribe(broadcast.ChannelDeviceStatus, tenant, sub)
}
func (r *Runtime) SubscribeDeviceInfo(tenant string, sub broadcast.Subscriber) {
	r.Hub.Subscribe(broadcast.ChannelDeviceInfo, tenant, sub)
}
func (r *Runtime) SubscribeEnrollmentProgress(tenant string, sub broadcast.Subscriber) {
	r.Hub.Subscribe(broadcast.ChannelEnrollmentProgress, tenant, sub)
}
func (r *Runtime) SubscribeAttendanceScans(tenant string, sub broadcast.Subscriber) {
	r.Hub.Subscribe(broadcast.ChannelAttendanceScans, tenant, sub)
}

func (r *Runtime) requireOnlineDevice(ctx context.Context, tenant, deviceID string) (*types.Device, error) {
	d, err := r.Repos.Devices.Get(ctx, deviceID, tenant)
	if err != nil {
		return nil, err
	}
	if d == nil || d.IsDeleted {
		return nil, errs.ErrDeviceNotFound
	}
	if d.Status != types.DeviceStatusOnline {
		return nil, errs.ErrDeviceOffline
	}
	return d, nil
}

// deviceUID derives a stable non-negative on-device numeric UID from a
// student id string: the wire protocol needs one, and there is no
// student-profile store in this system to hold an allocation table, so it
// is computed deterministically rather than persisted.
func deviceUID(studentID string) int {
	h := fnv.New32a()
	h.Write([]byte(studentID))
	return int(h.Sum32() % 1_000_000)
}

func nowPtr() *time.Time {
	t := time.Now().UTC()
	return &t
}
