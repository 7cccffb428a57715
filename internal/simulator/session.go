// Package simulator backs simulation_mode: a deterministic stand-in for
// a device session that opens no real sockets. It satisfies
// internal/pool.Session so the control loops, the ingestion pipeline and
// the session pool run unmodified against it — only the factory passed to
// pool.NewWithFactory changes. Health probes report a device online
// roughly nine times out of ten, every other operation reports empty
// metadata, and enrollment/provisioning commands are refused since there
// is no real finger sensor behind the stub.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync/atomic"
	"time"

	"school-attendance-bridge/internal/device"
	"school-attendance-bridge/internal/types"

	"github.com/sirupsen/logrus"
)

// ErrUnsupported is returned by every enrollment/provisioning operation;
// simulation_mode only stands in for health/info/attendance polling.
var ErrUnsupported = errors.New("simulator: operation not supported in simulation_mode")

// onlineDivisor sets the simulated online rate: every liveness probe
// whose hash bucket is non-zero reports online, 9 of every 10 buckets.
const onlineDivisor = 10

// Session is a deterministic, socket-free stand-in for internal/device.Session.
type Session struct {
	device types.Device
	log    *logrus.Entry
	probes uint64
}

// New builds a simulated session for d. opTimeout is accepted only to
// match internal/pool.Factory's signature; the simulator never dials.
func New(d types.Device, _ time.Duration, log *logrus.Entry) *Session {
	return &Session{device: d, log: log}
}

func (s *Session) Connect(ctx context.Context) error { return nil }

func (s *Session) Disconnect() {}

// TestLiveness reports online for ~90% of calls, deterministically: the
// outcome is a hash of the device id and the call count, not real entropy,
// so a given probe sequence always replays the same pattern.
func (s *Session) TestLiveness(ctx context.Context) bool {
	n := atomic.AddUint64(&s.probes, 1)
	h := fnv.New64a()
	fmt.Fprintf(h, "%s:%d", s.device.ID, n)
	return h.Sum64()%onlineDivisor != 0
}

func (s *Session) GetSerial(ctx context.Context) (string, error)       { return "", nil }
func (s *Session) GetDeviceName(ctx context.Context) (string, error)   { return "", nil }
func (s *Session) GetFirmware(ctx context.Context) (string, error)     { return "", nil }
func (s *Session) GetTime(ctx context.Context) (string, error)         { return "", nil }

func (s *Session) GetFreeSizes(ctx context.Context) (types.FreeSizes, error) {
	return types.FreeSizes{}, nil
}

func (s *Session) FetchAttendanceLogs(ctx context.Context) ([]types.RawAttendanceLog, error) {
	return nil, nil
}

func (s *Session) SetUser(ctx context.Context, deviceUID int, userIDString, displayName string, privilege int) error {
	return ErrUnsupported
}

func (s *Session) GetUsers(ctx context.Context) ([]types.DeviceUser, error) {
	return nil, nil
}

func (s *Session) GetTemplateBytes(ctx context.Context, userIDString string, fingerIndex int) ([]byte, error) {
	return nil, ErrUnsupported
}

func (s *Session) DeleteUserTemplate(ctx context.Context, deviceUID int, userIDString string, fingerIndex int) error {
	return ErrUnsupported
}

func (s *Session) StartEnrollment(ctx context.Context, userIDString string, fingerIndex int) error {
	return ErrUnsupported
}

func (s *Session) CancelCapture(ctx context.Context) {}

func (s *Session) RegisterEvents(ctx context.Context, flagMask uint32) error {
	return ErrUnsupported
}

func (s *Session) RecvEvent(ctx context.Context, timeout time.Duration) (device.Event, error) {
	return device.Event{}, ErrUnsupported
}

func (s *Session) GetEnrolledFingerIndices(ctx context.Context, userIDString string) ([]int, error) {
	return nil, nil
}
