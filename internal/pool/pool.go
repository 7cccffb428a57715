// Package pool maps device ids to live device sessions, guaranteeing that
// at most one session per device exists at a time and reusing a session
// only while its last liveness check is fresh.
package pool

import (
	"context"
	"sync"
	"time"

	"school-attendance-bridge/internal/device"
	"school-attendance-bridge/internal/logging"
	"school-attendance-bridge/internal/types"

	"github.com/sirupsen/logrus"
)

const defaultLivenessWindow = 30 * time.Second

// Session is the slice of internal/device.Session the pool, the control
// loops and the ingress layer need. Kept as an interface so simulation_mode
// can stand in a socket-free stub without the rest of the system knowing
// the difference.
type Session interface {
	Connect(ctx context.Context) error
	Disconnect()
	TestLiveness(ctx context.Context) bool
	GetSerial(ctx context.Context) (string, error)
	GetDeviceName(ctx context.Context) (string, error)
	GetFirmware(ctx context.Context) (string, error)
	GetTime(ctx context.Context) (string, error)
	GetFreeSizes(ctx context.Context) (types.FreeSizes, error)
	FetchAttendanceLogs(ctx context.Context) ([]types.RawAttendanceLog, error)
	SetUser(ctx context.Context, deviceUID int, userIDString, displayName string, privilege int) error
	GetUsers(ctx context.Context) ([]types.DeviceUser, error)
	GetTemplateBytes(ctx context.Context, userIDString string, fingerIndex int) ([]byte, error)
	DeleteUserTemplate(ctx context.Context, deviceUID int, userIDString string, fingerIndex int) error
	StartEnrollment(ctx context.Context, userIDString string, fingerIndex int) error
	CancelCapture(ctx context.Context)
	RegisterEvents(ctx context.Context, flagMask uint32) error
	RecvEvent(ctx context.Context, timeout time.Duration) (device.Event, error)
	GetEnrolledFingerIndices(ctx context.Context, userIDString string) ([]int, error)
}

// Factory builds an unconnected Session for d. The default factory passed
// by New wraps internal/device.New; simulation_mode swaps in
// internal/simulator.New instead.
type Factory func(d types.Device, opTimeout time.Duration, log *logrus.Entry) Session

type entry struct {
	// use serializes callers of the session itself: a session is handed to
	// at most one caller at a time, from Acquire until its release func
	// runs. mu guards only the bookkeeping fields and is never held across
	// device I/O. Lock ordering is use before mu.
	use          sync.Mutex
	mu           sync.Mutex
	session      Session
	lastLiveness time.Time
}

// Pool is safe for concurrent use; concurrent Acquire calls for the same
// device serialize on that device's entry lock.
type Pool struct {
	mu             sync.Mutex
	entries        map[string]*entry
	livenessWindow time.Duration
	opTimeout      time.Duration
	log            *logrus.Logger
	newSession     Factory
}

// New builds an empty pool backed by real internal/device.Session
// connections. opTimeout is the per-operation socket timeout handed to
// every Session this pool creates.
func New(opTimeout time.Duration, log *logrus.Logger) *Pool {
	return NewWithFactory(opTimeout, log, func(d types.Device, opTimeout time.Duration, log *logrus.Entry) Session {
		return device.New(d, opTimeout, log)
	})
}

// NewWithFactory builds an empty pool backed by whatever Factory the
// caller supplies — used to wire simulation_mode's stub sessions in place
// of real sockets.
func NewWithFactory(opTimeout time.Duration, log *logrus.Logger, factory Factory) *Pool {
	return &Pool{
		entries:        make(map[string]*entry),
		livenessWindow: defaultLivenessWindow,
		opTimeout:      opTimeout,
		log:            log,
		newSession:     factory,
	}
}

func (p *Pool) entryFor(deviceID string) *entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[deviceID]
	if !ok {
		e = &entry{}
		p.entries[deviceID] = e
	}
	return e
}

// Acquire returns a live session for d. The existing session is reused as
// is if its last liveness check succeeded within the liveness window; past
// the window it is probed with TestLiveness and reused if alive, otherwise
// torn down and replaced by exactly one fresh connect. The session is held
// exclusively by the caller until the returned release func runs; every
// Acquire must be paired with exactly one release call.
func (p *Pool) Acquire(ctx context.Context, d types.Device) (Session, func(), error) {
	e := p.entryFor(d.ID)
	e.use.Lock()
	release := func() { e.use.Unlock() }

	s, err := p.sessionFor(ctx, e, d)
	if err != nil {
		release()
		return nil, nil, err
	}
	return s, release, nil
}

func (p *Pool) sessionFor(ctx context.Context, e *entry, d types.Device) (Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != nil {
		if time.Since(e.lastLiveness) < p.livenessWindow {
			return e.session, nil
		}
		if e.session.TestLiveness(ctx) {
			e.lastLiveness = time.Now()
			return e.session, nil
		}
		e.session.Disconnect()
		e.session = nil
	}

	log := logging.NewDeviceLogger(p.log, d.TenantID, d.ID)
	s := p.newSession(d, p.opTimeout, log)
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	e.session = s
	e.lastLiveness = time.Now()
	return s, nil
}

// Release records a caller-observed liveness result: a passed check
// avoids a redundant probe on the very next Acquire, a failed one tears
// the session down. Callers that perform their own test_liveness (the
// health-probe loop) call this before running their Acquire release func.
func (p *Pool) Release(deviceID string, alive bool) {
	e := p.entryFor(deviceID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !alive && e.session != nil {
		e.session.Disconnect()
		e.session = nil
		return
	}
	if alive {
		e.lastLiveness = time.Now()
	}
}

// CloseAll disconnects every pooled session, for use during shutdown.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	entries := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		if e.session != nil {
			e.session.Disconnect()
			e.session = nil
		}
		e.mu.Unlock()
	}
}
