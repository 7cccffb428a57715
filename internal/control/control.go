// Package control runs the three fleet-wide periodic loops — health
// probe, info sync, attendance poll — each resilient to per-device
// failure and each shut down with a cancellable ticker that waits for its
// in-flight round to finish. A round runs synchronously inside the select
// loop, so Stop never interrupts one partway through.
package control

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"school-attendance-bridge/internal/broadcast"
	"school-attendance-bridge/internal/ingestion"
	"school-attendance-bridge/internal/logging"
	"school-attendance-bridge/internal/pool"
	"school-attendance-bridge/internal/repository"
	"school-attendance-bridge/internal/types"
)

// Config holds the three loops' cadence and the attendance poll's
// concurrency width.
type Config struct {
	HealthInterval        time.Duration
	InfoSyncInterval      time.Duration
	AttendancePollInterval time.Duration
	AttendanceConcurrency int
}

// Runner owns the three control loops and the shared dependencies they
// drive: the session pool, the repositories, the broadcast hub and the
// ingestion pipeline.
type Runner struct {
	cfg      Config
	repos    repository.Repositories
	pool     *pool.Pool
	hub      *broadcast.Hub
	pipeline *ingestion.Pipeline
	log      *logrus.Entry

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New builds a Runner. Call Start to launch the three loops and Stop to
// shut them down.
func New(cfg Config, repos repository.Repositories, p *pool.Pool, hub *broadcast.Hub, pipeline *ingestion.Pipeline, log *logrus.Entry) *Runner {
	return &Runner{
		cfg:      cfg,
		repos:    repos,
		pool:     p,
		hub:      hub,
		pipeline: pipeline,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the three loops as background goroutines.
func (r *Runner) Start(ctx context.Context) {
	r.wg.Add(3)
	go r.loop(ctx, "health-probe", r.cfg.HealthInterval, r.healthProbeRound)
	go r.loop(ctx, "info-sync", r.cfg.InfoSyncInterval, r.infoSyncRound)
	go r.loop(ctx, "attendance-poll", r.cfg.AttendancePollInterval, r.attendancePollRound)
}

// Stop signals every loop to stop and waits for in-flight rounds to
// finish, bounded by ctx.
func (r *Runner) Stop(ctx context.Context) error {
	close(r.stopCh)
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loop is the shared ticker/shutdown shape every control loop uses: run
// once immediately, then on every tick, until stopCh or ctx is done. A
// round always finishes before the next select iteration observes a stop
// signal, since both run in this same goroutine.
func (r *Runner) loop(ctx context.Context, name string, interval time.Duration, round func(context.Context)) {
	defer r.wg.Done()

	log := r.log.WithField("loop", name)
	round(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("control loop stopped: context cancelled")
			return
		case <-r.stopCh:
			log.Info("control loop stopped")
			return
		case <-ticker.C:
			round(ctx)
		}
	}
}

func (r *Runner) healthProbeRound(ctx context.Context) {
	devices, err := r.repos.Devices.ListActive(ctx)
	if err != nil {
		r.log.WithError(err).Error("health probe: list active devices")
		logging.LogStorageError(r.log.Logger, err, "list_active_devices", true)
		return
	}

	for _, d := range devices {
		alive := r.probeOne(ctx, d)

		status := types.DeviceStatusOffline
		lastSeen := d.LastSeen
		if alive {
			status = types.DeviceStatusOnline
			now := time.Now().UTC()
			lastSeen = &now
		}

		if err := r.repos.Devices.UpdateStatus(ctx, d.ID, status, lastSeen); err != nil {
			r.log.WithError(err).WithField("device_id", d.ID).Error("health probe: update status")
			logging.LogStorageError(r.log.Logger, err, "update_device_status", true)
			continue
		}

		if r.hub != nil {
			r.hub.Publish(broadcast.ChannelDeviceStatus, d.TenantID, broadcast.DeviceStatusEvent{
				Type:      "device_status_update",
				DeviceID:  d.ID,
				Status:    string(status),
				LastSeen:  lastSeen,
				Timestamp: time.Now().UTC(),
			})
		}
	}
}

func (r *Runner) probeOne(ctx context.Context, d types.Device) bool {
	session, release, err := r.pool.Acquire(ctx, d)
	if err != nil {
		r.log.WithError(err).WithField("device_id", d.ID).Debug("health probe: acquire failed")
		logging.LogHardwareError(r.log.Logger, err, d.ID, "health_probe_acquire", true)
		return false
	}
	alive := session.TestLiveness(ctx)
	r.pool.Release(d.ID, alive)
	release()
	return alive
}

func (r *Runner) infoSyncRound(ctx context.Context) {
	devices, err := r.repos.Devices.ListActive(ctx)
	if err != nil {
		r.log.WithError(err).Error("info sync: list active devices")
		logging.LogStorageError(r.log.Logger, err, "list_active_devices", true)
		return
	}

	for _, d := range devices {
		if d.Status != types.DeviceStatusOnline {
			continue
		}
		r.syncOne(ctx, d)
	}
}

func (r *Runner) syncOne(ctx context.Context, d types.Device) {
	log := r.log.WithField("device_id", d.ID)

	session, release, err := r.pool.Acquire(ctx, d)
	if err != nil {
		log.WithError(err).Debug("info sync: acquire failed")
		logging.LogHardwareError(r.log.Logger, err, d.ID, "info_sync_acquire", true)
		return
	}
	defer release()

	serial, err := session.GetSerial(ctx)
	if err != nil {
		log.WithError(err).Debug("info sync: get serial failed")
	}
	name, err := session.GetDeviceName(ctx)
	if err != nil {
		log.WithError(err).Debug("info sync: get device name failed")
	}
	firmware, err := session.GetFirmware(ctx)
	if err != nil {
		log.WithError(err).Debug("info sync: get firmware failed")
	}
	deviceTime, err := session.GetTime(ctx)
	if err != nil {
		log.WithError(err).Debug("info sync: get time failed")
	}
	free, err := session.GetFreeSizes(ctx)
	if err != nil {
		log.WithError(err).Debug("info sync: get free sizes failed")
		return
	}

	if free.UsersCap > 0 {
		if err := r.repos.Devices.UpdateCapacity(ctx, d.ID, free.UsersCap, free.Users); err != nil {
			log.WithError(err).Error("info sync: update capacity")
			logging.LogStorageError(r.log.Logger, err, "update_device_capacity", true)
		}
	}

	if r.hub == nil {
		return
	}
	r.hub.Publish(broadcast.ChannelDeviceInfo, d.TenantID, broadcast.DeviceInfoEvent{
		Type:     "device_info_update",
		DeviceID: d.ID,
		Info: map[string]any{
			"serial":      serial,
			"name":        name,
			"firmware":    firmware,
			"device_time": deviceTime,
			"capacity": map[string]any{
				"max_users":        free.UsersCap,
				"users_enrolled":   free.Users,
				"fingers_enrolled": free.Fingers,
				"records_used":     free.Records,
				"fingers_capacity": free.FingersCap,
				"records_capacity": free.RecCap,
			},
		},
		Timestamp: time.Now().UTC(),
	})
}

func (r *Runner) attendancePollRound(ctx context.Context) {
	devices, err := r.repos.Devices.ListActive(ctx)
	if err != nil {
		r.log.WithError(err).Error("attendance poll: list active devices")
		logging.LogStorageError(r.log.Logger, err, "list_active_devices", true)
		return
	}

	width := r.cfg.AttendanceConcurrency
	if width <= 0 {
		width = 1
	}
	sem := make(chan struct{}, width)

	var wg sync.WaitGroup
	for _, d := range devices {
		if d.Status != types.DeviceStatusOnline {
			continue
		}
		d := d
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			r.pollOne(ctx, d)
		}()
	}
	wg.Wait()
}

func (r *Runner) pollOne(ctx context.Context, d types.Device) {
	log := r.log.WithField("device_id", d.ID)

	session, release, err := r.pool.Acquire(ctx, d)
	if err != nil {
		log.WithError(err).Debug("attendance poll: acquire failed")
		logging.LogHardwareError(r.log.Logger, err, d.ID, "attendance_poll_acquire", true)
		return
	}
	defer release()

	result, err := r.pipeline.Run(ctx, d, session)
	if err != nil {
		log.WithError(err).Error("attendance poll: pipeline run failed")
		logging.LogStorageError(r.log.Logger, err, "attendance_pipeline_run", true)
		return
	}
	if result.Total > 0 {
		log.WithFields(logrus.Fields{
			"inserted": result.Inserted, "skipped": result.Skipped,
			"duplicates": result.DuplicatesFiltered, "total": result.Total,
		}).Info("attendance poll: round complete")
	}
}
