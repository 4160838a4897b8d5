// Package poll runs the periodic refresh jobs that keep the device registry
// synchronized with the cloud. Each updatable top-level device owns at most
// one job, shared by reference-counted requesters (the device itself plus
// any of its modules).
package poll

import (
	"context"
	"sync"
	"time"

	"github.com/tim-hellhake/netatmo-weather-adapter/internal/devices"
	"github.com/tim-hellhake/netatmo-weather-adapter/internal/netatmo"
	"go.uber.org/zap"
)

// DefaultInterval is the fixed refresh interval for polling jobs
const DefaultInterval = 5 * time.Minute

// Fetcher fetches the remote device graph for a single device
type Fetcher interface {
	GetStations(ctx context.Context, deviceID string) ([]netatmo.Device, error)
	GetHealthCoaches(ctx context.Context, deviceID string) ([]netatmo.Device, error)
}

// Reconciler feeds freshly fetched devices back into the registry
type Reconciler interface {
	Reconcile(devices []netatmo.Device)
}

type job struct {
	cancel context.CancelFunc
	refs   map[string]struct{}
}

// Scheduler runs one periodic refresh job per updatable device. A job exists
// exactly while its reference set is non-empty; it is torn down the instant
// the last requester releases it.
type Scheduler struct {
	ctx      context.Context
	wg       *sync.WaitGroup
	registry devices.Registry
	fetcher  Fetcher
	interval time.Duration
	logger   *zap.SugaredLogger

	mu         sync.Mutex
	reconciler Reconciler
	jobs       map[string]*job
}

// NewScheduler creates a scheduler. An interval of 0 selects the default
// 5-minute refresh interval.
func NewScheduler(ctx context.Context, wg *sync.WaitGroup, registry devices.Registry, fetcher Fetcher, interval time.Duration, logger *zap.SugaredLogger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		ctx:      ctx,
		wg:       wg,
		registry: registry,
		fetcher:  fetcher,
		interval: interval,
		logger:   logger,
		jobs:     make(map[string]*job),
	}
}

// SetReconciler wires the synchronization engine receiving the poll results.
// Kept separate from construction because the engine in turn references the
// scheduler for poll starts.
func (s *Scheduler) SetReconciler(r Reconciler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconciler = r
}

// Start adds a polling reference for the device. Self-updating devices own
// the job; modules delegate to their owning top-level device with the same
// requester id, so a module and its station share one timer without
// double-starting it.
func (s *Scheduler) Start(device *devices.Device, requesterID string) {
	if !netatmo.IsSelfUpdatingType(device.Type) {
		parent := s.registry.GetDevice(device.ParentID)
		if parent == nil {
			s.logger.Warnf("Cannot start polling for [%s]: parent [%s] not in registry", device.ID, device.ParentID)
			return
		}
		s.Start(parent, requesterID)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, running := s.jobs[device.ID]
	if !running {
		jobCtx, cancel := context.WithCancel(s.ctx)
		j = &job{
			cancel: cancel,
			refs:   make(map[string]struct{}),
		}
		s.jobs[device.ID] = j

		s.wg.Add(1)
		go s.run(jobCtx, device.ID, device.Type)
		s.logger.Infof("Started polling job for device [%s]", device.ID)
	}
	j.refs[requesterID] = struct{}{}
}

// Stop releases a polling reference. The job is cancelled the moment its
// reference set becomes empty.
func (s *Scheduler) Stop(device *devices.Device, requesterID string) {
	if !netatmo.IsSelfUpdatingType(device.Type) {
		parent := s.registry.GetDevice(device.ParentID)
		if parent == nil {
			return
		}
		s.Stop(parent, requesterID)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, running := s.jobs[device.ID]
	if !running {
		return
	}
	delete(j.refs, requesterID)
	if len(j.refs) == 0 {
		j.cancel()
		delete(s.jobs, device.ID)
		s.logger.Infof("Stopped polling job for device [%s]", device.ID)
	}
}

// Active reports whether a polling job is running for the device id
func (s *Scheduler) Active(deviceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, running := s.jobs[deviceID]
	return running
}

// Requesters returns the number of references holding the device's job alive
func (s *Scheduler) Requesters(deviceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, running := s.jobs[deviceID]
	if !running {
		return 0
	}
	return len(j.refs)
}

// run is the per-device refresh loop. Fetches happen inline, so a tick that
// arrives while a fetch is still in flight is dropped rather than stacked.
func (s *Scheduler) run(ctx context.Context, deviceID, deviceType string) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx, deviceID, deviceType)
		}
	}
}

// refresh fetches the device graph for this device alone and reconciles it
func (s *Scheduler) refresh(ctx context.Context, deviceID, deviceType string) {
	var remote []netatmo.Device
	var err error

	switch deviceType {
	case netatmo.TypeHealthCoach:
		remote, err = s.fetcher.GetHealthCoaches(ctx, deviceID)
	default:
		remote, err = s.fetcher.GetStations(ctx, deviceID)
	}
	if err != nil {
		s.logger.Warnf("Poll fetch for device [%s] failed: %v", deviceID, err)
		return
	}
	if len(remote) == 0 {
		return
	}

	s.mu.Lock()
	reconciler := s.reconciler
	s.mu.Unlock()

	if reconciler != nil {
		reconciler.Reconcile(remote)
	}
}
