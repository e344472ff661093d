package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rescuelink/backend/internal/metrics"
	"github.com/rescuelink/backend/internal/models"
	"github.com/rescuelink/backend/internal/repository"
)

// simulation is one leg of movement for one ambulance.
type simulation struct {
	vehicle    models.Ambulance
	dispatchID uuid.UUID
	origin     models.LatLng
	dest       models.LatLng
	heading    float64
	startedAt  time.Time
	duration   time.Duration
	returning  bool

	stop     chan struct{}
	stopOnce sync.Once
}

func (s *simulation) cancel() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Simulator moves assigned ambulances toward their dispatch and back to base
// on a fixed tick, driving dispatch and vehicle status along the way.
type Simulator struct {
	ambulances AmbulanceRepository
	dispatches DispatchRepository
	publisher  Publisher
	lease      Lease
	logger     *zap.Logger
	metrics    *metrics.Metrics
	opts       Options
	now        func() time.Time

	assignMu sync.Mutex

	mu      sync.Mutex
	sims    map[uuid.UUID]*simulation
	pending map[uuid.UUID]*time.Timer
	stopped bool
	wg      sync.WaitGroup
}

// NewSimulator builds a simulator. lease may be nil, in which case this
// process assumes it is the only one simulating vehicles.
func NewSimulator(ambulances AmbulanceRepository, dispatches DispatchRepository, publisher Publisher, lease Lease, logger *zap.Logger, m *metrics.Metrics, opts Options) *Simulator {
	return &Simulator{
		ambulances: ambulances,
		dispatches: dispatches,
		publisher:  publisher,
		lease:      lease,
		logger:     logger.With(zap.String("component", "tracking")),
		metrics:    m,
		opts:       opts.withDefaults(),
		now:        time.Now,
		sims:       make(map[uuid.UUID]*simulation),
		pending:    make(map[uuid.UUID]*time.Timer),
	}
}

func leaseKey(ambulanceID uuid.UUID) string {
	return "sim:ambulance:" + ambulanceID.String()
}

// StartMovement begins a leg for the ambulance from its current position to
// dest. Any leg already running for the ambulance is cancelled first.
func (s *Simulator) StartMovement(ctx context.Context, ambulanceID, dispatchID uuid.UUID, dest models.LatLng, returning bool) error {
	vehicle, err := s.ambulances.GetByID(ctx, ambulanceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAmbulanceNotFound
		}
		return fmt.Errorf("load ambulance %s: %w", ambulanceID, err)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.cancelLocked(ambulanceID)
	s.mu.Unlock()

	if s.lease != nil {
		ok, err := s.lease.AcquireLease(ctx, leaseKey(ambulanceID), s.opts.InstanceID, s.opts.LeaseTTL)
		if err != nil {
			return fmt.Errorf("acquire simulation lease: %w", err)
		}
		if !ok {
			s.logger.Info("ambulance simulated elsewhere", zap.String("ambulance_id", ambulanceID.String()))
			return ErrNotOwner
		}
	}

	origin := vehicle.Position
	sim := &simulation{
		vehicle:    *vehicle,
		dispatchID: dispatchID,
		origin:     origin,
		dest:       dest,
		heading:    Bearing(origin, dest),
		startedAt:  s.now(),
		duration:   TravelDuration(HaversineKm(origin, dest), s.opts.AssumedSpeedKmh),
		returning:  returning,
		stop:       make(chan struct{}),
	}

	previous := vehicle.Status
	mark := s.markEnRoute
	if returning {
		mark = s.markReturning
	}
	if err := mark(ctx, sim); err != nil {
		s.releaseLease(ambulanceID)
		return err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		if returning {
			s.restoreStatus(ctx, sim, previous)
		}
		s.releaseLease(ambulanceID)
		return ErrStopped
	}
	s.cancelLocked(ambulanceID)
	s.sims[ambulanceID] = sim
	active := len(s.sims)
	s.wg.Add(1)
	s.mu.Unlock()

	s.metrics.SetSimulations(active)
	s.logger.Info("movement started",
		zap.String("ambulance_id", ambulanceID.String()),
		zap.String("dispatch_id", dispatchID.String()),
		zap.Bool("returning", returning),
		zap.Duration("duration", sim.duration))

	go s.run(sim)
	return nil
}

func (s *Simulator) markEnRoute(ctx context.Context, sim *simulation) error {
	d, err := s.dispatches.GetByID(ctx, sim.dispatchID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrDispatchNotFound
		}
		return err
	}
	if d.Status == models.DispatchDispatched {
		if err := d.Transition(models.DispatchEnRoute, s.now()); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
		}
		if err := s.dispatches.Update(ctx, d); err != nil {
			return fmt.Errorf("update dispatch: %w", err)
		}
		s.publishDispatchStatus(ctx, d)
	}

	sim.vehicle.Status = models.AmbulanceEnRoute
	sim.vehicle.CurrentDispatchID = &sim.dispatchID
	sim.vehicle.UpdatedAt = s.now()
	if err := s.ambulances.Update(ctx, &sim.vehicle); err != nil {
		return fmt.Errorf("update ambulance: %w", err)
	}
	s.publishAmbulanceStatus(ctx, &sim.vehicle)
	return nil
}

func (s *Simulator) markReturning(ctx context.Context, sim *simulation) error {
	sim.vehicle.Status = models.AmbulanceReturning
	sim.vehicle.UpdatedAt = s.now()
	if err := s.ambulances.Update(ctx, &sim.vehicle); err != nil {
		return fmt.Errorf("update ambulance: %w", err)
	}
	s.publishAmbulanceStatus(ctx, &sim.vehicle)
	return nil
}

// restoreStatus undoes markReturning for a leg that never started.
func (s *Simulator) restoreStatus(ctx context.Context, sim *simulation, status models.AmbulanceStatus) {
	sim.vehicle.Status = status
	sim.vehicle.UpdatedAt = s.now()
	if err := s.ambulances.Update(ctx, &sim.vehicle); err != nil {
		s.logger.Error("failed to restore ambulance status", zap.String("ambulance_id", sim.vehicle.ID.String()), zap.Error(err))
		return
	}
	s.publishAmbulanceStatus(ctx, &sim.vehicle)
}

func (s *Simulator) run(sim *simulation) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sim.stop:
			return
		case <-ticker.C:
			if s.step(context.Background(), sim) {
				return
			}
		}
	}
}

// step advances sim by one tick and reports whether the leg is over.
func (s *Simulator) step(ctx context.Context, sim *simulation) bool {
	select {
	case <-sim.stop:
		return true
	default:
	}

	id := sim.vehicle.ID
	if s.lease != nil {
		ok, err := s.lease.RenewLease(ctx, leaseKey(id), s.opts.InstanceID, s.opts.LeaseTTL)
		if err != nil {
			s.logger.Warn("failed to renew simulation lease", zap.String("ambulance_id", id.String()), zap.Error(err))
		} else if !ok {
			s.logger.Warn("simulation lease lost, stopping local tick", zap.String("ambulance_id", id.String()))
			s.detach(sim)
			return true
		}
	}

	now := s.now()
	progress := 1.0
	if sim.duration > 0 {
		progress = float64(now.Sub(sim.startedAt)) / float64(sim.duration)
	}
	if progress > 1 {
		progress = 1
	}

	pos := Interpolate(sim.origin, sim.dest, progress)
	speed := s.opts.AssumedSpeedKmh
	if progress >= 1 {
		speed = 0
	}
	sim.vehicle.Position = pos
	sim.vehicle.Heading = sim.heading
	sim.vehicle.SpeedKmh = speed
	sim.vehicle.UpdatedAt = now

	if err := s.ambulances.Update(ctx, &sim.vehicle); err != nil {
		s.logger.Error("failed to persist position", zap.String("ambulance_id", id.String()), zap.Error(err))
	}
	dispatchID := sim.dispatchID
	if err := s.ambulances.CreateLocationRecord(ctx, &models.LocationRecord{
		ID:          uuid.New(),
		AmbulanceID: id,
		DispatchID:  &dispatchID,
		Position:    pos,
		Heading:     sim.heading,
		SpeedKmh:    speed,
		RecordedAt:  now,
	}); err != nil {
		s.logger.Error("failed to record location", zap.String("ambulance_id", id.String()), zap.Error(err))
	}
	s.publish(ctx, models.EventAmbulanceLocationUpdate, models.AmbulanceLocationPayload{
		AmbulanceID: id,
		DispatchID:  &dispatchID,
		Position:    pos,
		Heading:     sim.heading,
		SpeedKmh:    speed,
		Progress:    progress,
		Returning:   sim.returning,
	})

	if progress < 1 {
		return false
	}

	if !s.detach(sim) {
		return true
	}
	if sim.returning {
		s.complete(ctx, sim)
	} else {
		s.arrive(ctx, sim)
	}
	return true
}

// detach removes sim if it is still the ambulance's current leg.
func (s *Simulator) detach(sim *simulation) bool {
	s.mu.Lock()
	current, ok := s.sims[sim.vehicle.ID]
	if ok && current == sim {
		delete(s.sims, sim.vehicle.ID)
	}
	active := len(s.sims)
	s.mu.Unlock()

	sim.cancel()
	s.metrics.SetSimulations(active)
	return ok && current == sim
}

func (s *Simulator) arrive(ctx context.Context, sim *simulation) {
	now := s.now()
	if d, err := s.dispatches.GetByID(ctx, sim.dispatchID); err != nil {
		s.logger.Error("failed to load dispatch on arrival", zap.String("dispatch_id", sim.dispatchID.String()), zap.Error(err))
	} else if err := d.Transition(models.DispatchOnScene, now); err != nil {
		s.logger.Warn("dispatch not moved on scene", zap.String("dispatch_id", d.ID.String()), zap.Error(err))
	} else if err := s.dispatches.Update(ctx, d); err != nil {
		s.logger.Error("failed to update dispatch", zap.String("dispatch_id", d.ID.String()), zap.Error(err))
	} else {
		s.publishDispatchStatus(ctx, d)
	}

	sim.vehicle.Status = models.AmbulanceOnScene
	sim.vehicle.UpdatedAt = now
	if err := s.ambulances.Update(ctx, &sim.vehicle); err != nil {
		s.logger.Error("failed to update ambulance", zap.String("ambulance_id", sim.vehicle.ID.String()), zap.Error(err))
	}
	s.publishAmbulanceStatus(ctx, &sim.vehicle)

	s.logger.Info("ambulance on scene",
		zap.String("ambulance_id", sim.vehicle.ID.String()),
		zap.String("dispatch_id", sim.dispatchID.String()))

	ambulanceID, dispatchID := sim.vehicle.ID, sim.dispatchID
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if t, ok := s.pending[ambulanceID]; ok {
		t.Stop()
	}
	s.pending[ambulanceID] = time.AfterFunc(s.opts.OnSceneDuration, func() {
		s.mu.Lock()
		delete(s.pending, ambulanceID)
		s.mu.Unlock()
		if err := s.ReturnToBase(context.Background(), ambulanceID, dispatchID); err != nil {
			s.logger.Error("failed to start return leg", zap.String("ambulance_id", ambulanceID.String()), zap.Error(err))
		}
	})
}

// ReturnToBase sends the ambulance back to its home base. The vehicle is
// marked RETURNING only once the leg owns the vehicle.
func (s *Simulator) ReturnToBase(ctx context.Context, ambulanceID, dispatchID uuid.UUID) error {
	vehicle, err := s.ambulances.GetByID(ctx, ambulanceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAmbulanceNotFound
		}
		return err
	}
	return s.StartMovement(ctx, ambulanceID, dispatchID, vehicle.HomeBase, true)
}

func (s *Simulator) complete(ctx context.Context, sim *simulation) {
	now := s.now()
	if d, err := s.dispatches.GetByID(ctx, sim.dispatchID); err != nil {
		s.logger.Error("failed to load dispatch on return", zap.String("dispatch_id", sim.dispatchID.String()), zap.Error(err))
	} else if !d.IsTerminal() {
		if err := d.Transition(models.DispatchCompleted, now); err != nil {
			s.logger.Warn("dispatch not completed", zap.String("dispatch_id", d.ID.String()), zap.Error(err))
		} else if err := s.dispatches.Update(ctx, d); err != nil {
			s.logger.Error("failed to update dispatch", zap.String("dispatch_id", d.ID.String()), zap.Error(err))
		} else {
			s.publishDispatchStatus(ctx, d)
		}
	}

	sim.vehicle.Status = models.AmbulanceAvailable
	sim.vehicle.CurrentDispatchID = nil
	sim.vehicle.SpeedKmh = 0
	sim.vehicle.UpdatedAt = now
	if err := s.ambulances.Update(ctx, &sim.vehicle); err != nil {
		s.logger.Error("failed to update ambulance", zap.String("ambulance_id", sim.vehicle.ID.String()), zap.Error(err))
	}
	s.publishAmbulanceStatus(ctx, &sim.vehicle)
	s.releaseLease(sim.vehicle.ID)

	s.logger.Info("ambulance back at base", zap.String("ambulance_id", sim.vehicle.ID.String()))
}

// Stop cancels the ambulance's running leg and any pending return.
func (s *Simulator) Stop(ambulanceID uuid.UUID) {
	s.mu.Lock()
	s.cancelLocked(ambulanceID)
	active := len(s.sims)
	s.mu.Unlock()

	s.metrics.SetSimulations(active)
	s.releaseLease(ambulanceID)
}

// cancelLocked must be called with s.mu held.
func (s *Simulator) cancelLocked(ambulanceID uuid.UUID) {
	if sim, ok := s.sims[ambulanceID]; ok {
		sim.cancel()
		delete(s.sims, ambulanceID)
	}
	if t, ok := s.pending[ambulanceID]; ok {
		t.Stop()
		delete(s.pending, ambulanceID)
	}
}

// StopAll cancels every running leg and pending return and waits for tick
// goroutines to exit. The simulator accepts no new work afterwards.
func (s *Simulator) StopAll() {
	s.mu.Lock()
	s.stopped = true
	ids := make([]uuid.UUID, 0, len(s.sims))
	for id := range s.sims {
		ids = append(ids, id)
	}
	for id, t := range s.pending {
		t.Stop()
		delete(s.pending, id)
	}
	for _, id := range ids {
		s.cancelLocked(id)
	}
	s.mu.Unlock()

	s.wg.Wait()
	for _, id := range ids {
		s.releaseLease(id)
	}
	s.metrics.SetSimulations(0)
	s.logger.Info("all simulations stopped", zap.Int("cancelled", len(ids)))
}

// Active reports whether the ambulance has a running leg.
func (s *Simulator) Active(ambulanceID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sims[ambulanceID]
	return ok
}

func (s *Simulator) hasPendingReturn(ambulanceID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[ambulanceID]
	return ok
}

func (s *Simulator) releaseLease(ambulanceID uuid.UUID) {
	if s.lease == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.lease.ReleaseLease(ctx, leaseKey(ambulanceID), s.opts.InstanceID); err != nil {
		s.logger.Warn("failed to release simulation lease", zap.String("ambulance_id", ambulanceID.String()), zap.Error(err))
	}
}

func (s *Simulator) publishDispatchStatus(ctx context.Context, d *models.Dispatch) {
	s.publish(ctx, models.EventDispatchStatusChanged, models.DispatchStatusPayload{
		DispatchID:  d.ID,
		Reference:   d.Reference,
		Status:      d.Status,
		AmbulanceID: d.AmbulanceID,
	})
}

func (s *Simulator) publishAmbulanceStatus(ctx context.Context, a *models.Ambulance) {
	s.publish(ctx, models.EventAmbulanceStatusChanged, models.AmbulanceStatusPayload{
		AmbulanceID: a.ID,
		DispatchID:  a.CurrentDispatchID,
		Status:      a.Status,
	})
}

func (s *Simulator) publish(ctx context.Context, name string, payload interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishPayload(ctx, name, payload); err != nil {
		s.logger.Warn("failed to publish tracking event", zap.String("event_name", name), zap.Error(err))
	}
}
