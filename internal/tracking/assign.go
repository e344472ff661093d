package tracking

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rescuelink/backend/internal/models"
	"github.com/rescuelink/backend/internal/repository"
)

// Assignment is the outcome of a nearest-vehicle search.
type Assignment struct {
	DispatchID  uuid.UUID `json:"dispatchId"`
	AmbulanceID uuid.UUID `json:"ambulanceId"`
	CallSign    string    `json:"callSign"`
	DistanceKm  float64   `json:"distanceKm"`
	ETAMinutes  int       `json:"etaMinutes"`
}

// Nearest returns the candidate closest to point. Ties keep the first found.
func Nearest(point models.LatLng, candidates []*models.Ambulance) (*models.Ambulance, float64, bool) {
	var best *models.Ambulance
	bestDist := 0.0
	for _, a := range candidates {
		if a == nil || !a.IsAvailable() {
			continue
		}
		d := HaversineKm(point, a.Position)
		if best == nil || d < bestDist {
			best, bestDist = a, d
		}
	}
	return best, bestDist, best != nil
}

// AssignNearest picks the nearest available ambulance for a pending dispatch,
// persists the assignment, and announces it. Top priority dispatches only
// accept the configured vehicle type.
func (s *Simulator) AssignNearest(ctx context.Context, dispatchID uuid.UUID) (*Assignment, error) {
	s.assignMu.Lock()
	defer s.assignMu.Unlock()

	d, err := s.dispatches.GetByID(ctx, dispatchID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDispatchNotFound
		}
		return nil, fmt.Errorf("load dispatch: %w", err)
	}
	if !d.CanTransition(models.DispatchDispatched) {
		return nil, fmt.Errorf("%w: dispatch %s is %s", ErrInvalidTransition, d.ID, d.Status)
	}

	vehicleType := ""
	if d.Priority == models.TopPriority {
		vehicleType = s.opts.TopPriorityType
	}

	candidates, err := s.ambulances.FindAvailable(ctx, vehicleType)
	if err != nil {
		return nil, fmt.Errorf("find available ambulances: %w", err)
	}
	if vehicleType != "" {
		candidates = filterType(candidates, vehicleType)
	}

	ambulance, distance, ok := Nearest(d.Location, candidates)
	if !ok {
		s.metrics.Assignment("none_available")
		s.logger.Warn("no ambulance available",
			zap.String("dispatch_id", d.ID.String()),
			zap.Int("priority", d.Priority),
			zap.String("vehicle_type", vehicleType))
		return nil, ErrNoAmbulancesAvailable
	}

	eta := ETAMinutes(distance, s.opts.AssumedSpeedKmh)
	now := s.now()

	if err := d.Transition(models.DispatchDispatched, now); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	d.AmbulanceID = &ambulance.ID
	d.ETAMinutes = &eta
	if err := s.dispatches.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("update dispatch: %w", err)
	}

	ambulance.Status = models.AmbulanceDispatched
	ambulance.CurrentDispatchID = &d.ID
	ambulance.UpdatedAt = now
	if err := s.ambulances.Update(ctx, ambulance); err != nil {
		return nil, fmt.Errorf("update ambulance: %w", err)
	}

	s.metrics.Assignment("assigned")
	s.logger.Info("ambulance assigned",
		zap.String("dispatch_id", d.ID.String()),
		zap.String("ambulance_id", ambulance.ID.String()),
		zap.Float64("distance_km", distance),
		zap.Int("eta_minutes", eta))

	assignment := &Assignment{
		DispatchID:  d.ID,
		AmbulanceID: ambulance.ID,
		CallSign:    ambulance.CallSign,
		DistanceKm:  distance,
		ETAMinutes:  eta,
	}
	s.publish(ctx, models.EventAmbulanceAssigned, models.AmbulanceAssignedPayload(*assignment))
	s.publishDispatchStatus(ctx, d)
	s.publishAmbulanceStatus(ctx, ambulance)

	return assignment, nil
}

// Dispatch assigns the nearest ambulance and starts driving it to the scene.
func (s *Simulator) Dispatch(ctx context.Context, dispatchID uuid.UUID) (*Assignment, error) {
	assignment, err := s.AssignNearest(ctx, dispatchID)
	if err != nil {
		return nil, err
	}

	err = s.startAssigned(ctx, assignment)
	if err == nil || errors.Is(err, ErrNotOwner) {
		return assignment, nil
	}
	s.revertAssignment(context.WithoutCancel(ctx), assignment)
	return nil, fmt.Errorf("start movement: %w", err)
}

func (s *Simulator) startAssigned(ctx context.Context, a *Assignment) error {
	d, err := s.dispatches.GetByID(ctx, a.DispatchID)
	if err != nil {
		return fmt.Errorf("reload dispatch: %w", err)
	}
	return s.StartMovement(ctx, a.AmbulanceID, a.DispatchID, d.Location, false)
}

// revertAssignment puts the dispatch back to PENDING and frees the vehicle
// when its movement could not start. Records already moved on by someone
// else are left alone.
func (s *Simulator) revertAssignment(ctx context.Context, a *Assignment) {
	now := s.now()

	if d, err := s.dispatches.GetByID(ctx, a.DispatchID); err != nil {
		s.logger.Error("failed to load dispatch for revert", zap.String("dispatch_id", a.DispatchID.String()), zap.Error(err))
	} else if !d.IsTerminal() && d.AmbulanceID != nil && *d.AmbulanceID == a.AmbulanceID {
		d.Status = models.DispatchPending
		d.AmbulanceID = nil
		d.ETAMinutes = nil
		d.DispatchedAt = nil
		if err := s.dispatches.Update(ctx, d); err != nil {
			s.logger.Error("failed to revert dispatch", zap.String("dispatch_id", d.ID.String()), zap.Error(err))
		} else {
			s.publishDispatchStatus(ctx, d)
		}
	}

	if v, err := s.ambulances.GetByID(ctx, a.AmbulanceID); err != nil {
		s.logger.Error("failed to load ambulance for revert", zap.String("ambulance_id", a.AmbulanceID.String()), zap.Error(err))
	} else if v.CurrentDispatchID != nil && *v.CurrentDispatchID == a.DispatchID {
		v.Status = models.AmbulanceAvailable
		v.CurrentDispatchID = nil
		v.SpeedKmh = 0
		v.UpdatedAt = now
		if err := s.ambulances.Update(ctx, v); err != nil {
			s.logger.Error("failed to free ambulance", zap.String("ambulance_id", v.ID.String()), zap.Error(err))
		} else {
			s.publishAmbulanceStatus(ctx, v)
		}
	}

	s.metrics.Assignment("reverted")
	s.logger.Warn("assignment reverted",
		zap.String("dispatch_id", a.DispatchID.String()),
		zap.String("ambulance_id", a.AmbulanceID.String()))
}

// Cancel marks the dispatch cancelled and sends its ambulance, if any, back
// to base.
func (s *Simulator) Cancel(ctx context.Context, dispatchID uuid.UUID) (*models.Dispatch, error) {
	d, err := s.dispatches.GetByID(ctx, dispatchID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDispatchNotFound
		}
		return nil, fmt.Errorf("load dispatch: %w", err)
	}
	if err := d.Transition(models.DispatchCancelled, s.now()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	if err := s.dispatches.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("update dispatch: %w", err)
	}
	s.publishDispatchStatus(ctx, d)
	s.logger.Info("dispatch cancelled", zap.String("dispatch_id", d.ID.String()))

	if d.AmbulanceID != nil {
		s.Stop(*d.AmbulanceID)
		if err := s.ReturnToBase(ctx, *d.AmbulanceID, d.ID); err != nil && !errors.Is(err, ErrNotOwner) {
			return d, fmt.Errorf("return ambulance to base: %w", err)
		}
	}
	return d, nil
}

func filterType(in []*models.Ambulance, vehicleType string) []*models.Ambulance {
	out := in[:0:0]
	for _, a := range in {
		if a.VehicleType == vehicleType {
			out = append(out, a)
		}
	}
	return out
}
