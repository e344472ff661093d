package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rescuelink/backend/internal/models"
)

var (
	ErrNoAmbulancesAvailable = errors.New("no ambulances available")
	ErrDispatchNotFound      = errors.New("dispatch not found")
	ErrAmbulanceNotFound     = errors.New("ambulance not found")
	ErrInvalidTransition     = errors.New("invalid dispatch transition")
	ErrNotOwner              = errors.New("ambulance simulated by another instance")
	ErrStopped               = errors.New("simulator stopped")
)

// AmbulanceRepository persists vehicles and their location history.
type AmbulanceRepository interface {
	// FindAvailable lists AVAILABLE ambulances, optionally of one vehicle type.
	FindAvailable(ctx context.Context, vehicleType string) ([]*models.Ambulance, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Ambulance, error)
	Update(ctx context.Context, a *models.Ambulance) error
	CreateLocationRecord(ctx context.Context, rec *models.LocationRecord) error
}

type DispatchRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dispatch, error)
	Update(ctx context.Context, d *models.Dispatch) error
}

type Publisher interface {
	PublishPayload(ctx context.Context, name string, payload interface{}) error
}

// Lease grants single-instance ownership of a vehicle's simulation.
type Lease interface {
	AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	RenewLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, key, owner string) error
}

// Options tunes the simulator.
type Options struct {
	TickInterval    time.Duration
	AssumedSpeedKmh float64
	OnSceneDuration time.Duration
	LeaseTTL        time.Duration
	TopPriorityType string
	InstanceID      string
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = 2 * time.Second
	}
	if o.AssumedSpeedKmh <= 0 {
		o.AssumedSpeedKmh = 50
	}
	if o.OnSceneDuration <= 0 {
		o.OnSceneDuration = 10 * time.Minute
	}
	if o.LeaseTTL <= o.TickInterval {
		o.LeaseTTL = 3 * o.TickInterval
	}
	if o.InstanceID == "" {
		o.InstanceID = uuid.NewString()
	}
	return o
}
