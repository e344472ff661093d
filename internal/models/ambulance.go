package models

import (
	"time"

	"github.com/google/uuid"
)

type AmbulanceStatus string

const (
	AmbulanceAvailable  AmbulanceStatus = "AVAILABLE"
	AmbulanceDispatched AmbulanceStatus = "DISPATCHED"
	AmbulanceEnRoute    AmbulanceStatus = "EN_ROUTE"
	AmbulanceOnScene    AmbulanceStatus = "ON_SCENE"
	AmbulanceReturning  AmbulanceStatus = "RETURNING"
)

// LatLng is a WGS84 coordinate in decimal degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Ambulance struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	CallSign          string          `json:"callSign" db:"call_sign"`
	VehicleType       string          `json:"vehicleType" db:"vehicle_type"`
	Status            AmbulanceStatus `json:"status" db:"status"`
	Position          LatLng          `json:"position"`
	HomeBase          LatLng          `json:"homeBase"`
	Heading           float64         `json:"heading" db:"heading"`
	SpeedKmh          float64         `json:"speed" db:"speed_kmh"`
	CurrentDispatchID *uuid.UUID      `json:"currentDispatchId,omitempty" db:"current_dispatch_id"`
	UpdatedAt         time.Time       `json:"updatedAt" db:"updated_at"`
}

// IsAvailable reports whether the ambulance can take a new dispatch.
func (a *Ambulance) IsAvailable() bool {
	return a.Status == AmbulanceAvailable && a.CurrentDispatchID == nil
}

// LocationRecord is one persisted point of an ambulance track.
type LocationRecord struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	AmbulanceID uuid.UUID  `json:"ambulanceId" db:"ambulance_id"`
	DispatchID  *uuid.UUID `json:"dispatchId,omitempty" db:"dispatch_id"`
	Position    LatLng     `json:"position"`
	Heading     float64    `json:"heading" db:"heading"`
	SpeedKmh    float64    `json:"speed" db:"speed_kmh"`
	RecordedAt  time.Time  `json:"recordedAt" db:"recorded_at"`
}
