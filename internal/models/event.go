package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Domain event names
const (
	EventCallStarted             = "call.started"
	EventCallQueued              = "call.queued"
	EventCallEnded               = "call.ended"
	EventOperatorStatusChanged   = "operator.status_changed"
	EventDispatchCreated         = "dispatch.created"
	EventDispatchStatusChanged   = "dispatch.status_changed"
	EventAmbulanceAssigned       = "ambulance.assigned"
	EventAmbulanceLocationUpdate = "ambulance.location_updated"
	EventAmbulanceStatusChanged  = "ambulance.status_changed"
	EventSystemNotice            = "system.notice"
)

// DomainEvent is an immutable record of something that happened. The payload
// is kept as raw JSON so it survives the broker round trip unchanged.
type DomainEvent struct {
	ID            uuid.UUID       `json:"id"`
	Name          string          `json:"eventName"`
	OccurredAt    time.Time       `json:"occurredAt"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewDomainEvent stamps a new event with a fresh id and the current time.
func NewDomainEvent(name string, payload interface{}) (DomainEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return DomainEvent{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return DomainEvent{
		ID:         uuid.New(),
		Name:       name,
		OccurredAt: time.Now().UTC(),
		Payload:    data,
	}, nil
}

// WithCorrelation returns a copy of the event carrying the given correlation id.
func (e DomainEvent) WithCorrelation(id string) DomainEvent {
	e.CorrelationID = id
	return e
}

// Decode unmarshals the payload into v.
func (e DomainEvent) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has no payload", e.Name)
	}
	return json.Unmarshal(e.Payload, v)
}

// DispatchID returns the dispatch id carried by the payload, if any.
func (e DomainEvent) DispatchID() (string, bool) {
	var ref struct {
		DispatchID *uuid.UUID `json:"dispatchId"`
	}
	if err := json.Unmarshal(e.Payload, &ref); err != nil || ref.DispatchID == nil || *ref.DispatchID == uuid.Nil {
		return "", false
	}
	return ref.DispatchID.String(), true
}

// Event payloads

type CallLifecyclePayload struct {
	CallSID   string                 `json:"callSid"`
	StreamSID string                 `json:"streamSid,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	At        time.Time              `json:"at"`
}

type OperatorStatusPayload struct {
	OperatorID string `json:"operatorId"`
	Status     string `json:"status"`
	CallSID    string `json:"callSid,omitempty"`
}

type DispatchStatusPayload struct {
	DispatchID  uuid.UUID      `json:"dispatchId"`
	Reference   string         `json:"reference"`
	Status      DispatchStatus `json:"status"`
	AmbulanceID *uuid.UUID     `json:"ambulanceId,omitempty"`
}

type AmbulanceAssignedPayload struct {
	DispatchID  uuid.UUID `json:"dispatchId"`
	AmbulanceID uuid.UUID `json:"ambulanceId"`
	CallSign    string    `json:"callSign"`
	DistanceKm  float64   `json:"distanceKm"`
	ETAMinutes  int       `json:"etaMinutes"`
}

type AmbulanceLocationPayload struct {
	AmbulanceID uuid.UUID  `json:"ambulanceId"`
	DispatchID  *uuid.UUID `json:"dispatchId,omitempty"`
	Position    LatLng     `json:"position"`
	Heading     float64    `json:"heading"`
	SpeedKmh    float64    `json:"speed"`
	Progress    float64    `json:"progress"`
	Returning   bool       `json:"returning"`
}

type AmbulanceStatusPayload struct {
	AmbulanceID uuid.UUID       `json:"ambulanceId"`
	DispatchID  *uuid.UUID      `json:"dispatchId,omitempty"`
	Status      AmbulanceStatus `json:"status"`
}

type SystemNoticePayload struct {
	Message string `json:"message"`
}
