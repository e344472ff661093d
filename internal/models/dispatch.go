package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type DispatchStatus string

const (
	DispatchPending    DispatchStatus = "PENDING"
	DispatchDispatched DispatchStatus = "DISPATCHED"
	DispatchEnRoute    DispatchStatus = "EN_ROUTE"
	DispatchOnScene    DispatchStatus = "ON_SCENE"
	DispatchCompleted  DispatchStatus = "COMPLETED"
	DispatchCancelled  DispatchStatus = "CANCELLED"
)

// TopPriority is the most urgent dispatch priority.
const TopPriority = 1

type Dispatch struct {
	ID           uuid.UUID      `json:"id" db:"id"`
	Reference    string         `json:"dispatchId" db:"reference"`
	Priority     int            `json:"priority" db:"priority"`
	Status       DispatchStatus `json:"status" db:"status"`
	Location     LatLng         `json:"location"`
	AmbulanceID  *uuid.UUID     `json:"ambulanceId,omitempty" db:"ambulance_id"`
	ETAMinutes   *int           `json:"etaMinutes,omitempty" db:"eta_minutes"`
	RequestedAt  time.Time      `json:"requestedAt" db:"requested_at"`
	DispatchedAt *time.Time     `json:"dispatchedAt,omitempty" db:"dispatched_at"`
	ArrivedAt    *time.Time     `json:"arrivedAt,omitempty" db:"arrived_at"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty" db:"completed_at"`
}

// IsTerminal reports whether no further transitions are allowed.
func (d *Dispatch) IsTerminal() bool {
	return d.Status == DispatchCompleted || d.Status == DispatchCancelled
}

var dispatchTransitions = map[DispatchStatus][]DispatchStatus{
	DispatchPending:    {DispatchDispatched, DispatchCancelled},
	DispatchDispatched: {DispatchEnRoute, DispatchOnScene, DispatchCancelled},
	DispatchEnRoute:    {DispatchOnScene, DispatchCancelled},
	DispatchOnScene:    {DispatchCompleted, DispatchCancelled},
}

// CanTransition reports whether the dispatch may move to next.
func (d *Dispatch) CanTransition(next DispatchStatus) bool {
	for _, s := range dispatchTransitions[d.Status] {
		if s == next {
			return true
		}
	}
	return false
}

// Transition moves the dispatch to next and stamps the matching timestamp.
func (d *Dispatch) Transition(next DispatchStatus, at time.Time) error {
	if !d.CanTransition(next) {
		return fmt.Errorf("dispatch %s: %s -> %s not allowed", d.ID, d.Status, next)
	}
	d.Status = next
	switch next {
	case DispatchDispatched:
		d.DispatchedAt = &at
	case DispatchOnScene:
		d.ArrivedAt = &at
	case DispatchCompleted, DispatchCancelled:
		d.CompletedAt = &at
	}
	return nil
}
