package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDomainEvent(t *testing.T) {
	evt, err := NewDomainEvent(EventSystemNotice, SystemNoticePayload{Message: "drill at 14:00"})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, evt.ID)
	assert.Equal(t, EventSystemNotice, evt.Name)
	assert.WithinDuration(t, time.Now(), evt.OccurredAt, time.Second)

	var p SystemNoticePayload
	require.NoError(t, evt.Decode(&p))
	assert.Equal(t, "drill at 14:00", p.Message)
}

func TestDomainEvent_DispatchID(t *testing.T) {
	dispatchID := uuid.New()

	withDispatch, err := NewDomainEvent(EventAmbulanceLocationUpdate, AmbulanceLocationPayload{
		AmbulanceID: uuid.New(),
		DispatchID:  &dispatchID,
	})
	require.NoError(t, err)
	got, ok := withDispatch.DispatchID()
	assert.True(t, ok)
	assert.Equal(t, dispatchID.String(), got)

	without, err := NewDomainEvent(EventAmbulanceLocationUpdate, AmbulanceLocationPayload{AmbulanceID: uuid.New()})
	require.NoError(t, err)
	_, ok = without.DispatchID()
	assert.False(t, ok)
}

func TestDispatch_Transition(t *testing.T) {
	now := time.Now()
	d := &Dispatch{ID: uuid.New(), Status: DispatchPending}

	require.NoError(t, d.Transition(DispatchDispatched, now))
	require.NotNil(t, d.DispatchedAt)
	require.NoError(t, d.Transition(DispatchEnRoute, now))
	require.NoError(t, d.Transition(DispatchOnScene, now))
	require.NotNil(t, d.ArrivedAt)
	require.NoError(t, d.Transition(DispatchCompleted, now))
	assert.True(t, d.IsTerminal())

	assert.Error(t, d.Transition(DispatchEnRoute, now))
}

func TestTrackFilters_Allows(t *testing.T) {
	f := TrackFilters{IncludeInbound: true, IncludeOutbound: false}
	assert.True(t, f.Allows(TrackInbound))
	assert.False(t, f.Allows(TrackOutbound))
	assert.True(t, f.Allows("both_tracks"))
}
