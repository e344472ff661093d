package tracking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rescuelink/backend/internal/models"
)

var (
	paris       = models.LatLng{Lat: 48.8566, Lng: 2.3522}
	parisTarget = models.LatLng{Lat: 48.8698, Lng: 2.3078}
)

func TestHaversineKm(t *testing.T) {
	assert.InDelta(t, 0, HaversineKm(paris, paris), 1e-9)
	// Paris to London is roughly 344 km
	assert.InDelta(t, 343.5, HaversineKm(paris, models.LatLng{Lat: 51.5074, Lng: -0.1278}), 2)
	assert.InDelta(t, HaversineKm(paris, parisTarget), HaversineKm(parisTarget, paris), 1e-9)
}

func TestBearing(t *testing.T) {
	origin := models.LatLng{Lat: 0, Lng: 0}
	assert.InDelta(t, 0, Bearing(origin, models.LatLng{Lat: 1, Lng: 0}), 1e-6)
	assert.InDelta(t, 90, Bearing(origin, models.LatLng{Lat: 0, Lng: 1}), 1e-6)
	assert.InDelta(t, 180, Bearing(origin, models.LatLng{Lat: -1, Lng: 0}), 1e-6)
	assert.InDelta(t, 270, Bearing(origin, models.LatLng{Lat: 0, Lng: -1}), 1e-6)
}

func TestInterpolate(t *testing.T) {
	assert.Equal(t, paris, Interpolate(paris, parisTarget, -0.5))
	assert.Equal(t, parisTarget, Interpolate(paris, parisTarget, 1))
	assert.Equal(t, parisTarget, Interpolate(paris, parisTarget, 1.7))

	mid := Interpolate(paris, parisTarget, 0.5)
	assert.InDelta(t, (paris.Lat+parisTarget.Lat)/2, mid.Lat, 1e-12)
	assert.InDelta(t, (paris.Lng+parisTarget.Lng)/2, mid.Lng, 1e-12)
}

func TestETAMinutesAndDuration(t *testing.T) {
	assert.Equal(t, 4, ETAMinutes(3, 50))
	assert.Equal(t, 1, ETAMinutes(0.1, 50))
	assert.Equal(t, 0, ETAMinutes(0, 50))
	assert.Equal(t, time.Hour, TravelDuration(50, 50))
	assert.Equal(t, time.Duration(0), TravelDuration(0, 50))
}
