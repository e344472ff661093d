package tracking

import (
	"math"
	"time"

	"github.com/rescuelink/backend/internal/models"
)

const earthRadiusKm = 6371.0

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

// HaversineKm is the great-circle distance between a and b.
func HaversineKm(a, b models.LatLng) float64 {
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Bearing is the initial compass heading from a to b in degrees [0, 360).
func Bearing(a, b models.LatLng) float64 {
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)
	dLng := toRad(b.Lng - a.Lng)

	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// Interpolate returns the point a fraction t of the way from a to b. t is
// clamped to [0, 1]; the endpoints are returned exactly.
func Interpolate(a, b models.LatLng, t float64) models.LatLng {
	switch {
	case t <= 0:
		return a
	case t >= 1:
		return b
	}
	return models.LatLng{
		Lat: a.Lat + (b.Lat-a.Lat)*t,
		Lng: a.Lng + (b.Lng-a.Lng)*t,
	}
}

// TravelDuration is the time needed to cover distanceKm at speedKmh.
func TravelDuration(distanceKm, speedKmh float64) time.Duration {
	if distanceKm <= 0 || speedKmh <= 0 {
		return 0
	}
	return time.Duration(distanceKm / speedKmh * float64(time.Hour))
}

// ETAMinutes rounds the travel time up to whole minutes.
func ETAMinutes(distanceKm, speedKmh float64) int {
	if speedKmh <= 0 {
		return 0
	}
	return int(math.Ceil(distanceKm / speedKmh * 60))
}
