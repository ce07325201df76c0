// Package geo holds the location service: coordinate validation, great-circle
// distance and acquiring the user's position.
package geo

import (
	"math"

	"github.com/mr1hm/civic-issues/internal/models"
)

const (
	// EarthRadiusKm is used for client-side distance.
	EarthRadiusKm = 6371.0
	// EarthRadiusMeters is the equatorial radius the store's spherical
	// containment query expects.
	EarthRadiusMeters = 6378137.0
)

func ValidateCoordinate(c models.Coordinate) error {
	return c.Validate()
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// CentralAngle returns the angular separation of a and b in radians.
func CentralAngle(a, b models.Coordinate) float64 {
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(a.Lat))*math.Cos(toRadians(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	// rounding can push h a hair past 1 for antipodal points
	h = math.Min(1, math.Max(0, h))
	return 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// DistanceKm is the haversine distance between a and b.
func DistanceKm(a, b models.Coordinate) float64 {
	if a == b {
		return 0
	}
	return EarthRadiusKm * CentralAngle(a, b)
}

// IsWithinRadius reports whether point lies within radiusKm of center.
// A missing coordinate is never within radius.
func IsWithinRadius(point, center *models.Coordinate, radiusKm float64) bool {
	if point == nil || center == nil {
		return false
	}
	return DistanceKm(*point, *center) <= radiusKm
}

// RadiusRadians converts a radius in km to radians on the store's sphere.
func RadiusRadians(radiusKm float64) float64 {
	return radiusKm * 1000 / EarthRadiusMeters
}
