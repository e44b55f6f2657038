// Package geo holds the distance math used for geofences and proximity.
package geo

import (
	"errors"
	"math"

	"github.com/josefm09/tracker/internal/domain/models"
)

// EarthRadiusMeters is the mean radius used by the haversine formula.
const EarthRadiusMeters = 6371000.0

var (
	ErrLatitudeRange  = errors.New("latitude must be between -90 and 90")
	ErrLongitudeRange = errors.New("longitude must be between -180 and 180")
	ErrNotFinite      = errors.New("coordinate is not a finite number")
)

// DistanceMeters returns the great-circle distance between a and b.
func DistanceMeters(a, b models.Coordinates) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLat := toRadians(b.Latitude - a.Latitude)
	dLon := toRadians(b.Longitude - a.Longitude)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	// Rounding can push h a hair past 1 for near-antipodal points.
	h = math.Min(1, h)
	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// IsWithin reports whether point lies inside place's radius (inclusive).
func IsWithin(point models.Coordinates, place models.Place) bool {
	return DistanceMeters(point, place.Coordinates) <= place.Radius()
}

// ValidateCoordinates rejects NaN, infinities and out-of-range values.
func ValidateCoordinates(c models.Coordinates) error {
	if !IsFinite(c.Latitude) || !IsFinite(c.Longitude) {
		return ErrNotFinite
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return ErrLatitudeRange
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return ErrLongitudeRange
	}
	return nil
}

// IsFinite reports whether f is neither NaN nor infinite.
func IsFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
