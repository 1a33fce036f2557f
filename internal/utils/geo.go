package utils

import (
	"math"

	"github.com/mmcloughlin/geohash"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
)

// EarthRadiusKm is the mean Earth radius used by the haversine formula
const EarthRadiusKm = 6371.0

// IsUnknownLocation reports whether c is the (0,0) "no location" sentinel or not a real number.
// Callers must check this before calling DistanceKm.
func IsUnknownLocation(c models.Coordinate) bool {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) {
		return true
	}
	return c.Latitude == 0 && c.Longitude == 0
}

// DistanceKm calculates the great-circle distance between two points in kilometers using the Haversine formula
func DistanceKm(a, b models.Coordinate) float64 {
	lat1 := a.Latitude * math.Pi / 180.0
	lon1 := a.Longitude * math.Pi / 180.0
	lat2 := b.Latitude * math.Pi / 180.0
	lon2 := b.Longitude * math.Pi / 180.0

	dLat := lat2 - lat1
	dLon := lon2 - lon1
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// rounding can push h slightly outside [0,1] near antipodes
	h = math.Max(0, math.Min(1, h))
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKm * c
}

// DistanceMeters is DistanceKm in meters
func DistanceMeters(a, b models.Coordinate) float64 {
	return DistanceKm(a, b) * 1000
}

// EncodeGeohash converts a coordinate to a geohash string
func EncodeGeohash(c models.Coordinate, precision uint) string {
	return geohash.EncodeWithPrecision(c.Latitude, c.Longitude, precision)
}

// GetNeighbors returns the neighboring geohashes of a given geohash
func GetNeighbors(hash string) []string {
	return geohash.Neighbors(hash)
}
