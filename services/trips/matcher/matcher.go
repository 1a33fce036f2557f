// Package matcher ranks waiting trips for a driver by pickup distance.
package matcher

import (
	"math"
	"sort"
	"time"

	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	"github.com/piresc/nebengjek-dispatch/internal/utils"
	"github.com/piresc/nebengjek-dispatch/services/trips/lifecycle"
)

// DefaultRadiusKm is the search radius used when none is configured
const DefaultRadiusKm = 15.0

// Rank turns a page of waiting trips into the candidate list for a driver at
// driverLoc. Trips that are no longer waiting by the clock are dropped. With an
// unknown driver location nothing is filtered and no distances are reported.
// Trips with an unknown pickup are kept unranked.
func Rank(driverLoc models.Coordinate, trips []*models.Trip, now time.Time, radiusKm float64) []models.Candidate {
	if radiusKm <= 0 {
		radiusKm = DefaultRadiusKm
	}
	driverKnown := !utils.IsUnknownLocation(driverLoc)

	ranked := make([]models.Candidate, 0, len(trips))
	var unranked []models.Candidate

	for _, trip := range trips {
		if trip == nil || !lifecycle.IsClaimable(trip, now) {
			continue
		}
		if !driverKnown || utils.IsUnknownLocation(trip.Pickup.Coordinate) {
			unranked = append(unranked, models.Candidate{Trip: trip})
			continue
		}
		d := utils.DistanceKm(driverLoc, trip.Pickup.Coordinate)
		if math.IsNaN(d) || math.IsInf(d, 0) || d > radiusKm {
			continue
		}
		ranked = append(ranked, models.Candidate{Trip: trip, DistanceKm: &d})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		di, dj := *ranked[i].DistanceKm, *ranked[j].DistanceKm
		if di != dj {
			return di < dj
		}
		return ranked[i].Trip.CreatedAt.After(ranked[j].Trip.CreatedAt)
	})
	sort.SliceStable(unranked, func(i, j int) bool {
		return unranked[i].Trip.CreatedAt.After(unranked[j].Trip.CreatedAt)
	})

	return append(ranked, unranked...)
}
