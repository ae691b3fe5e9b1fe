package geometry

import (
	"sort"

	"appraisal/server/internal/models"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// ToPoint converts a location to an orb point (longitude first).
func ToPoint(l models.Location) orb.Point {
	return orb.Point{l.Lng, l.Lat}
}

// DistanceKm returns the great-circle distance between a and b in kilometers.
func DistanceKm(a, b models.Location) float64 {
	return geo.DistanceHaversine(ToPoint(a), ToPoint(b)) / 1000
}

// Nearby is a property found within a search radius.
type Nearby struct {
	Property   models.Property `json:"property"`
	DistanceKm float64         `json:"distance_km"`
}

// WithinRadius keeps the properties whose location lies within radiusKm of
// center, ordered by distance. Properties without a location are skipped.
func WithinRadius(center models.Location, properties []models.Property, radiusKm float64) []Nearby {
	found := make([]Nearby, 0)
	for _, p := range properties {
		if p.Location.IsZero() {
			continue
		}
		d := DistanceKm(center, p.Location)
		if d <= radiusKm {
			found = append(found, Nearby{Property: p, DistanceKm: d})
		}
	}
	sortByDistance(found)
	return found
}

func sortByDistance(items []Nearby) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].DistanceKm < items[j].DistanceKm
	})
}
