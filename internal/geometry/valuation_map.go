package geometry

import (
	"time"

	"appraisal/server/internal/models"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ValuationFeatureCollection renders a valuation as GeoJSON: one point for the
// subject, one per comparable and, when at least three distinct locations are
// known, the convex hull of all of them as the market area.
func ValuationFeatureCollection(result *models.ValuationResult) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	points := make([]orb.Point, 0, len(result.ComparableProperties)+1)

	subject := geojson.NewFeature(ToPoint(result.SubjectProperty.Location))
	subject.Properties = geojson.Properties{
		"role":             "subject",
		"address":          result.SubjectProperty.Address,
		"property_type":    result.SubjectProperty.PropertyType,
		"area":             result.SubjectProperty.Area,
		"final_valuation":  result.FinalValuation,
		"confidence_score": result.ConfidenceScore,
	}
	fc.Append(subject)
	points = append(points, ToPoint(result.SubjectProperty.Location))

	for i, comp := range result.ComparableProperties {
		f := geojson.NewFeature(ToPoint(comp.Location))
		f.Properties = geojson.Properties{
			"role":          "comparable",
			"address":       comp.Address,
			"price":         comp.Price,
			"area":          comp.Area,
			"distance_km":   DistanceKm(result.SubjectProperty.Location, comp.Location),
			"comparable_no": i + 1,
		}
		if i < len(result.ComparableSummaries) {
			s := result.ComparableSummaries[i]
			f.Properties["key"] = s.Key
			f.Properties["adjusted_price"] = s.AdjustedPrice
			f.Properties["total_adjustment"] = s.TotalAdjustment
		}
		fc.Append(f)
		points = append(points, ToPoint(comp.Location))
	}

	if hull := generateConvexHull(points); hull != nil {
		area := geojson.NewFeature(orb.Polygon{hull})
		area.Properties = geojson.Properties{
			"role":        "market_area",
			"hull_type":   "convex",
			"point_count": len(points),
		}
		fc.Append(area)
	}

	fc.ExtraMembers = geojson.Properties{
		"generated": result.CreatedAt.UTC().Format(time.RFC3339),
	}
	return fc
}
