package export

import (
	"fmt"

	"appraisal/server/internal/geometry"
	"appraisal/server/internal/models"
)

// ValuationGeoJSON renders the subject, the comparables and their market area
// as a GeoJSON feature collection.
func ValuationGeoJSON(result *models.ValuationResult) ([]byte, error) {
	data, err := geometry.ValuationFeatureCollection(result).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode geojson: %w", err)
	}
	return data, nil
}
