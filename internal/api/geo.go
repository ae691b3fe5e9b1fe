package api

import (
	"net/http"
	"strings"

	"appraisal/server/internal/apperr"
	"appraisal/server/internal/geometry"
	"appraisal/server/internal/models"

	"github.com/gin-gonic/gin"
)

const defaultRadiusKm = 5.0

type nearbyQuery struct {
	Lat          *float64 `form:"lat"`
	Lng          *float64 `form:"lng"`
	RadiusKm     float64  `form:"radius_km"`
	PropertyType string   `form:"property_type"`
}

type coordinatesQuery struct {
	Lat *float64 `form:"lat"`
	Lng *float64 `form:"lng"`
}

func (q coordinatesQuery) location() (models.Location, error) {
	if q.Lat == nil || q.Lng == nil {
		return models.Location{}, apperr.NewValidation("", "location", "lat and lng are required")
	}
	if *q.Lat < -90 || *q.Lat > 90 {
		return models.Location{}, apperr.NewValidation("", "lat", "must be between -90 and 90")
	}
	if *q.Lng < -180 || *q.Lng > 180 {
		return models.Location{}, apperr.NewValidation("", "lng", "must be between -180 and 180")
	}
	return models.Location{Lat: *q.Lat, Lng: *q.Lng}, nil
}

// NearbyProperties lists stored properties within radius_km of a point,
// closest first.
func (h *Handler) NearbyProperties(c *gin.Context) {
	var q nearbyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "Invalid query parameters")
		return
	}
	center, err := coordinatesQuery{Lat: q.Lat, Lng: q.Lng}.location()
	if err != nil {
		h.respondError(c, err, "Failed to find nearby properties")
		return
	}
	radius := q.RadiusKm
	if radius <= 0 {
		radius = defaultRadiusKm
	}

	props, err := h.properties.Located(c.Request.Context(), q.PropertyType)
	if err != nil {
		h.respondError(c, err, "Failed to find nearby properties")
		return
	}
	c.JSON(http.StatusOK, geometry.WithinRadius(center, props, radius))
}

func (h *Handler) Geocode(c *gin.Context) {
	if h.geocoder == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Geocoding is disabled"})
		return
	}
	address := strings.TrimSpace(c.Query("address"))
	if address == "" {
		badRequest(c, "address is required")
		return
	}

	lat, lng, err := h.geocoder.GeocodeAddress(c.Request.Context(), address)
	if err != nil {
		h.respondError(c, err, "Failed to geocode address")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address":  address,
		"location": models.Location{Lat: lat, Lng: lng},
	})
}

func (h *Handler) ReverseGeocode(c *gin.Context) {
	if h.geocoder == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Geocoding is disabled"})
		return
	}
	var q coordinatesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "Invalid query parameters")
		return
	}
	loc, err := q.location()
	if err != nil {
		h.respondError(c, err, "Failed to reverse geocode")
		return
	}

	res, err := h.geocoder.ReverseGeocode(c.Request.Context(), loc.Lat, loc.Lng)
	if err != nil {
		h.respondError(c, err, "Failed to reverse geocode")
		return
	}
	c.JSON(http.StatusOK, res)
}

// UpdateCoordinates geocodes every stored property that has an address but
// no location.
func (h *Handler) UpdateCoordinates(c *gin.Context) {
	if h.geocoder == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Geocoding is disabled"})
		return
	}
	updated, failed, err := h.db.UpdateMissingCoordinates(c.Request.Context(), h.geocoder)
	if err != nil {
		h.respondError(c, err, "Failed to update coordinates")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "Coordinates updated",
		"updated": updated,
		"failed":  failed,
	})
}
