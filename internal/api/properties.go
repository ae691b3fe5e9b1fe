package api

import (
	"context"
	"net/http"

	"appraisal/server/internal/models"
	"appraisal/server/internal/valuation"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type propertyListQuery struct {
	pageQuery
	PropertyType string  `form:"property_type"`
	MinPrice     float64 `form:"min_price"`
	MaxPrice     float64 `form:"max_price"`
	Query        string  `form:"q"`
}

func (q propertyListQuery) filter() models.PropertyFilter {
	return models.PropertyFilter{
		Skip:         q.Skip,
		Limit:        q.Limit,
		PropertyType: q.PropertyType,
		MinPrice:     q.MinPrice,
		MaxPrice:     q.MaxPrice,
		Query:        q.Query,
	}
}

// PropertyUpdate carries the fields to change; nil fields are kept.
type PropertyUpdate struct {
	Address          *string                  `json:"address"`
	PropertyType     *string                  `json:"property_type"`
	Area             *float64                 `json:"area"`
	FloorLevel       *int                     `json:"floor_level"`
	TotalFloors      *int                     `json:"total_floors"`
	Condition        *models.Condition        `json:"condition"`
	RenovationStatus *models.RenovationStatus `json:"renovation_status"`
	Location         *models.Location         `json:"location"`
	Price            *float64                 `json:"price"`
	Features         *[]models.Feature        `json:"features"`
}

func (u PropertyUpdate) apply(p *models.Property) {
	if u.Address != nil {
		p.Address = *u.Address
	}
	if u.PropertyType != nil {
		p.PropertyType = *u.PropertyType
	}
	if u.Area != nil {
		p.Area = *u.Area
	}
	if u.FloorLevel != nil {
		p.FloorLevel = *u.FloorLevel
	}
	if u.TotalFloors != nil {
		p.TotalFloors = *u.TotalFloors
	}
	if u.Condition != nil {
		p.Condition = *u.Condition
	}
	if u.RenovationStatus != nil {
		p.RenovationStatus = *u.RenovationStatus
	}
	if u.Location != nil {
		p.Location = *u.Location
	}
	if u.Price != nil {
		p.Price = *u.Price
	}
	if u.Features != nil {
		p.Features = *u.Features
	}
}

func (h *Handler) CreateProperty(c *gin.Context) {
	var p models.Property
	if err := c.ShouldBindJSON(&p); err != nil {
		h.logger.WithError(err).Debug("Invalid property body")
		badRequest(c, "Invalid request body")
		return
	}
	p.ID = 0

	valuation.Normalize(&p)
	if err := valuation.ValidateProperty("property", &p, valuation.RoleStored); err != nil {
		h.respondError(c, err, "Failed to create property")
		return
	}
	h.locate(c.Request.Context(), &p)

	if err := h.properties.Create(c.Request.Context(), &p); err != nil {
		h.respondError(c, err, "Failed to create property")
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetProperty(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	p, err := h.properties.GetProperty(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Failed to get property")
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) ListProperties(c *gin.Context) {
	var q propertyListQuery
	if err := c.ShouldBindQuery(&q); err != nil || !q.valid() {
		badRequest(c, "Invalid query parameters")
		return
	}

	props, err := h.properties.List(c.Request.Context(), q.filter())
	if err != nil {
		h.respondError(c, err, "Failed to get properties")
		return
	}
	c.JSON(http.StatusOK, props)
}

func (h *Handler) UpdateProperty(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var upd PropertyUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	ctx := c.Request.Context()
	p, err := h.properties.GetProperty(ctx, id)
	if err != nil {
		h.respondError(c, err, "Failed to update property")
		return
	}
	previousAddress := p.Address

	upd.apply(p)
	valuation.Normalize(p)
	if err := valuation.ValidateProperty("property", p, valuation.RoleStored); err != nil {
		h.respondError(c, err, "Failed to update property")
		return
	}
	if upd.Location == nil && p.Address != previousAddress {
		p.Location = models.Location{}
	}
	h.locate(ctx, p)

	if err := h.properties.Save(ctx, p); err != nil {
		h.respondError(c, err, "Failed to update property")
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) DeleteProperty(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.properties.Delete(c.Request.Context(), id); err != nil {
		h.respondError(c, err, "Failed to delete property")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Property deleted successfully"})
}

// locate fills in a missing location from the address. Geocoding failures
// leave the property unlocated.
func (h *Handler) locate(ctx context.Context, p *models.Property) {
	if h.geocoder == nil || !p.Location.IsZero() || p.Address == "" {
		return
	}
	lat, lng, err := h.geocoder.GeocodeAddress(ctx, p.Address)
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"address": p.Address,
		}).Warn("Failed to geocode property address")
		return
	}
	p.Location = models.Location{Lat: lat, Lng: lng}
}
