package api

import (
	"net/http"

	"appraisal/server/internal/auth"
	"appraisal/server/internal/models"
	"appraisal/server/internal/valuation"

	"github.com/gin-gonic/gin"
)

// ValuationRequest names the subject and comparables either inline or by
// stored id. Inline values win when both are given.
type ValuationRequest struct {
	SubjectProperty      *models.Property  `json:"subject_property"`
	SubjectPropertyID    *uint             `json:"subject_property_id"`
	ComparableProperties []models.Property `json:"comparable_properties"`
	ComparableIDs        []uint            `json:"comparable_property_ids"`
	RequiredFeatures     []string          `json:"required_features"`
	Notes                string            `json:"notes"`
}

type historyQuery struct {
	pageQuery
	PropertyID *uint `form:"property_id"`
}

func (h *Handler) CalculateValuation(c *gin.Context) {
	var req ValuationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	ctx := c.Request.Context()

	var subject models.Property
	switch {
	case req.SubjectProperty != nil:
		subject = *req.SubjectProperty
	case req.SubjectPropertyID != nil:
		p, err := h.properties.GetProperty(ctx, *req.SubjectPropertyID)
		if err != nil {
			h.respondError(c, err, "Failed to load subject property")
			return
		}
		subject = *p
	default:
		badRequest(c, "subject_property or subject_property_id is required")
		return
	}
	valuation.Normalize(&subject)

	comparables := req.ComparableProperties
	if len(comparables) == 0 && len(req.ComparableIDs) > 0 {
		loaded, err := valuation.LoadProperties(ctx, h.properties, req.ComparableIDs)
		if err != nil {
			h.respondError(c, err, "Failed to load comparable properties")
			return
		}
		comparables = loaded
	}
	for i := range comparables {
		valuation.Normalize(&comparables[i])
	}

	var createdBy string
	if u := auth.CurrentUser(c); u != nil {
		createdBy = u.Username
	}

	result, err := h.engine.Valuate(ctx, valuation.Request{
		Subject:          subject,
		Comparables:      comparables,
		RequiredFeatures: req.RequiredFeatures,
		CreatedBy:        createdBy,
		Notes:            req.Notes,
	})
	if err != nil {
		h.respondError(c, err, "Failed to calculate valuation")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) ListValuationHistory(c *gin.Context) {
	var q historyQuery
	if err := c.ShouldBindQuery(&q); err != nil || !q.valid() {
		badRequest(c, "Invalid query parameters")
		return
	}

	entries, err := h.history.List(c.Request.Context(), q.Skip, q.Limit, q.PropertyID)
	if err != nil {
		h.respondError(c, err, "Failed to get valuation history")
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *Handler) GetValuationHistory(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	entry, err := h.history.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Failed to get valuation history entry")
		return
	}
	c.JSON(http.StatusOK, entry)
}
