package api

import (
	"net/http"
	"time"

	"appraisal/server/internal/analytics"
	"appraisal/server/internal/models"

	"github.com/gin-gonic/gin"
)

type trendQuery struct {
	PropertyType string  `form:"property_type"`
	AreaMin      float64 `form:"area_min"`
	AreaMax      float64 `form:"area_max"`
	Days         int     `form:"days"`
}

func (q trendQuery) valid() bool {
	return q.Days >= 0 && q.AreaMin >= 0 && q.AreaMax >= 0 &&
		(q.AreaMax == 0 || q.AreaMin <= q.AreaMax)
}

func (h *Handler) MarketTrends(c *gin.Context) {
	var q trendQuery
	if err := c.ShouldBindQuery(&q); err != nil || !q.valid() {
		badRequest(c, "Invalid query parameters")
		return
	}

	trends, err := h.analytics.MarketTrends(c.Request.Context(), analytics.TrendQuery{
		PropertyType: q.PropertyType,
		AreaMin:      q.AreaMin,
		AreaMax:      q.AreaMax,
		Days:         q.Days,
	})
	if err != nil {
		h.respondError(c, err, "Failed to compute market trends")
		return
	}
	c.JSON(http.StatusOK, trends)
}

// PropertyStats aggregates stored prices. Without days every property counts.
func (h *Handler) PropertyStats(c *gin.Context) {
	var q trendQuery
	if err := c.ShouldBindQuery(&q); err != nil || !q.valid() {
		badRequest(c, "Invalid query parameters")
		return
	}
	filter := models.TrendFilter{
		PropertyType: q.PropertyType,
		AreaMin:      q.AreaMin,
		AreaMax:      q.AreaMax,
	}
	if q.Days > 0 {
		filter.Since = time.Now().AddDate(0, 0, -q.Days)
	}

	stats, err := h.properties.Stats(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err, "Failed to get property stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) CompareProperty(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var q struct {
		RadiusKm float64 `form:"radius_km"`
	}
	if err := c.ShouldBindQuery(&q); err != nil || q.RadiusKm < 0 {
		badRequest(c, "Invalid query parameters")
		return
	}

	cmp, err := h.analytics.Compare(c.Request.Context(), id, q.RadiusKm)
	if err != nil {
		h.respondError(c, err, "Failed to compare property")
		return
	}
	c.JSON(http.StatusOK, cmp)
}

func (h *Handler) AdjustmentAnalysis(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	analysis, err := h.analytics.AnalyzeAdjustments(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Failed to analyze adjustments")
		return
	}
	c.JSON(http.StatusOK, analysis)
}
