package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"appraisal/server/internal/export"
	"appraisal/server/internal/models"

	"github.com/gin-gonic/gin"
)

const (
	contentTypePDF     = "application/pdf"
	contentTypeExcel   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	contentTypeGeoJSON = "application/geo+json"
)

func (h *Handler) ExportPDF(c *gin.Context) {
	result, ok := h.bindResult(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := export.ValuationPDF(&buf, result); err != nil {
		h.respondError(c, err, "Failed to generate PDF")
		return
	}
	attachment(c, "pdf", contentTypePDF, buf.Bytes())
}

func (h *Handler) ExportExcel(c *gin.Context) {
	result, ok := h.bindResult(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := export.ValuationExcel(&buf, result); err != nil {
		h.respondError(c, err, "Failed to generate Excel report")
		return
	}
	attachment(c, "xlsx", contentTypeExcel, buf.Bytes())
}

func (h *Handler) ExportGeoJSON(c *gin.Context) {
	result, ok := h.bindResult(c)
	if !ok {
		return
	}
	data, err := export.ValuationGeoJSON(result)
	if err != nil {
		h.respondError(c, err, "Failed to generate GeoJSON")
		return
	}
	attachment(c, "geojson", contentTypeGeoJSON, data)
}

// ExportProperties writes the filtered property list as a workbook.
func (h *Handler) ExportProperties(c *gin.Context) {
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
	var buf bytes.Buffer
	if err := export.PropertiesExcel(&buf, props); err != nil {
		h.respondError(c, err, "Failed to generate Excel export")
		return
	}
	attachment(c, "xlsx", contentTypeExcel, buf.Bytes())
}

func (h *Handler) bindResult(c *gin.Context) (*models.ValuationResult, bool) {
	var result models.ValuationResult
	if err := c.ShouldBindJSON(&result); err != nil {
		badRequest(c, "Invalid valuation result")
		return nil, false
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}
	return &result, true
}

func attachment(c *gin.Context, ext, contentType string, data []byte) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(time.Now(), ext)))
	c.Data(http.StatusOK, contentType, data)
}
