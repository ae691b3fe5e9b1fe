package api

import (
	"net/http"

	"appraisal/server/internal/auth"
	"appraisal/server/internal/models"

	"github.com/gin-gonic/gin"
)

type coefficientListQuery struct {
	pageQuery
	ActiveOnly *bool `form:"active_only"`
}

func (h *Handler) ListCoefficients(c *gin.Context) {
	var q coefficientListQuery
	if err := c.ShouldBindQuery(&q); err != nil || !q.valid() {
		badRequest(c, "Invalid query parameters")
		return
	}
	activeOnly := true
	if q.ActiveOnly != nil {
		activeOnly = *q.ActiveOnly
	}

	coefs, err := h.coefficients.List(c.Request.Context(), models.CoefficientFilter{
		Skip:       q.Skip,
		Limit:      q.Limit,
		ActiveOnly: activeOnly,
	})
	if err != nil {
		h.respondError(c, err, "Failed to get coefficients")
		return
	}
	c.JSON(http.StatusOK, coefs)
}

func (h *Handler) CreateCoefficient(c *gin.Context) {
	var in models.CoefficientInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	var createdBy string
	if u := auth.CurrentUser(c); u != nil {
		createdBy = u.Username
	}
	coef, err := h.coefficients.Create(c.Request.Context(), in, createdBy)
	if err != nil {
		h.respondError(c, err, "Failed to create coefficient")
		return
	}
	c.JSON(http.StatusCreated, coef)
}

func (h *Handler) GetCoefficient(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	coef, err := h.coefficients.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Failed to get coefficient")
		return
	}
	c.JSON(http.StatusOK, coef)
}

func (h *Handler) GetCoefficientByFeature(c *gin.Context) {
	coef, err := h.coefficients.GetActiveByFeature(c.Request.Context(), c.Param("feature_name"))
	if err != nil {
		h.respondError(c, err, "Failed to get coefficient")
		return
	}
	c.JSON(http.StatusOK, coef)
}

func (h *Handler) UpdateCoefficient(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var upd models.CoefficientUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	coef, err := h.coefficients.Update(c.Request.Context(), id, upd)
	if err != nil {
		h.respondError(c, err, "Failed to update coefficient")
		return
	}
	c.JSON(http.StatusOK, coef)
}

func (h *Handler) DeactivateCoefficient(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	coef, err := h.coefficients.Deactivate(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Failed to deactivate coefficient")
		return
	}
	c.JSON(http.StatusOK, coef)
}

func (h *Handler) DeleteCoefficient(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.coefficients.Delete(c.Request.Context(), id); err != nil {
		h.respondError(c, err, "Failed to delete coefficient")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Coefficient deleted successfully"})
}

func (h *Handler) ApplyCoefficients(c *gin.Context) {
	var features []models.Feature
	if err := c.ShouldBindJSON(&features); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	adjs, err := h.coefficients.Apply(c.Request.Context(), features)
	if err != nil {
		h.respondError(c, err, "Failed to apply coefficients")
		return
	}
	c.JSON(http.StatusOK, adjs)
}

func (h *Handler) ValidateCoefficients(c *gin.Context) {
	var batch []models.CoefficientInput
	if err := c.ShouldBindJSON(&batch); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	problems, err := h.coefficients.Validate(c.Request.Context(), batch)
	if err != nil {
		h.respondError(c, err, "Failed to validate coefficients")
		return
	}
	if problems == nil {
		problems = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":  len(problems) == 0,
		"errors": problems,
	})
}
