package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"appraisal/server/internal/analytics"
	"appraisal/server/internal/apperr"
	"appraisal/server/internal/auth"
	"appraisal/server/internal/coefficients"
	"appraisal/server/internal/database"
	"appraisal/server/internal/geocoding"
	"appraisal/server/internal/metrics"
	"appraisal/server/internal/valuation"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Geocoder resolves addresses and coordinates.
type Geocoder interface {
	GeocodeAddress(ctx context.Context, address string) (float64, float64, error)
	ReverseGeocode(ctx context.Context, lat, lng float64) (*geocoding.ReverseResult, error)
}

// Deps are the services behind the HTTP API. Geocoder and Metrics may be nil.
type Deps struct {
	DB           *database.Database
	Engine       *valuation.Engine
	Coefficients *coefficients.Service
	Auth         *auth.Service
	Analytics    *analytics.Service
	Geocoder     Geocoder
	Metrics      *metrics.Metrics
	Logger       *logrus.Logger
}

type Handler struct {
	db           *database.Database
	properties   *database.PropertyStore
	history      *database.HistoryStore
	engine       *valuation.Engine
	coefficients *coefficients.Service
	auth         *auth.Service
	analytics    *analytics.Service
	geocoder     Geocoder
	metrics      *metrics.Metrics
	logger       *logrus.Logger
}

func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	return &Handler{
		db:           deps.DB,
		properties:   database.NewPropertyStore(deps.DB),
		history:      database.NewHistoryStore(deps.DB),
		engine:       deps.Engine,
		coefficients: deps.Coefficients,
		auth:         deps.Auth,
		analytics:    deps.Analytics,
		geocoder:     deps.Geocoder,
		metrics:      deps.Metrics,
		logger:       logger,
	}
}

// respondError maps err onto a status code. Client errors echo the error
// text; anything else is logged with msg and answered generically.
func (h *Handler) respondError(c *gin.Context, err error, msg string) {
	var (
		validation   *apperr.ValidationError
		insufficient *apperr.InsufficientDataError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &insufficient):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, apperr.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, apperr.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, apperr.ErrUnauthorized):
		c.Header("WWW-Authenticate", "Bearer")
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, apperr.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		h.logger.WithError(err).WithField("path", c.FullPath()).Error(msg)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// idParam parses a positive numeric path parameter.
func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		badRequest(c, "Invalid "+name)
		return 0, false
	}
	return uint(id), true
}

type pageQuery struct {
	Skip  int `form:"skip"`
	Limit int `form:"limit"`
}

func (q pageQuery) valid() bool {
	return q.Skip >= 0 && q.Limit >= 0
}

func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Real Estate Valuation API",
		"version": Version,
	})
}

func (h *Handler) Health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "healthy"}
	if err := h.db.Ping(c.Request.Context()); err != nil {
		h.logger.WithError(err).Warn("Health check failed")
		status = http.StatusServiceUnavailable
		body = gin.H{"status": "unhealthy", "error": "database unavailable"}
	}
	body["timestamp"] = time.Now().UTC()
	c.JSON(status, body)
}
