package api

import (
	"time"

	"appraisal/server/internal/auth"
	"appraisal/server/internal/logging"
	"appraisal/server/internal/models"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const Version = "1.0.0"

// NewRouter builds the gin engine with recovery, CORS, request logging and,
// when configured, request metrics.
func NewRouter(h *Handler, allowedOrigins []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", logging.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Disposition", logging.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(logging.RequestLogger(h.logger))
	if h.metrics != nil {
		router.Use(h.metrics.Middleware())
	}

	SetupRoutes(router, h)
	return router
}

func SetupRoutes(router *gin.Engine, h *Handler) {
	router.GET("/", h.Root)
	router.GET("/health", h.Health)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	requireAuth := auth.RequireAuth(h.auth)
	adminOnly := auth.RequireRole(models.RoleAdmin)

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", h.Register)
		authGroup.POST("/login", h.Login)
		authGroup.POST("/logout", h.Logout)
		authGroup.GET("/me", requireAuth, h.Me)
		authGroup.POST("/refresh", requireAuth, h.Refresh)
	}

	api := router.Group("/api", requireAuth)
	{
		api.GET("/properties", h.ListProperties)
		api.POST("/properties", h.CreateProperty)
		api.GET("/properties/:id", h.GetProperty)
		api.PUT("/properties/:id", h.UpdateProperty)
		api.DELETE("/properties/:id", h.DeleteProperty)

		api.POST("/valuation/calculate", h.CalculateValuation)
		api.GET("/valuation/history", h.ListValuationHistory)
		api.GET("/valuation/history/:id", h.GetValuationHistory)

		adj := api.Group("/adjustments")
		{
			adj.GET("/coefficients", h.ListCoefficients)
			adj.GET("/coefficients/:id", h.GetCoefficient)
			adj.POST("/coefficients", adminOnly, h.CreateCoefficient)
			adj.PUT("/coefficients/:id", adminOnly, h.UpdateCoefficient)
			adj.DELETE("/coefficients/:id", adminOnly, h.DeleteCoefficient)
			adj.POST("/coefficients/:id/deactivate", adminOnly, h.DeactivateCoefficient)
			adj.GET("/features/:feature_name", h.GetCoefficientByFeature)
			adj.POST("/apply", h.ApplyCoefficients)
			adj.POST("/validate", h.ValidateCoefficients)
		}

		exp := api.Group("/export")
		{
			exp.POST("/pdf", h.ExportPDF)
			exp.POST("/excel", h.ExportExcel)
			exp.POST("/geojson", h.ExportGeoJSON)
			exp.GET("/properties", h.ExportProperties)
		}

		geo := api.Group("/geo")
		{
			geo.GET("/nearby", h.NearbyProperties)
			geo.GET("/geocode", h.Geocode)
			geo.GET("/reverse", h.ReverseGeocode)
			geo.POST("/update-coordinates", adminOnly, h.UpdateCoordinates)
		}

		stats := api.Group("/analytics")
		{
			stats.GET("/stats", h.PropertyStats)
			stats.GET("/market-trends", h.MarketTrends)
			stats.GET("/properties/:id/comparison", h.CompareProperty)
			stats.GET("/properties/:id/adjustments", h.AdjustmentAnalysis)
		}
	}
}
