package database

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"appraisal/server/internal/models"

	"gonum.org/v1/gonum/stat"
	"gorm.io/gorm"
)

func trendScope(filter models.TrendFilter) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		if filter.PropertyType != "" {
			q = q.Where("property_type = ?", strings.ToLower(filter.PropertyType))
		}
		if filter.AreaMin > 0 {
			q = q.Where("area >= ?", filter.AreaMin)
		}
		if filter.AreaMax > 0 {
			q = q.Where("area <= ?", filter.AreaMax)
		}
		if !filter.Since.IsZero() {
			q = q.Where("created_at >= ?", filter.Since)
		}
		return q
	}
}

// Matching returns the priced properties selected by filter, oldest first.
func (s *PropertyStore) Matching(ctx context.Context, filter models.TrendFilter) ([]models.Property, error) {
	var props []models.Property
	err := s.db.WithContext(ctx).
		Scopes(trendScope(filter)).
		Where("price > 0").
		Order("created_at").Order("id").
		Find(&props).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load properties for statistics: %w", err)
	}
	return props, nil
}

// Stats aggregates prices of the properties selected by filter. Sums are
// computed by the database; median and deviation from the plucked prices.
func (s *PropertyStore) Stats(ctx context.Context, filter models.TrendFilter) (models.PropertyStats, error) {
	var stats models.PropertyStats
	err := s.db.WithContext(ctx).Model(&models.Property{}).
		Scopes(trendScope(filter)).
		Where("price > 0").
		Select(`COUNT(*) AS count,
			COALESCE(AVG(price), 0) AS average_price,
			COALESCE(MIN(price), 0) AS min_price,
			COALESCE(MAX(price), 0) AS max_price,
			COALESCE(AVG(price / NULLIF(area, 0)), 0) AS avg_price_per_sqm`).
		Scan(&stats).Error
	if err != nil {
		return stats, fmt.Errorf("failed to aggregate property prices: %w", err)
	}
	if stats.Count == 0 {
		return stats, nil
	}

	var prices []float64
	err = s.db.WithContext(ctx).Model(&models.Property{}).
		Scopes(trendScope(filter)).
		Where("price > 0").
		Pluck("price", &prices).Error
	if err != nil {
		return stats, fmt.Errorf("failed to load property prices: %w", err)
	}

	sort.Float64s(prices)
	stats.MedianPrice = Median(prices)
	if len(prices) > 1 {
		stats.PriceStdDev = stat.StdDev(prices, nil)
	}
	return stats, nil
}

// Median of an ascending slice. Even lengths average the two middle values.
func Median(sorted []float64) float64 {
	n := len(sorted)
	switch {
	case n == 0:
		return 0
	case n%2 == 1:
		return sorted[n/2]
	default:
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
}
