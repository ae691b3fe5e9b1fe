package models

import "time"

// AdjustmentCoefficient is an administered per-unit rate for one feature.
// Only one active row per FeatureName is allowed; the coefficients service
// enforces it.
type AdjustmentCoefficient struct {
	ID               uint      `json:"id" gorm:"primaryKey"`
	FeatureName      string    `json:"feature_name" gorm:"index;not null"`
	CoefficientValue float64   `json:"coefficient_value"`
	Description      string    `json:"description"`
	IsActive         bool      `json:"is_active" gorm:"index"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	CreatedBy        string    `json:"created_by"`
}

type CoefficientInput struct {
	FeatureName      string  `json:"feature_name"`
	CoefficientValue float64 `json:"coefficient_value"`
	Description      string  `json:"description"`
	IsActive         *bool   `json:"is_active"`
}

type CoefficientUpdate struct {
	FeatureName      *string  `json:"feature_name"`
	CoefficientValue *float64 `json:"coefficient_value"`
	Description      *string  `json:"description"`
	IsActive         *bool    `json:"is_active"`
}

type CoefficientFilter struct {
	Skip       int
	Limit      int
	ActiveOnly bool
}
