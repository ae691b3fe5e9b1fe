package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

type Condition string

const (
	ConditionExcellent Condition = "excellent"
	ConditionGood      Condition = "good"
	ConditionFair      Condition = "fair"
	ConditionPoor      Condition = "poor"
)

type RenovationStatus string

const (
	RenovationRecent  RenovationStatus = "recently_renovated"
	RenovationPartial RenovationStatus = "partially_renovated"
	RenovationNeeded  RenovationStatus = "needs_renovation"
	RenovationOrig    RenovationStatus = "original"
)

// ParseCondition returns the canonical condition for s, ignoring case and
// surrounding whitespace. The second result is false for unknown values.
func ParseCondition(s string) (Condition, bool) {
	c := Condition(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case ConditionExcellent, ConditionGood, ConditionFair, ConditionPoor:
		return c, true
	}
	return "", false
}

// ParseRenovationStatus accepts snake_case, kebab-case and camelCase spellings
// ("recently_renovated", "recently-renovated", "recentlyRenovated").
func ParseRenovationStatus(s string) (RenovationStatus, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("_", "", "-", "", " ", "").Replace(key)
	switch key {
	case "recentlyrenovated":
		return RenovationRecent, true
	case "partiallyrenovated":
		return RenovationPartial, true
	case "needsrenovation":
		return RenovationNeeded, true
	case "original":
		return RenovationOrig, true
	}
	return "", false
}

type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// IsZero reports whether the location was never set.
func (l Location) IsZero() bool {
	return l.Lat == 0 && l.Lng == 0
}

// Feature is a named numeric attribute such as balconies or parking spots.
type Feature struct {
	Name        string  `json:"name"`
	Value       float64 `json:"value"`
	Unit        string  `json:"unit,omitempty"`
	Description string  `json:"description,omitempty"`
}

// Property is used both as a stored record and as a valuation input. Whether
// it acts as subject or comparable is decided by the caller.
type Property struct {
	ID               uint                         `json:"id,omitempty" gorm:"primaryKey"`
	Address          string                       `json:"address" gorm:"index"`
	PropertyType     string                       `json:"property_type" gorm:"index"`
	Area             float64                      `json:"area"`
	FloorLevel       int                          `json:"floor_level"`
	TotalFloors      int                          `json:"total_floors"`
	Condition        Condition                    `json:"condition"`
	RenovationStatus RenovationStatus             `json:"renovation_status"`
	Location         Location                     `json:"location" gorm:"embedded;embeddedPrefix:location_"`
	Price            float64                      `json:"price" gorm:"index"`
	Features         datatypes.JSONSlice[Feature] `json:"features"`
	CreatedAt        time.Time                    `json:"created_at"`
	UpdatedAt        time.Time                    `json:"updated_at"`
}

// FeatureValue returns the value of the first feature called name.
func (p *Property) FeatureValue(name string) (float64, bool) {
	for _, f := range p.Features {
		if f.Name == name {
			return f.Value, true
		}
	}
	return 0, false
}

// PropertyFilter narrows property listings. Zero values disable a filter.
type PropertyFilter struct {
	Skip         int
	Limit        int
	PropertyType string
	MinPrice     float64
	MaxPrice     float64
	Query        string
}

type PropertyStats struct {
	Count          int     `json:"count"`
	AveragePrice   float64 `json:"average_price"`
	MedianPrice    float64 `json:"median_price"`
	MinPrice       float64 `json:"min_price"`
	MaxPrice       float64 `json:"max_price"`
	PriceStdDev    float64 `json:"price_std_dev"`
	AvgPricePerSqm float64 `json:"avg_price_per_sqm"`
}

// TrendFilter selects the properties of a market statistic. Zero values
// disable a filter.
type TrendFilter struct {
	PropertyType string
	AreaMin      float64
	AreaMax      float64
	Since        time.Time
}
