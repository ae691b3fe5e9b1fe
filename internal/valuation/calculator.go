// Package valuation implements the comparative market valuation: per-pair
// adjustments between a subject and a comparable, and the engine that
// reduces them to a single estimate with a confidence score.
//
// Every adjustment is an additive dollar amount applied to the comparable's
// price.
package valuation

import (
	"fmt"

	"appraisal/server/internal/geometry"
	"appraisal/server/internal/models"
)

const (
	FeatureArea       = "area"
	FeatureFloorLevel = "floor_level"
	FeatureCondition  = "condition"
	FeatureRenovation = "renovation"
	FeatureDistance   = "distance"

	// adHocPrefix marks adjustments coming from a property's named features.
	adHocPrefix = "feature:"
)

// Rates are dollar amounts per unit of difference on each dimension.
type Rates struct {
	AreaPerSqm     float64
	FloorPerLevel  float64 // per unit of floor_level/total_floors
	PerCondition   float64 // per unit of condition score
	PerRenovation  float64 // per unit of renovation score
	DistancePerKm  float64
	FeaturePerUnit float64
}

func DefaultRates() Rates {
	return Rates{
		AreaPerSqm:     100,
		FloorPerLevel:  2000,
		PerCondition:   5000,
		PerRenovation:  8000,
		DistancePerKm:  500,
		FeaturePerUnit: 50,
	}
}

var conditionScores = map[models.Condition]float64{
	models.ConditionExcellent: 1.0,
	models.ConditionGood:      0.9,
	models.ConditionFair:      0.8,
	models.ConditionPoor:      0.7,
}

var renovationScores = map[models.RenovationStatus]float64{
	models.RenovationRecent:  1.0,
	models.RenovationPartial: 0.8,
	models.RenovationOrig:    0.6,
	models.RenovationNeeded:  0.4,
}

// ConditionScore returns the desirability score of a condition value.
func ConditionScore(c models.Condition) (float64, bool) {
	canonical, ok := models.ParseCondition(string(c))
	if !ok {
		return 0, false
	}
	return conditionScores[canonical], true
}

// RenovationScore returns the desirability score of a renovation status.
func RenovationScore(r models.RenovationStatus) (float64, bool) {
	canonical, ok := models.ParseRenovationStatus(string(r))
	if !ok {
		return 0, false
	}
	return renovationScores[canonical], true
}

// AdHocFeatureName is the adjustment name used for a property feature.
func AdHocFeatureName(name string) string {
	return adHocPrefix + name
}

// Calculator computes the adjustments for one subject/comparable pair. It is
// stateless apart from its rates and safe for concurrent use.
type Calculator struct {
	rates Rates
}

func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

func (c *Calculator) Rates() Rates {
	return c.rates
}

// ComputeAdjustments validates both properties and returns one adjustment per
// dimension followed by one per feature name shared by both properties, in
// the subject's feature order.
func (c *Calculator) ComputeAdjustments(subject, comparable models.Property) ([]models.Adjustment, error) {
	if err := ValidateProperty("subject", &subject, RoleSubject); err != nil {
		return nil, err
	}
	if err := ValidateProperty("comparable", &comparable, RoleComparable); err != nil {
		return nil, err
	}
	return c.adjustments(&subject, &comparable), nil
}

// adjustments assumes both properties passed validation. Each term scales
// before subtracting so identical inputs give exact zeros and swapped roles
// give exact negations.
func (c *Calculator) adjustments(subject, comparable *models.Property) []models.Adjustment {
	r := c.rates
	adjs := make([]models.Adjustment, 0, 5+len(subject.Features))

	areaDiff := subject.Area - comparable.Area
	adjs = append(adjs, models.Adjustment{
		Feature:     FeatureArea,
		Value:       r.AreaPerSqm*subject.Area - r.AreaPerSqm*comparable.Area,
		Description: fmt.Sprintf("Area difference: %.2f sqm", areaDiff),
	})

	subjectFloor := float64(subject.FloorLevel) / float64(subject.TotalFloors)
	compFloor := float64(comparable.FloorLevel) / float64(comparable.TotalFloors)
	adjs = append(adjs, models.Adjustment{
		Feature:     FeatureFloorLevel,
		Value:       r.FloorPerLevel*subjectFloor - r.FloorPerLevel*compFloor,
		Description: fmt.Sprintf("Floor level difference: %d/%d vs %d/%d", subject.FloorLevel, subject.TotalFloors, comparable.FloorLevel, comparable.TotalFloors),
	})

	subjectCond, _ := ConditionScore(subject.Condition)
	compCond, _ := ConditionScore(comparable.Condition)
	adjs = append(adjs, models.Adjustment{
		Feature:     FeatureCondition,
		Value:       r.PerCondition*subjectCond - r.PerCondition*compCond,
		Description: fmt.Sprintf("Condition difference: %s vs %s", subject.Condition, comparable.Condition),
	})

	subjectRen, _ := RenovationScore(subject.RenovationStatus)
	compRen, _ := RenovationScore(comparable.RenovationStatus)
	adjs = append(adjs, models.Adjustment{
		Feature:     FeatureRenovation,
		Value:       r.PerRenovation*subjectRen - r.PerRenovation*compRen,
		Description: fmt.Sprintf("Renovation status difference: %s vs %s", subject.RenovationStatus, comparable.RenovationStatus),
	})

	// A farther comparable is weaker evidence, so distance only ever lowers
	// its implied value. It does not change sign when roles are swapped.
	// An unset location has no distance to measure.
	if subject.Location.IsZero() || comparable.Location.IsZero() {
		adjs = append(adjs, models.Adjustment{
			Feature:     FeatureDistance,
			Value:       0,
			Description: "Distance from subject: location unknown",
		})
	} else {
		km := geometry.DistanceKm(subject.Location, comparable.Location)
		distance := 0.0
		if km > 0 {
			distance = -(r.DistancePerKm * km)
		}
		adjs = append(adjs, models.Adjustment{
			Feature:     FeatureDistance,
			Value:       distance,
			Description: fmt.Sprintf("Distance from subject: %.2f km", km),
		})
	}

	seen := make(map[string]bool, len(subject.Features))
	for _, f := range subject.Features {
		if seen[f.Name] {
			continue
		}
		seen[f.Name] = true
		compValue, ok := comparable.FeatureValue(f.Name)
		if !ok {
			continue
		}
		adjs = append(adjs, models.Adjustment{
			Feature:     AdHocFeatureName(f.Name),
			Value:       r.FeaturePerUnit*f.Value - r.FeaturePerUnit*compValue,
			Description: fmt.Sprintf("%s difference: %g vs %g%s", f.Name, f.Value, compValue, unitSuffix(f.Unit)),
		})
	}

	return adjs
}

func unitSuffix(unit string) string {
	if unit == "" {
		return ""
	}
	return " " + unit
}
