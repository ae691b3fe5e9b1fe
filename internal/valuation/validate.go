package valuation

import (
	"fmt"
	"math"
	"strings"

	"appraisal/server/internal/apperr"
	"appraisal/server/internal/models"
)

type Role int

const (
	RoleSubject Role = iota
	RoleComparable
	RoleStored
)

// ValidateProperty checks the invariants the calculator relies on. label names
// the property in the returned ValidationError. Comparables and stored
// records need a positive price; a subject may have none.
func ValidateProperty(label string, p *models.Property, role Role) error {
	if !finite(p.Area) || p.Area <= 0 {
		return apperr.NewValidation(label, "area", "must be a positive number")
	}
	if p.TotalFloors <= 0 {
		return apperr.NewValidation(label, "total_floors", "must be positive")
	}
	if p.FloorLevel < 0 {
		return apperr.NewValidation(label, "floor_level", "must not be negative")
	}
	if _, ok := ConditionScore(p.Condition); !ok {
		return apperr.NewValidation(label, "condition", fmt.Sprintf("unknown value %q", p.Condition))
	}
	if _, ok := RenovationScore(p.RenovationStatus); !ok {
		return apperr.NewValidation(label, "renovation_status", fmt.Sprintf("unknown value %q", p.RenovationStatus))
	}
	if !finite(p.Location.Lat) || p.Location.Lat < -90 || p.Location.Lat > 90 {
		return apperr.NewValidation(label, "location.lat", "must be between -90 and 90")
	}
	if !finite(p.Location.Lng) || p.Location.Lng < -180 || p.Location.Lng > 180 {
		return apperr.NewValidation(label, "location.lng", "must be between -180 and 180")
	}
	switch role {
	case RoleSubject:
		if !finite(p.Price) || p.Price < 0 {
			return apperr.NewValidation(label, "price", "must not be negative")
		}
	default:
		if !finite(p.Price) || p.Price <= 0 {
			return apperr.NewValidation(label, "price", "must be positive")
		}
	}
	for i, f := range p.Features {
		if strings.TrimSpace(f.Name) == "" {
			return apperr.NewValidation(label, fmt.Sprintf("features[%d].name", i), "must not be blank")
		}
		if !finite(f.Value) {
			return apperr.NewValidation(label, fmt.Sprintf("features[%d].value", i), "must be a finite number")
		}
	}
	return nil
}

// Normalize rewrites enum fields to their canonical spelling. Unknown values
// are left as they are for ValidateProperty to report.
func Normalize(p *models.Property) {
	if c, ok := models.ParseCondition(string(p.Condition)); ok {
		p.Condition = c
	}
	if r, ok := models.ParseRenovationStatus(string(p.RenovationStatus)); ok {
		p.RenovationStatus = r
	}
	p.Address = strings.TrimSpace(p.Address)
	p.PropertyType = strings.ToLower(strings.TrimSpace(p.PropertyType))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
