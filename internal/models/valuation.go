package models

import (
	"time"

	"gorm.io/datatypes"
)

type Adjustment struct {
	Feature     string  `json:"feature"`
	Value       float64 `json:"value"`
	Description string  `json:"description,omitempty"`
}

// TotalAdjustment sums the values of adjs.
func TotalAdjustment(adjs []Adjustment) float64 {
	var total float64
	for _, a := range adjs {
		total += a.Value
	}
	return total
}

type ComparableSummary struct {
	Key             string  `json:"key"`
	OriginalPrice   float64 `json:"original_price"`
	TotalAdjustment float64 `json:"total_adjustment"`
	AdjustedPrice   float64 `json:"adjusted_price"`
}

type HistoryStatus string

const (
	HistoryRecorded HistoryStatus = "recorded"
	HistoryQueued   HistoryStatus = "queued"
	HistoryFailed   HistoryStatus = "failed"
	HistoryDisabled HistoryStatus = "disabled"
)

// HistoryOutcome reports what happened to the audit entry of a valuation.
type HistoryOutcome struct {
	Status  HistoryStatus `json:"status"`
	EntryID *uint         `json:"entry_id,omitempty"`
	Error   string        `json:"error,omitempty"`
}

type ValuationResult struct {
	SubjectProperty      Property                `json:"subject_property"`
	ComparableProperties []Property              `json:"comparable_properties"`
	Adjustments          map[string][]Adjustment `json:"adjustments"`
	ComparableSummaries  []ComparableSummary     `json:"comparable_summaries"`
	FinalValuation       float64                 `json:"final_valuation"`
	ConfidenceScore      float64                 `json:"confidence_score"`
	CreatedAt            time.Time               `json:"created_at"`
	History              *HistoryOutcome         `json:"history,omitempty"`
}

const ValuationTypeComparative = "comparative"

type ValuationHistory struct {
	ID                   uint                                         `json:"id" gorm:"primaryKey"`
	PropertyID           *uint                                        `json:"property_id" gorm:"index"`
	ValuationDate        time.Time                                    `json:"valuation_date" gorm:"index"`
	ValuationType        string                                       `json:"valuation_type"`
	OriginalPrice        float64                                      `json:"original_price"`
	AdjustedPrice        float64                                      `json:"adjusted_price"`
	ConfidenceScore      float64                                      `json:"confidence_score"`
	Adjustments          datatypes.JSONType[map[string][]Adjustment] `json:"adjustments"`
	// Ids of stored comparables only. Inline comparables appear solely as
	// comparable-<n> keys in Adjustments.
	ComparableProperties datatypes.JSONSlice[uint]                    `json:"comparable_properties"`
	CreatedBy            string                                       `json:"created_by"`
	Notes                string                                       `json:"notes"`
}

func (ValuationHistory) TableName() string {
	return "valuation_history"
}
