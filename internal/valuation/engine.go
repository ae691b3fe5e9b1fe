package valuation

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"appraisal/server/internal/apperr"
	"appraisal/server/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// HistoryRecorder stores the audit entry of a computed valuation. An entry
// whose ID is set after Record returns was written synchronously; otherwise it
// was accepted for later writing.
type HistoryRecorder interface {
	Record(ctx context.Context, entry *models.ValuationHistory) error
}

// PropertyLoader resolves stored properties. A missing id yields an error
// wrapping apperr.ErrNotFound.
type PropertyLoader interface {
	GetProperty(ctx context.Context, id uint) (*models.Property, error)
}

// Observer receives valuation outcomes, typically to feed metrics.
type Observer interface {
	ValuationComputed(comparables int, confidence float64)
	ValuationRejected(reason string)
	HistoryFault()
}

type Request struct {
	Subject     models.Property
	Comparables []models.Property
	// RequiredFeatures must be present on the subject and on every comparable.
	RequiredFeatures []string
	CreatedBy        string
	Notes            string
}

type Engine struct {
	calc     *Calculator
	recorder HistoryRecorder
	logger   *logrus.Logger
	observer Observer
	now      func() time.Time
}

// NewEngine builds an engine. A nil recorder disables history; a nil logger
// falls back to JSON on stdout.
func NewEngine(calc *Calculator, recorder HistoryRecorder, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Engine{
		calc:     calc,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

func (e *Engine) SetObserver(o Observer) {
	e.observer = o
}

func (e *Engine) Calculator() *Calculator {
	return e.calc
}

// ComputeValuation values subject against comparables and records the result.
func (e *Engine) ComputeValuation(ctx context.Context, subject models.Property, comparables []models.Property) (*models.ValuationResult, error) {
	return e.Valuate(ctx, Request{Subject: subject, Comparables: comparables})
}

// Valuate computes the valuation described by req and records a history
// entry. Recording is best effort: a storage failure is logged and reported
// in result.History, never returned.
func (e *Engine) Valuate(ctx context.Context, req Request) (*models.ValuationResult, error) {
	result, err := e.evaluate(req)
	if err != nil {
		if e.observer != nil {
			e.observer.ValuationRejected(rejectionReason(err))
		}
		return nil, err
	}
	if e.observer != nil {
		e.observer.ValuationComputed(len(result.ComparableProperties), result.ConfidenceScore)
	}

	result.History = e.record(ctx, result, req)
	return result, nil
}

// Evaluate computes a valuation without recording it.
func (e *Engine) Evaluate(subject models.Property, comparables []models.Property) (*models.ValuationResult, error) {
	return e.evaluate(Request{Subject: subject, Comparables: comparables})
}

func (e *Engine) evaluate(req Request) (*models.ValuationResult, error) {
	if len(req.Comparables) == 0 {
		return nil, &apperr.InsufficientDataError{Have: 0, Need: 1}
	}

	subject := req.Subject
	if err := ValidateProperty("subject", &subject, RoleSubject); err != nil {
		return nil, err
	}
	if err := requireFeatures("subject", &subject, req.RequiredFeatures); err != nil {
		return nil, err
	}

	keys := make([]string, len(req.Comparables))
	seen := make(map[string]bool, len(req.Comparables))
	for i := range req.Comparables {
		comp := &req.Comparables[i]
		label := comparableLabel(i, comp)
		if err := ValidateProperty(label, comp, RoleComparable); err != nil {
			return nil, err
		}
		if err := requireFeatures(label, comp, req.RequiredFeatures); err != nil {
			return nil, err
		}
		key := ComparableKey(i, comp)
		if seen[key] {
			return nil, apperr.NewValidation(label, "id", "duplicate comparable property")
		}
		seen[key] = true
		keys[i] = key
	}

	comparables := make([]models.Property, len(req.Comparables))
	copy(comparables, req.Comparables)

	adjustments := make(map[string][]models.Adjustment, len(comparables))
	summaries := make([]models.ComparableSummary, 0, len(comparables))
	adjustedPrices := make([]float64, 0, len(comparables))
	for i := range comparables {
		adjs := e.calc.adjustments(&subject, &comparables[i])
		total := models.TotalAdjustment(adjs)
		adjusted := comparables[i].Price + total

		adjustments[keys[i]] = adjs
		adjustedPrices = append(adjustedPrices, adjusted)
		summaries = append(summaries, models.ComparableSummary{
			Key:             keys[i],
			OriginalPrice:   comparables[i].Price,
			TotalAdjustment: total,
			AdjustedPrice:   adjusted,
		})
	}

	return &models.ValuationResult{
		SubjectProperty:      subject,
		ComparableProperties: comparables,
		Adjustments:          adjustments,
		ComparableSummaries:  summaries,
		FinalValuation:       FinalValuation(adjustedPrices),
		ConfidenceScore:      Confidence(adjustedPrices),
		CreatedAt:            e.now().UTC(),
	}, nil
}

func (e *Engine) record(ctx context.Context, result *models.ValuationResult, req Request) *models.HistoryOutcome {
	if e.recorder == nil {
		return &models.HistoryOutcome{Status: models.HistoryDisabled}
	}

	entry := NewHistoryEntry(result, req.CreatedBy, req.Notes)
	if err := e.recorder.Record(ctx, entry); err != nil {
		fault := &apperr.PersistenceFault{Op: "save valuation history", Err: err}
		e.logger.WithError(fault).WithFields(logrus.Fields{
			"subject_id":       result.SubjectProperty.ID,
			"comparable_count": len(result.ComparableProperties),
			"final_valuation":  result.FinalValuation,
		}).Error("Failed to record valuation history")
		if e.observer != nil {
			e.observer.HistoryFault()
		}
		return &models.HistoryOutcome{Status: models.HistoryFailed, Error: fault.Error()}
	}

	if entry.ID == 0 {
		return &models.HistoryOutcome{Status: models.HistoryQueued}
	}
	id := entry.ID
	return &models.HistoryOutcome{Status: models.HistoryRecorded, EntryID: &id}
}

// NewHistoryEntry converts a result into its audit row.
func NewHistoryEntry(result *models.ValuationResult, createdBy, notes string) *models.ValuationHistory {
	var propertyID *uint
	if result.SubjectProperty.ID != 0 {
		id := result.SubjectProperty.ID
		propertyID = &id
	}

	ids := make([]uint, 0, len(result.ComparableProperties))
	for _, c := range result.ComparableProperties {
		if c.ID != 0 {
			ids = append(ids, c.ID)
		}
	}

	if notes == "" {
		notes = fmt.Sprintf("Confidence score: %.2f", result.ConfidenceScore)
	}

	return &models.ValuationHistory{
		PropertyID:           propertyID,
		ValuationDate:        result.CreatedAt,
		ValuationType:        models.ValuationTypeComparative,
		OriginalPrice:        result.SubjectProperty.Price,
		AdjustedPrice:        result.FinalValuation,
		ConfidenceScore:      result.ConfidenceScore,
		Adjustments:          datatypes.NewJSONType(result.Adjustments),
		ComparableProperties: ids,
		CreatedBy:            createdBy,
		Notes:                notes,
	}
}

// ComparableKey identifies a comparable in the adjustments map: its stored id
// when it has one, otherwise its 1-based position.
func ComparableKey(index int, p *models.Property) string {
	if p.ID != 0 {
		return strconv.FormatUint(uint64(p.ID), 10)
	}
	return fmt.Sprintf("comparable-%d", index+1)
}

// LoadProperties resolves ids in order through loader.
func LoadProperties(ctx context.Context, loader PropertyLoader, ids []uint) ([]models.Property, error) {
	props := make([]models.Property, 0, len(ids))
	for _, id := range ids {
		p, err := loader.GetProperty(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load property %d: %w", id, err)
		}
		props = append(props, *p)
	}
	return props, nil
}

func comparableLabel(index int, p *models.Property) string {
	if p.ID != 0 {
		return fmt.Sprintf("comparable %d (id %d)", index+1, p.ID)
	}
	return fmt.Sprintf("comparable %d", index+1)
}

func requireFeatures(label string, p *models.Property, names []string) error {
	for _, name := range names {
		if _, ok := p.FeatureValue(name); !ok {
			return apperr.NewValidation(label, "features", fmt.Sprintf("missing required feature %q", name))
		}
	}
	return nil
}

func rejectionReason(err error) string {
	switch {
	case apperr.IsInsufficientData(err):
		return "insufficient_data"
	case apperr.IsValidation(err):
		return "validation"
	default:
		return "error"
	}
}
