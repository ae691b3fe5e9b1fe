package valuation

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"appraisal/server/internal/apperr"
	"appraisal/server/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Record(ctx context.Context, entry *models.ValuationHistory) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

type countingObserver struct {
	mu        sync.Mutex
	computed  int
	rejected  []string
	faults    int
	lastScore float64
}

func (o *countingObserver) ValuationComputed(comparables int, confidence float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.computed++
	o.lastScore = confidence
}

func (o *countingObserver) ValuationRejected(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected = append(o.rejected, reason)
}

func (o *countingObserver) HistoryFault() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.faults++
}

func newTestEngine(recorder HistoryRecorder) *Engine {
	logger, _ := test.NewNullLogger()
	e := NewEngine(NewCalculator(DefaultRates()), recorder, logger)
	e.now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }
	return e
}

// comparableAt returns a comparable identical to sampleProperty except for its
// id and price, so every adjustment is zero and the adjusted price equals the
// listed price.
func comparableAt(id uint, price float64) models.Property {
	p := sampleProperty()
	p.ID = id
	p.Price = price
	return p
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name     string
		prices   []float64
		expected float64
		delta    float64
	}{
		{"no prices", nil, DefaultConfidence, 0},
		{"single comparable", []float64{300000}, DefaultConfidence, 0},
		{"all equal", []float64{45e6, 45e6, 45e6}, 1.0, 1e-12},
		{"zero mean", []float64{-100, 100}, DefaultConfidence, 0},
		{"tight cluster", []float64{45.0e6, 45.1e6, 44.9e6}, 0.9982, 0.0001},
		{"wide spread", []float64{100, 300}, 1 / (1 + 0.5), 1e-12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Confidence(tt.prices)
			assert.InDelta(t, tt.expected, c, tt.delta)
			assert.GreaterOrEqual(t, c, 0.0)
			assert.LessOrEqual(t, c, 1.0)
		})
	}
}

func TestConfidence_NegativeMeanStaysInRange(t *testing.T) {
	c := Confidence([]float64{-100, -300})
	assert.InDelta(t, 1/(1+0.5), c, 1e-12)
}

func TestFinalValuation_UnweightedMean(t *testing.T) {
	assert.Equal(t, 45000000.0, FinalValuation([]float64{44000000, 46000000}))
	assert.Equal(t, 0.0, FinalValuation(nil))
}

func TestEngine_TwoComparablesMean(t *testing.T) {
	e := newTestEngine(nil)

	result, err := e.Evaluate(sampleProperty(), []models.Property{
		comparableAt(1, 44000000),
		comparableAt(2, 46000000),
	})
	require.NoError(t, err)
	assert.Equal(t, 45000000.0, result.FinalValuation)
	assert.Len(t, result.Adjustments, 2)
	assert.Contains(t, result.Adjustments, "1")
	assert.Contains(t, result.Adjustments, "2")
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), result.CreatedAt)
}

func TestEngine_SingleComparableDefaultConfidence(t *testing.T) {
	e := newTestEngine(nil)

	result, err := e.Evaluate(sampleProperty(), []models.Property{comparableProperty()})
	require.NoError(t, err)
	assert.Equal(t, 0.5, result.ConfidenceScore)
}

func TestEngine_EqualAdjustedPricesMaxConfidence(t *testing.T) {
	e := newTestEngine(nil)

	result, err := e.Evaluate(sampleProperty(), []models.Property{
		comparableAt(1, 45000000),
		comparableAt(2, 45000000),
		comparableAt(3, 45000000),
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, result.ConfidenceScore)
}

func TestEngine_NoComparables(t *testing.T) {
	e := newTestEngine(nil)
	obs := &countingObserver{}
	e.SetObserver(obs)

	result, err := e.ComputeValuation(context.Background(), sampleProperty(), nil)
	assert.Nil(t, result)
	var insufficient *apperr.InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 0, insufficient.Have)
	assert.Equal(t, []string{"insufficient_data"}, obs.rejected)
}

func TestEngine_ValidationNamesOffendingComparable(t *testing.T) {
	e := newTestEngine(nil)
	bad := comparableAt(9, 100)
	bad.TotalFloors = 0

	_, err := e.Evaluate(sampleProperty(), []models.Property{comparableAt(1, 100), bad})
	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "comparable 2 (id 9)", verr.Subject)
	assert.Equal(t, "total_floors", verr.Field)
}

func TestEngine_DuplicateComparableIDs(t *testing.T) {
	e := newTestEngine(nil)

	_, err := e.Evaluate(sampleProperty(), []models.Property{comparableAt(4, 100), comparableAt(4, 200)})
	assert.True(t, apperr.IsValidation(err))
}

func TestEngine_AdHocComparablesGetPositionalKeys(t *testing.T) {
	e := newTestEngine(nil)

	result, err := e.Evaluate(sampleProperty(), []models.Property{comparableAt(0, 100), comparableAt(0, 200), comparableAt(5, 300)})
	require.NoError(t, err)
	require.Len(t, result.Adjustments, 3)
	assert.Contains(t, result.Adjustments, "comparable-1")
	assert.Contains(t, result.Adjustments, "comparable-2")
	assert.Contains(t, result.Adjustments, "5")
	assert.Equal(t, "comparable-2", result.ComparableSummaries[1].Key)
}

func TestNewHistoryEntry_KeepsOnlyStoredComparableIDs(t *testing.T) {
	e := newTestEngine(nil)

	result, err := e.Evaluate(sampleProperty(), []models.Property{comparableAt(0, 100), comparableAt(5, 300)})
	require.NoError(t, err)

	entry := NewHistoryEntry(result, "appraiser", "")
	assert.Equal(t, []uint{5}, []uint(entry.ComparableProperties))
	adjustments := entry.Adjustments.Data()
	assert.Len(t, adjustments, 2)
	assert.Contains(t, adjustments, "comparable-1")
	assert.Contains(t, adjustments, "5")
}

func TestEngine_RequiredFeatures(t *testing.T) {
	e := newTestEngine(nil)
	comp := comparableProperty()

	_, err := e.Valuate(context.Background(), Request{
		Subject:          sampleProperty(),
		Comparables:      []models.Property{comp},
		RequiredFeatures: []string{"balconies"},
	})
	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "comparable 1 (id 1)", verr.Subject)
	assert.Contains(t, verr.Reason, "balconies")
}

func TestEngine_AdjustedPriceIsPricePlusAdjustments(t *testing.T) {
	e := newTestEngine(nil)
	comp := comparableProperty()

	result, err := e.Evaluate(sampleProperty(), []models.Property{comp})
	require.NoError(t, err)

	summary := result.ComparableSummaries[0]
	total := models.TotalAdjustment(result.Adjustments["1"])
	assert.Equal(t, total, summary.TotalAdjustment)
	assert.Equal(t, comp.Price+total, summary.AdjustedPrice)
	assert.Equal(t, summary.AdjustedPrice, result.FinalValuation)
}

func TestEngine_RecordsHistory(t *testing.T) {
	recorder := &MockRecorder{}
	recorder.On("Record", mock.Anything, mock.AnythingOfType("*models.ValuationHistory")).
		Run(func(args mock.Arguments) {
			args.Get(1).(*models.ValuationHistory).ID = 42
		}).
		Return(nil).Once()

	e := newTestEngine(recorder)
	subject := sampleProperty()
	subject.ID = 11

	result, err := e.Valuate(context.Background(), Request{
		Subject:     subject,
		Comparables: []models.Property{comparableAt(1, 44000000), comparableAt(2, 46000000)},
		CreatedBy:   "appraiser@example.com",
	})
	require.NoError(t, err)
	require.NotNil(t, result.History)
	assert.Equal(t, models.HistoryRecorded, result.History.Status)
	require.NotNil(t, result.History.EntryID)
	assert.Equal(t, uint(42), *result.History.EntryID)

	entry := recorder.Calls[0].Arguments.Get(1).(*models.ValuationHistory)
	require.NotNil(t, entry.PropertyID)
	assert.Equal(t, uint(11), *entry.PropertyID)
	assert.Equal(t, []uint{1, 2}, []uint(entry.ComparableProperties))
	assert.Equal(t, 45000000.0, entry.AdjustedPrice)
	assert.Equal(t, subject.Price, entry.OriginalPrice)
	assert.Equal(t, "appraiser@example.com", entry.CreatedBy)
	assert.Equal(t, "Confidence score: 0.98", entry.Notes)
	assert.Len(t, entry.Adjustments.Data(), 2)
	recorder.AssertExpectations(t)
}

func TestEngine_QueuedHistory(t *testing.T) {
	recorder := &MockRecorder{}
	recorder.On("Record", mock.Anything, mock.Anything).Return(nil).Once()

	e := newTestEngine(recorder)
	result, err := e.ComputeValuation(context.Background(), sampleProperty(), []models.Property{comparableProperty()})
	require.NoError(t, err)
	assert.Equal(t, models.HistoryQueued, result.History.Status)
	assert.Nil(t, result.History.EntryID)
}

func TestEngine_HistoryFailureIsNotFatal(t *testing.T) {
	recorder := &MockRecorder{}
	recorder.On("Record", mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()

	logger, hook := test.NewNullLogger()
	e := NewEngine(NewCalculator(DefaultRates()), recorder, logger)
	obs := &countingObserver{}
	e.SetObserver(obs)

	result, err := e.ComputeValuation(context.Background(), sampleProperty(), []models.Property{
		comparableAt(1, 44000000),
		comparableAt(2, 46000000),
	})
	require.NoError(t, err)
	assert.Equal(t, 45000000.0, result.FinalValuation)
	assert.Equal(t, models.HistoryFailed, result.History.Status)
	assert.Contains(t, result.History.Error, "disk full")

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	loggedErr, ok := hook.LastEntry().Data[logrus.ErrorKey].(error)
	require.True(t, ok)
	var fault *apperr.PersistenceFault
	assert.ErrorAs(t, loggedErr, &fault)

	assert.Equal(t, 1, obs.computed)
	assert.Equal(t, 1, obs.faults)
}

func TestEngine_NoRecorder(t *testing.T) {
	e := newTestEngine(nil)

	result, err := e.ComputeValuation(context.Background(), sampleProperty(), []models.Property{comparableProperty()})
	require.NoError(t, err)
	assert.Equal(t, models.HistoryDisabled, result.History.Status)
}

func TestValuationResult_JSONRoundTrip(t *testing.T) {
	e := newTestEngine(nil)

	result, err := e.Evaluate(sampleProperty(), []models.Property{comparableProperty(), comparableAt(0, 41234567.89)})
	require.NoError(t, err)

	data, err := json.Marshal(result)
	require.NoError(t, err)

	var decoded models.ValuationResult
	require.NoError(t, json.Unmarshal(data, &decoded))

	require.Len(t, decoded.Adjustments, len(result.Adjustments))
	for key, adjs := range result.Adjustments {
		got := decoded.Adjustments[key]
		require.Len(t, got, len(adjs), key)
		for i := range adjs {
			assert.Equal(t, adjs[i].Feature, got[i].Feature)
			assert.Equal(t, math.Float64bits(adjs[i].Value), math.Float64bits(got[i].Value))
		}
	}
	assert.Equal(t, result.FinalValuation, decoded.FinalValuation)
	assert.Equal(t, result.SubjectProperty.Features, decoded.SubjectProperty.Features)
}

type stubLoader map[uint]models.Property

func (s stubLoader) GetProperty(ctx context.Context, id uint) (*models.Property, error) {
	p, ok := s[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &p, nil
}

func TestLoadProperties(t *testing.T) {
	loader := stubLoader{1: comparableAt(1, 100), 2: comparableAt(2, 200)}

	props, err := LoadProperties(context.Background(), loader, []uint{2, 1})
	require.NoError(t, err)
	require.Len(t, props, 2)
	assert.Equal(t, uint(2), props[0].ID)

	_, err = LoadProperties(context.Background(), loader, []uint{3})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
