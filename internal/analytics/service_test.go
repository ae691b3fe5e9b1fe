package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"appraisal/server/internal/apperr"
	"appraisal/server/internal/database"
	"appraisal/server/internal/models"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

type fixture struct {
	svc        *Service
	properties *database.PropertyStore
	history    *database.HistoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger, _ := test.NewNullLogger()
	props := database.NewPropertyStore(db)
	history := database.NewHistoryStore(db)
	return &fixture{
		svc:        NewService(props, history, logger),
		properties: props,
		history:    history,
	}
}

func (f *fixture) add(t *testing.T, p models.Property) *models.Property {
	t.Helper()
	if p.PropertyType == "" {
		p.PropertyType = "apartment"
	}
	if p.TotalFloors == 0 {
		p.TotalFloors = 10
	}
	if p.Condition == "" {
		p.Condition = models.ConditionGood
	}
	if p.RenovationStatus == "" {
		p.RenovationStatus = models.RenovationPartial
	}
	require.NoError(t, f.properties.Create(context.Background(), &p))
	return &p
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(nil))

	one := Summarize([]float64{7})
	assert.Equal(t, Summary{Count: 1, Mean: 7, Median: 7, Min: 7, Max: 7}, one)

	s := Summarize([]float64{4, 1, 3, 2})
	assert.Equal(t, 4, s.Count)
	assert.InDelta(t, 2.5, s.Mean, 1e-9)
	assert.InDelta(t, 2.5, s.Median, 1e-9)
	assert.InDelta(t, 1.2909944, s.Std, 1e-6)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 4.0, s.Max)
}

func TestSimilarity(t *testing.T) {
	base := models.Property{
		Area: 100, FloorLevel: 5, TotalFloors: 10,
		Condition: models.ConditionGood, RenovationStatus: models.RenovationRecent,
	}

	tests := []struct {
		name   string
		mutate func(p *models.Property)
		want   float64
	}{
		{"identical", func(p *models.Property) {}, 1.0},
		{"half the area", func(p *models.Property) { p.Area = 50 }, 0.8},
		{"top floor", func(p *models.Property) { p.FloorLevel = 10 }, 0.9},
		{"poor condition", func(p *models.Property) { p.Condition = models.ConditionPoor }, 0.96},
		{"needs renovation", func(p *models.Property) { p.RenovationStatus = models.RenovationNeeded }, 0.88},
		{"unknown condition", func(p *models.Property) { p.Condition = "ruined" }, 0.82},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			comp := base
			tt.mutate(&comp)
			assert.InDelta(t, tt.want, Similarity(&base, &comp), 1e-9)
		})
	}
}

func TestMarketTrends(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.add(t, models.Property{Address: "A", Area: 50, Price: 100000, Condition: models.ConditionGood})
	f.add(t, models.Property{Address: "B", Area: 100, Price: 300000, Condition: models.ConditionGood})
	f.add(t, models.Property{Address: "C", Area: 80, Price: 200000, Condition: models.ConditionFair,
		RenovationStatus: models.RenovationNeeded})
	f.add(t, models.Property{Address: "D", PropertyType: "house", Area: 150, Price: 500000})
	f.add(t, models.Property{Address: "E", Area: 60, Price: 90000, CreatedAt: time.Now().AddDate(0, 0, -60)})

	trends, err := f.svc.MarketTrends(ctx, TrendQuery{PropertyType: "apartment"})
	require.NoError(t, err)

	assert.Equal(t, 3, trends.TotalProperties)
	assert.InDelta(t, 200000, trends.PriceStats.Mean, 1e-6)
	assert.InDelta(t, 200000, trends.PriceStats.Median, 1e-6)
	assert.InDelta(t, 100000, trends.PriceStats.Std, 1e-6)
	assert.InDelta(t, 2500, trends.PricePerSqmStats.Median, 1e-6)

	require.Contains(t, trends.ConditionStats, "good")
	assert.Equal(t, 2, trends.ConditionStats["good"].Count)
	assert.Equal(t, 1, trends.ConditionStats["fair"].Count)
	assert.Equal(t, 1, trends.RenovationStats["needs_renovation"].Count)

	require.Len(t, trends.DailyTrends, 1)
	assert.Equal(t, 3, trends.DailyTrends[0].Count)

	wide, err := f.svc.MarketTrends(ctx, TrendQuery{Days: 90, AreaMax: 70})
	require.NoError(t, err)
	assert.Equal(t, 2, wide.TotalProperties)

	_, err = f.svc.MarketTrends(ctx, TrendQuery{PropertyType: "commercial"})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestCompare(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	subject := f.add(t, models.Property{Address: "Subject", Area: 100, FloorLevel: 5, Price: 250000,
		Location: models.Location{Lat: 52.37, Lng: 4.89}})
	twin := f.add(t, models.Property{Address: "Twin", Area: 100, FloorLevel: 5, Price: 260000,
		Location: models.Location{Lat: 52.371, Lng: 4.891}})
	for i, area := range []float64{90, 120, 70, 40, 30} {
		f.add(t, models.Property{Address: "Other", Area: area, FloorLevel: i, Price: 100000 + float64(i)*10000,
			Location: models.Location{Lat: 52.6, Lng: 4.7}})
	}
	f.add(t, models.Property{Address: "House", PropertyType: "house", Area: 100, Price: 400000})

	cmp, err := f.svc.Compare(ctx, subject.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 6, cmp.TotalComparables)
	require.Len(t, cmp.ComparableProperties, TopComparables)
	assert.Equal(t, twin.ID, cmp.ComparableProperties[0].ID)
	assert.InDelta(t, 1.0, cmp.ComparableProperties[0].SimilarityScore, 1e-9)
	for i := 1; i < len(cmp.ComparableProperties); i++ {
		assert.GreaterOrEqual(t, cmp.ComparableProperties[i-1].SimilarityScore, cmp.ComparableProperties[i].SimilarityScore)
	}
	assert.InDelta(t, 2500, cmp.SubjectProperty.PricePerSqm, 1e-9)
	assert.Equal(t, 6, cmp.PriceRanges.All.Count)
	require.NotNil(t, cmp.PriceRanges.Similar)
	assert.Equal(t, 260000.0, cmp.PriceRanges.Similar.Max)

	near, err := f.svc.Compare(ctx, subject.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, near.TotalComparables)
	require.NotNil(t, near.ComparableProperties[0].DistanceKm)
	assert.Less(t, *near.ComparableProperties[0].DistanceKm, 1.0)

	lonely := f.add(t, models.Property{Address: "Shop", PropertyType: "commercial", Area: 60, Price: 1})
	_, err = f.svc.Compare(ctx, lonely.ID, 0)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = f.svc.Compare(ctx, 9999, 0)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestAnalyzeAdjustments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	p := f.add(t, models.Property{Address: "Subject", Area: 100, Price: 250000})
	id := p.ID

	entries := []map[string][]models.Adjustment{
		{
			"comparable_1": {{Feature: "area", Value: 1000}, {Feature: "condition", Value: -500}},
			"comparable_2": {{Feature: "area", Value: 3000}},
		},
		{
			"comparable_1": {{Feature: "area", Value: 2000}},
		},
	}
	for _, adjs := range entries {
		require.NoError(t, f.history.Record(ctx, &models.ValuationHistory{
			PropertyID:    &id,
			ValuationDate: time.Now(),
			ValuationType: models.ValuationTypeComparative,
			Adjustments:   datatypes.NewJSONType(adjs),
		}))
	}

	got, err := f.svc.AnalyzeAdjustments(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalValuations)

	area := got.AdjustmentAnalysis["area"]
	assert.Equal(t, 3, area.Count)
	assert.InDelta(t, 2000, area.Mean, 1e-9)
	assert.InDelta(t, 2000, area.Median, 1e-9)
	assert.InDelta(t, 816.4966, area.Std, 1e-4)
	assert.InDelta(t, 6000, area.Total, 1e-9)
	assert.Equal(t, 1000.0, area.Min)
	assert.Equal(t, 3000.0, area.Max)

	cond := got.AdjustmentAnalysis["condition"]
	assert.Equal(t, 1, cond.Count)
	assert.Equal(t, 0.0, cond.Std)

	other := f.add(t, models.Property{Address: "Fresh", Area: 50, Price: 100000})
	_, err = f.svc.AnalyzeAdjustments(ctx, other.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}
