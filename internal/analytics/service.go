// Package analytics summarizes stored properties and valuation history:
// market trends, similarity-ranked comparisons and adjustment statistics.
package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"appraisal/server/internal/apperr"
	"appraisal/server/internal/database"
	"appraisal/server/internal/geometry"
	"appraisal/server/internal/models"
	"appraisal/server/internal/valuation"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	DefaultTrendDays = 30
	TopComparables   = 5
	// SimilarThreshold is the score above which a comparable counts as similar.
	SimilarThreshold = 0.7
)

// Similarity weights.
const (
	weightArea       = 0.4
	weightFloor      = 0.2
	weightCondition  = 0.2
	weightRenovation = 0.2
)

// Summary describes a sample of values. Std is the sample standard deviation
// and is zero for fewer than two values.
type Summary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

type DailyTrend struct {
	Date   string  `json:"date"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
}

type MarketTrends struct {
	TotalProperties  int                `json:"total_properties"`
	Since            time.Time          `json:"since"`
	PriceStats       Summary            `json:"price_stats"`
	PricePerSqmStats Summary            `json:"price_per_sqm_stats"`
	ConditionStats   map[string]Summary `json:"condition_stats"`
	RenovationStats  map[string]Summary `json:"renovation_stats"`
	DailyTrends      []DailyTrend       `json:"daily_trends"`
}

type TrendQuery struct {
	PropertyType string
	AreaMin      float64
	AreaMax      float64
	Days         int
}

type ScoredComparable struct {
	ID               uint                    `json:"id"`
	Address          string                  `json:"address"`
	Price            float64                 `json:"price"`
	Area             float64                 `json:"area"`
	PricePerSqm      float64                 `json:"price_per_sqm"`
	FloorLevel       int                     `json:"floor_level"`
	TotalFloors      int                     `json:"total_floors"`
	Condition        models.Condition        `json:"condition"`
	RenovationStatus models.RenovationStatus `json:"renovation_status"`
	DistanceKm       *float64                `json:"distance_km,omitempty"`
	SimilarityScore  float64                 `json:"similarity_score"`
}

type SubjectSummary struct {
	ID               uint                    `json:"id"`
	Price            float64                 `json:"price"`
	Area             float64                 `json:"area"`
	PricePerSqm      float64                 `json:"price_per_sqm"`
	Condition        models.Condition        `json:"condition"`
	RenovationStatus models.RenovationStatus `json:"renovation_status"`
}

type PriceRanges struct {
	Similar *Summary `json:"similar"`
	All     Summary  `json:"all"`
}

type Comparison struct {
	SubjectProperty      SubjectSummary     `json:"subject_property"`
	ComparableProperties []ScoredComparable `json:"comparable_properties"`
	PriceRanges          PriceRanges        `json:"price_ranges"`
	TotalComparables     int                `json:"total_comparables"`
}

type FeatureAdjustments struct {
	Summary
	Total float64 `json:"total"`
}

type AdjustmentAnalysis struct {
	PropertyID         uint                          `json:"property_id"`
	TotalValuations    int                           `json:"total_valuations"`
	AdjustmentAnalysis map[string]FeatureAdjustments `json:"adjustment_analysis"`
}

type Service struct {
	properties *database.PropertyStore
	history    *database.HistoryStore
	logger     *logrus.Logger
	now        func() time.Time
}

func NewService(properties *database.PropertyStore, history *database.HistoryStore, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{properties: properties, history: history, logger: logger, now: time.Now}
}

// MarketTrends aggregates the priced properties created within the last
// q.Days days. An empty selection is reported as apperr.ErrNotFound.
func (s *Service) MarketTrends(ctx context.Context, q TrendQuery) (*MarketTrends, error) {
	days := q.Days
	if days <= 0 {
		days = DefaultTrendDays
	}
	since := s.now().AddDate(0, 0, -days)

	props, err := s.properties.Matching(ctx, models.TrendFilter{
		PropertyType: q.PropertyType,
		AreaMin:      q.AreaMin,
		AreaMax:      q.AreaMax,
		Since:        since,
	})
	if err != nil {
		return nil, err
	}
	if len(props) == 0 {
		return nil, fmt.Errorf("no properties found for the specified criteria: %w", apperr.ErrNotFound)
	}

	var prices, perSqm []float64
	byCondition := make(map[string][]float64)
	byRenovation := make(map[string][]float64)
	byDay := make(map[string][]float64)
	for _, p := range props {
		prices = append(prices, p.Price)
		if p.Area > 0 {
			perSqm = append(perSqm, p.Price/p.Area)
		}
		byCondition[string(p.Condition)] = append(byCondition[string(p.Condition)], p.Price)
		byRenovation[string(p.RenovationStatus)] = append(byRenovation[string(p.RenovationStatus)], p.Price)
		day := p.CreatedAt.UTC().Format("2006-01-02")
		byDay[day] = append(byDay[day], p.Price)
	}

	trends := &MarketTrends{
		TotalProperties:  len(props),
		Since:            since,
		PriceStats:       Summarize(prices),
		PricePerSqmStats: Summarize(perSqm),
		ConditionStats:   summarizeGroups(byCondition),
		RenovationStats:  summarizeGroups(byRenovation),
	}

	dates := make([]string, 0, len(byDay))
	for day := range byDay {
		dates = append(dates, day)
	}
	sort.Strings(dates)
	for _, day := range dates {
		sum := Summarize(byDay[day])
		trends.DailyTrends = append(trends.DailyTrends, DailyTrend{
			Date: day, Count: sum.Count, Mean: sum.Mean, Median: sum.Median,
		})
	}

	s.logger.WithFields(logrus.Fields{
		"property_type": q.PropertyType,
		"days":          days,
		"properties":    len(props),
	}).Debug("Computed market trends")
	return trends, nil
}

// Compare ranks stored properties of the subject's type by similarity. With
// radiusKm > 0 and a located subject, only comparables within the radius are
// considered.
func (s *Service) Compare(ctx context.Context, propertyID uint, radiusKm float64) (*Comparison, error) {
	subject, err := s.properties.GetProperty(ctx, propertyID)
	if err != nil {
		return nil, err
	}

	candidates, err := s.properties.SameType(ctx, subject.PropertyType, subject.ID)
	if err != nil {
		return nil, err
	}

	distances := make(map[uint]float64)
	if radiusKm > 0 && !subject.Location.IsZero() {
		nearby := geometry.WithinRadius(subject.Location, candidates, radiusKm)
		candidates = candidates[:0]
		for _, n := range nearby {
			candidates = append(candidates, n.Property)
			distances[n.Property.ID] = n.DistanceKm
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no comparable properties found for property %d: %w", propertyID, apperr.ErrNotFound)
	}

	scored := make([]ScoredComparable, 0, len(candidates))
	var all, similar []float64
	for i := range candidates {
		c := &candidates[i]
		sc := ScoredComparable{
			ID:               c.ID,
			Address:          c.Address,
			Price:            c.Price,
			Area:             c.Area,
			PricePerSqm:      pricePerSqm(c),
			FloorLevel:       c.FloorLevel,
			TotalFloors:      c.TotalFloors,
			Condition:        c.Condition,
			RenovationStatus: c.RenovationStatus,
			SimilarityScore:  Similarity(subject, c),
		}
		if d, ok := distances[c.ID]; ok {
			sc.DistanceKm = &d
		}
		scored = append(scored, sc)
		all = append(all, c.Price)
		if sc.SimilarityScore > SimilarThreshold {
			similar = append(similar, c.Price)
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].SimilarityScore > scored[j].SimilarityScore
	})
	top := scored
	if len(top) > TopComparables {
		top = top[:TopComparables]
	}

	ranges := PriceRanges{All: Summarize(all)}
	if len(similar) > 0 {
		sum := Summarize(similar)
		ranges.Similar = &sum
	}

	return &Comparison{
		SubjectProperty: SubjectSummary{
			ID:               subject.ID,
			Price:            subject.Price,
			Area:             subject.Area,
			PricePerSqm:      pricePerSqm(subject),
			Condition:        subject.Condition,
			RenovationStatus: subject.RenovationStatus,
		},
		ComparableProperties: top,
		PriceRanges:          ranges,
		TotalComparables:     len(candidates),
	}, nil
}

// AnalyzeAdjustments collects every adjustment recorded for the property
// across its valuation history and summarizes them per feature.
func (s *Service) AnalyzeAdjustments(ctx context.Context, propertyID uint) (*AdjustmentAnalysis, error) {
	if _, err := s.properties.GetProperty(ctx, propertyID); err != nil {
		return nil, err
	}
	entries, err := s.history.ForProperty(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no valuation history found for property %d: %w", propertyID, apperr.ErrNotFound)
	}

	values := make(map[string][]float64)
	for _, entry := range entries {
		for _, adjs := range entry.Adjustments.Data() {
			for _, adj := range adjs {
				values[adj.Feature] = append(values[adj.Feature], adj.Value)
			}
		}
	}

	analysis := make(map[string]FeatureAdjustments, len(values))
	for feature, vs := range values {
		sum := Summarize(vs)
		// spread of recorded adjustments, not a sample estimate
		sum.Std = popStd(vs)
		analysis[feature] = FeatureAdjustments{Summary: sum, Total: floats.Sum(vs)}
	}

	return &AdjustmentAnalysis{
		PropertyID:         propertyID,
		TotalValuations:    len(entries),
		AdjustmentAnalysis: analysis,
	}, nil
}

// Similarity scores how alike two properties are in [0, 1]: area ratio,
// relative floor position, condition and renovation score distance.
func Similarity(subject, comparable *models.Property) float64 {
	areaScore := 0.0
	if larger := math.Max(subject.Area, comparable.Area); larger > 0 {
		areaScore = 1 - math.Abs(subject.Area-comparable.Area)/larger
	}

	floorScore := 1 - math.Abs(relativeFloor(subject)-relativeFloor(comparable))

	condScore := 1 - math.Abs(conditionScore(subject.Condition)-conditionScore(comparable.Condition))
	renoScore := 1 - math.Abs(renovationScore(subject.RenovationStatus)-renovationScore(comparable.RenovationStatus))

	score := areaScore*weightArea +
		floorScore*weightFloor +
		condScore*weightCondition +
		renoScore*weightRenovation
	return math.Max(0, math.Min(1, score))
}

// Summarize returns count, mean, median, sample std, min and max of values.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	sum := Summary{
		Count:  len(sorted),
		Mean:   stat.Mean(sorted, nil),
		Median: database.Median(sorted),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
	}
	if len(sorted) > 1 {
		if std := stat.StdDev(sorted, nil); !math.IsNaN(std) {
			sum.Std = std
		}
	}
	return sum
}

func summarizeGroups(groups map[string][]float64) map[string]Summary {
	out := make(map[string]Summary, len(groups))
	for k, vs := range groups {
		out[k] = Summarize(vs)
	}
	return out
}

func popStd(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	_, std := stat.PopMeanStdDev(values, nil)
	if math.IsNaN(std) {
		return 0
	}
	return std
}

func relativeFloor(p *models.Property) float64 {
	if p.TotalFloors <= 0 {
		return 0
	}
	return float64(p.FloorLevel) / float64(p.TotalFloors)
}

func pricePerSqm(p *models.Property) float64 {
	if p.Area <= 0 {
		return 0
	}
	return p.Price / p.Area
}

// Unknown values score zero so they read as maximally dissimilar.
func conditionScore(c models.Condition) float64 {
	v, _ := valuation.ConditionScore(c)
	return v
}

func renovationScore(r models.RenovationStatus) float64 {
	v, _ := valuation.RenovationScore(r)
	return v
}
