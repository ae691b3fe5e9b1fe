package valuation

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// DefaultConfidence is reported when the adjusted prices carry no dispersion
// evidence: a single comparable, or a mean of zero.
const DefaultConfidence = 0.5

// FinalValuation is the unweighted mean of the adjusted prices.
func FinalValuation(adjustedPrices []float64) float64 {
	if len(adjustedPrices) == 0 {
		return 0
	}
	return stat.Mean(adjustedPrices, nil)
}

// Confidence maps the coefficient of variation of the adjusted prices to
// 1/(1+cv), clamped to [0, 1]. The population standard deviation is used and
// cv is taken against |mean| so a negative mean cannot push the score above 1.
func Confidence(adjustedPrices []float64) float64 {
	if len(adjustedPrices) < 2 {
		return DefaultConfidence
	}
	mean, std := stat.PopMeanStdDev(adjustedPrices, nil)
	if mean == 0 || math.IsNaN(mean) || math.IsInf(mean, 0) {
		return DefaultConfidence
	}
	// tiny negative variances from rounding come back as NaN
	if math.IsNaN(std) {
		std = 0
	}
	cv := std / math.Abs(mean)
	return clamp(1/(1+cv), 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
