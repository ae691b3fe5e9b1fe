// Package export renders valuation results and property lists as PDF reports,
// Excel workbooks and GeoJSON maps.
package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FormatMoney renders v with two decimals and thousands separators, e.g.
// "-1,234,567.80". Rounding is done in decimal arithmetic.
func FormatMoney(v float64) string {
	d := decimal.NewFromFloat(v).Round(2)
	s := d.Abs().StringFixed(2)

	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	if d.IsNegative() {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}

// FormatPercent renders a [0,1] score as a percentage with two decimals.
func FormatPercent(v float64) string {
	return decimal.NewFromFloat(v).Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}

// Filename returns the download name of a report generated at t.
func Filename(t time.Time, ext string) string {
	return fmt.Sprintf("valuation_report_%s.%s", t.Format("20060102_150405"), ext)
}
