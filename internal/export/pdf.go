package export

import (
	"fmt"
	"io"

	"appraisal/server/internal/models"

	"github.com/go-pdf/fpdf"
)

// ValuationPDF writes a printable valuation report.
func ValuationPDF(w io.Writer, result *models.ValuationResult) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Property Valuation Report", true)
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 12, "Property Valuation Report", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 6, "Generated "+result.CreatedAt.Format("2006-01-02 15:04:05 MST"), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	heading := func(text string) {
		pdf.SetFont("Helvetica", "B", 14)
		pdf.CellFormat(0, 9, text, "", 1, "L", false, 0, "")
		pdf.Ln(1)
	}

	subject := result.SubjectProperty
	heading("Property Details")
	rows := [][2]string{
		{"Address", subject.Address},
		{"Type", subject.PropertyType},
		{"Area", fmt.Sprintf("%.2f sqm", subject.Area)},
		{"Floor", fmt.Sprintf("%d of %d", subject.FloorLevel, subject.TotalFloors)},
		{"Condition", string(subject.Condition)},
		{"Renovation Status", string(subject.RenovationStatus)},
		{"Asking Price", FormatMoney(subject.Price)},
	}
	pdf.SetFillColor(220, 220, 220)
	for _, row := range rows {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(50, 7, row[0], "1", 0, "L", true, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.CellFormat(0, 7, tr(row[1]), "1", 1, "L", false, 0, "")
	}
	pdf.Ln(6)

	heading("Valuation Results")
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Final Valuation: "+FormatMoney(result.FinalValuation), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 7, "Confidence Score: "+FormatPercent(result.ConfidenceScore), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	heading("Comparables")
	tableHeader(pdf, []string{"#", "Address", "Price", "Adjustment", "Adjusted"}, []float64{10, 70, 30, 30, 30})
	pdf.SetFont("Helvetica", "", 9)
	for i, c := range result.ComparableProperties {
		var summary models.ComparableSummary
		if i < len(result.ComparableSummaries) {
			summary = result.ComparableSummaries[i]
		}
		pdf.CellFormat(10, 7, fmt.Sprint(i+1), "1", 0, "C", false, 0, "")
		pdf.CellFormat(70, 7, tr(truncate(c.Address, 45)), "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 7, FormatMoney(c.Price), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 7, FormatMoney(summary.TotalAdjustment), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 7, FormatMoney(summary.AdjustedPrice), "1", 1, "R", false, 0, "")
	}
	pdf.Ln(6)

	heading("Adjustments")
	widths := []float64{20, 45, 35, 70}
	tableHeader(pdf, []string{"Comparable", "Feature", "Value", "Description"}, widths)
	pdf.SetFont("Helvetica", "", 9)
	for i, summary := range result.ComparableSummaries {
		for _, adj := range result.Adjustments[summary.Key] {
			pdf.CellFormat(widths[0], 7, fmt.Sprint(i+1), "1", 0, "C", false, 0, "")
			pdf.CellFormat(widths[1], 7, tr(adj.Feature), "1", 0, "L", false, 0, "")
			pdf.CellFormat(widths[2], 7, FormatMoney(adj.Value), "1", 0, "R", false, 0, "")
			pdf.CellFormat(widths[3], 7, tr(truncate(adj.Description, 48)), "1", 1, "L", false, 0, "")
		}
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to render pdf: %w", err)
	}
	return nil
}

func tableHeader(pdf *fpdf.Fpdf, titles []string, widths []float64) {
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(128, 128, 128)
	pdf.SetTextColor(255, 255, 255)
	for i, title := range titles {
		pdf.CellFormat(widths[i], 8, title, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetTextColor(0, 0, 0)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
