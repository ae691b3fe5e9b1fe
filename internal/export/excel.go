package export

import (
	"fmt"
	"io"

	"appraisal/server/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	SheetSummary     = "Summary"
	SheetComparables = "Comparables"
	SheetAdjustments = "Adjustments"
	SheetProperties  = "Properties"
)

// ValuationExcel writes a workbook with summary, comparables and adjustments
// sheets.
func ValuationExcel(w io.Writer, result *models.ValuationResult) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return fmt.Errorf("failed to name summary sheet: %w", err)
	}
	header, err := headerStyle(f)
	if err != nil {
		return err
	}

	subject := result.SubjectProperty
	summary := [][]interface{}{
		{"Field", "Value"},
		{"Address", subject.Address},
		{"Type", subject.PropertyType},
		{"Area (sqm)", subject.Area},
		{"Floor", fmt.Sprintf("%d of %d", subject.FloorLevel, subject.TotalFloors)},
		{"Condition", string(subject.Condition)},
		{"Renovation Status", string(subject.RenovationStatus)},
		{"Asking Price", subject.Price},
		{"Final Valuation", result.FinalValuation},
		{"Confidence Score", result.ConfidenceScore},
		{"Comparables", len(result.ComparableProperties)},
		{"Generated", result.CreatedAt.Format("2006-01-02 15:04:05")},
	}
	if err := writeRows(f, SheetSummary, summary, header); err != nil {
		return err
	}

	if _, err := f.NewSheet(SheetComparables); err != nil {
		return fmt.Errorf("failed to add comparables sheet: %w", err)
	}
	comparables := [][]interface{}{{"Key", "Address", "Area", "Floor", "Condition", "Renovation", "Price", "Total Adjustment", "Adjusted Price"}}
	for i, c := range result.ComparableProperties {
		var s models.ComparableSummary
		if i < len(result.ComparableSummaries) {
			s = result.ComparableSummaries[i]
		}
		comparables = append(comparables, []interface{}{
			s.Key, c.Address, c.Area, c.FloorLevel, string(c.Condition), string(c.RenovationStatus),
			c.Price, s.TotalAdjustment, s.AdjustedPrice,
		})
	}
	if err := writeRows(f, SheetComparables, comparables, header); err != nil {
		return err
	}

	if _, err := f.NewSheet(SheetAdjustments); err != nil {
		return fmt.Errorf("failed to add adjustments sheet: %w", err)
	}
	adjustments := [][]interface{}{{"Comparable", "Feature", "Value", "Description"}}
	for _, s := range result.ComparableSummaries {
		for _, adj := range result.Adjustments[s.Key] {
			adjustments = append(adjustments, []interface{}{s.Key, adj.Feature, adj.Value, adj.Description})
		}
	}
	if err := writeRows(f, SheetAdjustments, adjustments, header); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// PropertiesExcel writes the property list as a single sheet.
func PropertiesExcel(w io.Writer, properties []models.Property) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetProperties); err != nil {
		return fmt.Errorf("failed to name properties sheet: %w", err)
	}
	header, err := headerStyle(f)
	if err != nil {
		return err
	}

	rows := [][]interface{}{{"ID", "Address", "Type", "Area", "Floor", "Total Floors", "Condition", "Renovation", "Price", "Latitude", "Longitude", "Created At", "Updated At"}}
	for _, p := range properties {
		rows = append(rows, []interface{}{
			p.ID, p.Address, p.PropertyType, p.Area, p.FloorLevel, p.TotalFloors,
			string(p.Condition), string(p.RenovationStatus), p.Price,
			p.Location.Lat, p.Location.Lng,
			p.CreatedAt.Format("2006-01-02 15:04:05"), p.UpdatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	if err := writeRows(f, SheetProperties, rows, header); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func headerStyle(f *excelize.File) (int, error) {
	style, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#D7E4BC"}, Pattern: 1},
		Alignment: &excelize.Alignment{Vertical: "top", WrapText: true},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create header style: %w", err)
	}
	return style, nil
}

// writeRows writes rows from A1, styles the first row and sizes the columns
// to their longest value.
func writeRows(f *excelize.File, sheet string, rows [][]interface{}, header int) error {
	widths := make(map[int]int)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		r := row
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			return fmt.Errorf("failed to write row %d of %s: %w", i+1, sheet, err)
		}
		for col, v := range row {
			if n := len(fmt.Sprint(v)); n > widths[col] {
				widths[col] = n
			}
		}
	}

	if len(rows) > 0 && len(rows[0]) > 0 {
		last, err := excelize.CoordinatesToCellName(len(rows[0]), 1)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, "A1", last, header); err != nil {
			return fmt.Errorf("failed to style header of %s: %w", sheet, err)
		}
	}

	for col, width := range widths {
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, name, name, float64(width+2)); err != nil {
			return fmt.Errorf("failed to size column %s of %s: %w", name, sheet, err)
		}
	}
	return nil
}
