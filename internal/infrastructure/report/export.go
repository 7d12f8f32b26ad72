package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"PageHarvester/internal/domain"
)

const exportSheet = "Records"

// RecordsXLSX renders stored records as a workbook. Columns are the fixed
// bookkeeping fields followed by every field name seen, in first-seen order.
func RecordsXLSX(records []domain.StoredRecord) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), exportSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	var fieldNames []string
	seen := map[string]bool{}
	for _, r := range records {
		for _, fld := range r.Fields {
			if !seen[fld.Name] {
				seen[fld.Name] = true
				fieldNames = append(fieldNames, fld.Name)
			}
		}
	}

	header := []any{"ID", "Extracted At", "Page", "Delivered"}
	for _, n := range fieldNames {
		header = append(header, n)
	}
	if err := f.SetSheetRow(exportSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	for i, r := range records {
		values := make(map[string]string, len(r.Fields))
		for _, fld := range r.Fields {
			values[fld.Name] = fld.Value
		}
		row := []any{r.ID, r.ExtractedAt.Format("2006-01-02 15:04:05"), r.PageNumber, r.Delivered}
		for _, n := range fieldNames {
			row = append(row, values[n])
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	_ = f.SetColWidth(exportSheet, "B", "B", 20)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}
