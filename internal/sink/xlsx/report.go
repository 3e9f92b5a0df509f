package xlsx

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/MikeSquared-Agency/bclparser/internal/catalog"
	"github.com/MikeSquared-Agency/bclparser/internal/record"
)

const reportSheet = "Parsed Entries"

var reportColumns = []struct {
	header string
	width  float64
}{
	{"Date", 12},
	{"Table", 16},
	{"Name", 28},
	{"Social Network", 16},
	{"Tag", 18},
	{"Link", 45},
	{"Note", 60},
	{"Description", 45},
}

// ExportReport writes a one-sheet preview of records to path, for operators
// who review a batch outside the terminal before committing it.
func ExportReport(records []record.Classified, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", reportSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]interface{}, len(reportColumns))
	for i, c := range reportColumns {
		header[i] = c.header
		col := catalog.ColumnLetter(i + 1)
		if err := f.SetColWidth(reportSheet, col, col, c.width); err != nil {
			return fmt.Errorf("set width of %s: %w", col, err)
		}
	}
	if err := f.SetSheetRow(reportSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	style, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	last := catalog.ColumnLetter(len(reportColumns)) + "1"
	if err := f.SetCellStyle(reportSheet, "A1", last, style); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	for i, r := range records {
		row := []interface{}{
			r.Date.String(),
			string(r.Table),
			r.Value(catalog.FieldName),
			r.Value(catalog.FieldNetwork),
			r.Value(catalog.FieldTag),
			r.Value(catalog.FieldLink),
			r.Source.Note,
			r.Source.Description,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(reportSheet, cell, &row); err != nil {
			return fmt.Errorf("write record %d: %w", i+1, err)
		}
	}

	if err := f.SetPanes(reportSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}
