package xlsx

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/MikeSquared-Agency/bclparser/internal/calendar"
	"github.com/MikeSquared-Agency/bclparser/internal/catalog"
	"github.com/MikeSquared-Agency/bclparser/internal/record"
	"github.com/MikeSquared-Agency/bclparser/internal/sheetwriter"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSink_WriteAndReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tables.xlsx")

	s, err := Open(path, discardLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if last, err := s.LastRow(ctx, "ЗМІ 2025"); err != nil || last != 0 {
		t.Fatalf("expected empty missing sheet, got %d (%v)", last, err)
	}

	s.WriteRow(ctx, "ЗМІ 2025", 1, []string{"Місяць", "Медіа"})
	s.WriteRow(ctx, "ЗМІ 2025", 2, []string{"Січень", "УП"})
	s.WriteRow(ctx, "ЗМІ 2025", 3, []string{"Лютий", "НВ"})
	if err := s.InsertRowsAt(ctx, "ЗМІ 2025", 2, 1); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.WriteRow(ctx, "ЗМІ 2025", 2, []string{"Грудень", "ZN"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	s.Close()

	reopened, err := Open(path, discardLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	last, err := reopened.LastRow(ctx, "ЗМІ 2025")
	if err != nil {
		t.Fatal(err)
	}
	if last != 4 {
		t.Errorf("expected last row 4, got %d", last)
	}

	rows, _ := reopened.file.GetRows("ЗМІ 2025")
	want := []string{"Місяць", "Грудень", "Січень", "Лютий"}
	for i, w := range want {
		if rows[i][0] != w {
			t.Errorf("row %d: expected %q, got %q", i+1, w, rows[i][0])
		}
	}
}

func TestExportReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preview.xlsx")
	records := []record.Classified{{
		Table: catalog.SocialNetworks,
		Date:  calendar.New(2025, 4, 1),
		Fields: []record.Field{
			{Name: catalog.FieldName, Column: 2, Value: "Олена"},
			{Name: catalog.FieldNetwork, Column: 5, Value: "Facebook"},
			{Name: catalog.FieldLink, Column: 6, Value: "https://facebook.com/1"},
		},
		Source: record.RawEntry{Note: "згадка", Description: "волонтерка"},
	}}

	if err := ExportReport(records, path); err != nil {
		t.Fatalf("export: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open report: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(reportSheet)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header and one record, got %d rows", len(rows))
	}
	if rows[0][0] != "Date" || rows[1][0] != "2025-04-01" || rows[1][3] != "Facebook" || rows[1][7] != "волонтерка" {
		t.Errorf("unexpected report rows %q", rows)
	}
}

func TestSink_AppendWithoutColumnA(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "tables.xlsx"), discardLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	table := catalog.Table{
		ID:         catalog.Vacancies,
		Sheet:      "Вакансії",
		HeaderRows: 1,
		Columns: []catalog.Column{
			{Field: catalog.FieldName, Letter: "B"},
			{Field: catalog.FieldLink, Letter: "C"},
		},
	}
	cat := catalog.Catalog{CatchAll: catalog.Vacancies, Tables: []catalog.Table{table}}
	if err := cat.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	rec := func(name string) record.Classified {
		return record.Classified{
			Table: catalog.Vacancies,
			Date:  calendar.New(2025, 4, 1),
			Fields: []record.Field{
				{Name: catalog.FieldName, Column: 2, Value: name},
				{Name: catalog.FieldLink, Column: 3, Value: "https://work.ua/" + name},
			},
		}
	}

	w := sheetwriter.New(s, discardLogger())
	first, _ := w.Write(ctx, table, "Вакансії", []record.Classified{rec("first")}, sheetwriter.Append())
	second, _ := w.Write(ctx, table, "Вакансії", []record.Classified{rec("second")}, sheetwriter.Append())

	if first[0].Row != 2 || second[0].Row != 3 {
		t.Fatalf("expected rows 2 and 3, got %d and %d", first[0].Row, second[0].Row)
	}
	if v, _ := s.file.GetCellValue("Вакансії", "B2"); v != "first" {
		t.Errorf("expected B2 to keep the first append, got %q", v)
	}
	if v, _ := s.file.GetCellValue("Вакансії", "B3"); v != "second" {
		t.Errorf("expected B3 = second, got %q", v)
	}
}
