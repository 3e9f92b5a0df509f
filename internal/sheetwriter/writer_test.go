package sheetwriter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/bclparser/internal/catalog"
	"github.com/MikeSquared-Agency/bclparser/internal/record"
	"github.com/MikeSquared-Agency/bclparser/internal/retry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memSink is an in-memory sheet. rows[0] is row 1. Each failRows entry
// fails one write.
type memSink struct {
	rows      map[string][][]string
	failRows  map[int]error
	lastErr   error
	insertErr error
	calls     []string
	onWrite   func(row int)
}

func newMemSink() *memSink {
	return &memSink{rows: make(map[string][][]string), failRows: make(map[int]error)}
}

func (m *memSink) LastRow(_ context.Context, sheet string) (int, error) {
	m.calls = append(m.calls, "last")
	if m.lastErr != nil {
		return 0, m.lastErr
	}
	return len(m.rows[sheet]), nil
}

func (m *memSink) WriteRow(_ context.Context, sheet string, row int, values []string) error {
	m.calls = append(m.calls, "write")
	if m.onWrite != nil {
		m.onWrite(row)
	}
	if err := m.failRows[row]; err != nil {
		delete(m.failRows, row)
		return err
	}
	for len(m.rows[sheet]) < row {
		m.rows[sheet] = append(m.rows[sheet], nil)
	}
	m.rows[sheet][row-1] = append([]string(nil), values...)
	return nil
}

func (m *memSink) InsertRowsAt(_ context.Context, sheet string, row, count int) error {
	m.calls = append(m.calls, "insert")
	if m.insertErr != nil {
		return m.insertErr
	}
	rows := m.rows[sheet]
	for len(rows) < row-1 {
		rows = append(rows, nil)
	}
	blank := make([][]string, count)
	rows = append(rows[:row-1], append(blank, rows[row-1:]...)...)
	m.rows[sheet] = rows
	return nil
}

func mediaTable() catalog.Table {
	t, _ := catalog.Default().Table(catalog.Media)
	return t
}

func rec(name string) record.Classified {
	return record.Classified{
		Table: catalog.Media,
		Fields: []record.Field{
			{Name: catalog.FieldName, Column: 1, Value: name},
			{Name: catalog.FieldLink, Column: 2, Value: "https://example.com/" + name},
		},
	}
}

func TestWrite_AppendAfterLastRow(t *testing.T) {
	sink := newMemSink()
	sink.rows["ЗМІ 2025"] = [][]string{{"header"}, {"existing"}}
	w := New(sink, discardLogger())

	results, err := w.Write(context.Background(), mediaTable(), "ЗМІ 2025", []record.Classified{rec("a"), rec("b")}, Append())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].Row != 3 || results[1].Row != 4 {
		t.Errorf("expected rows 3 and 4, got %d and %d", results[0].Row, results[1].Row)
	}
	for i, r := range results {
		if r.Status != Written {
			t.Errorf("record %d: expected written, got %s", i, r.Status)
		}
	}
	if got := sink.rows["ЗМІ 2025"][3]; !reflect.DeepEqual(got, []string{"b", "https://example.com/b"}) {
		t.Errorf("unexpected row 4: %q", got)
	}
}

func TestWrite_AppendSkipsHeaderOnEmptySheet(t *testing.T) {
	sink := newMemSink()
	w := New(sink, discardLogger())

	results, _ := w.Write(context.Background(), mediaTable(), "ЗМІ", []record.Classified{rec("a")}, Append())
	if results[0].Row != 2 {
		t.Errorf("expected first data row 2, got %d", results[0].Row)
	}
}

func TestWrite_ReadsLastRowFreshEachCall(t *testing.T) {
	sink := newMemSink()
	w := New(sink, discardLogger())
	ctx := context.Background()

	w.Write(ctx, mediaTable(), "ЗМІ", []record.Classified{rec("a")}, Append())
	// Someone edits the sheet between commits.
	sink.rows["ЗМІ"] = append(sink.rows["ЗМІ"], []string{"manual"}, []string{"manual"})
	results, _ := w.Write(ctx, mediaTable(), "ЗМІ", []record.Classified{rec("b")}, Append())

	if results[0].Row != 5 {
		t.Errorf("expected row 5 after external edit, got %d", results[0].Row)
	}
}

func TestWrite_FailureDoesNotBlockLaterRecords(t *testing.T) {
	sink := newMemSink()
	sink.failRows[3] = errors.New("quota exceeded")
	w := New(sink, discardLogger())

	results, _ := w.Write(context.Background(), mediaTable(), "ЗМІ", []record.Classified{rec("a"), rec("b"), rec("c")}, Append())

	if results[0].Status != Written || results[0].Row != 2 {
		t.Errorf("record 1: %+v", results[0])
	}
	if results[1].Status != Failed {
		t.Errorf("record 2: expected failed, got %+v", results[1])
	}
	var we *WriteError
	if !errors.As(results[1].Err, &we) || we.Row != 3 {
		t.Errorf("expected WriteError at row 3, got %v", results[1].Err)
	}
	if results[2].Status != Written || results[2].Row != 3 {
		t.Errorf("record 3: expected written at row 3, got %+v", results[2])
	}
}

func TestWrite_ExplicitRowInserts(t *testing.T) {
	sink := newMemSink()
	sink.rows["ЗМІ"] = [][]string{{"header"}, {"old-2"}, {"old-3"}}
	w := New(sink, discardLogger())

	results, err := w.Write(context.Background(), mediaTable(), "ЗМІ", []record.Classified{rec("a"), rec("b")}, AtRow(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sink.calls[0] != "insert" {
		t.Errorf("expected insert before writes, got %v", sink.calls)
	}
	if results[0].Row != 2 || results[1].Row != 3 {
		t.Errorf("expected rows 2 and 3, got %+v", results)
	}
	rows := sink.rows["ЗМІ"]
	if rows[1][0] != "a" || rows[2][0] != "b" || rows[3][0] != "old-2" || rows[4][0] != "old-3" {
		t.Errorf("existing rows not shifted down: %q", rows)
	}
}

func TestWrite_PlacementInsideHeader(t *testing.T) {
	sink := newMemSink()
	w := New(sink, discardLogger())

	for _, row := range []int{1, -3} {
		_, err := w.Write(context.Background(), mediaTable(), "ЗМІ", []record.Classified{rec("a")}, AtRow(row))
		var pe *PlacementError
		if !errors.As(err, &pe) {
			t.Fatalf("row %d: expected PlacementError, got %v", row, err)
		}
		if pe.HeaderRows != 1 {
			t.Errorf("expected header rows 1, got %d", pe.HeaderRows)
		}
	}
	if len(sink.calls) != 0 {
		t.Errorf("expected no sink calls, got %v", sink.calls)
	}
}

func TestWrite_LastRowFailureFailsAll(t *testing.T) {
	sink := newMemSink()
	sink.lastErr = errors.New("503")
	w := New(sink, discardLogger())

	results, _ := w.Write(context.Background(), mediaTable(), "ЗМІ", []record.Classified{rec("a"), rec("b")}, Append())
	for i, r := range results {
		if r.Status != Failed {
			t.Errorf("record %d: expected failed, got %s", i, r.Status)
		}
	}
}

func TestWrite_CancelBetweenRecords(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sink := newMemSink()
	sink.onWrite = func(row int) {
		if row == 2 {
			cancel()
		}
	}
	w := New(sink, discardLogger())

	results, _ := w.Write(ctx, mediaTable(), "ЗМІ", []record.Classified{rec("a"), rec("b"), rec("c")}, Append())

	if results[0].Status != Written {
		t.Errorf("in-flight write should complete, got %s", results[0].Status)
	}
	if results[1].Status != Skipped || results[2].Status != Skipped {
		t.Errorf("expected remaining records skipped, got %s and %s", results[1].Status, results[2].Status)
	}
}

func TestWithPolicy(t *testing.T) {
	sink := newMemSink()
	flaky := &flakySink{memSink: sink, failures: 1}
	p := retry.Policy{MaxAttempts: 3, Backoff: []time.Duration{time.Millisecond}, Timeout: time.Second}
	s := WithPolicy(flaky, p)

	if err := s.WriteRow(context.Background(), "ЗМІ", 2, []string{"a"}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}

	flaky.failures = 1
	if err := s.InsertRowsAt(context.Background(), "ЗМІ", 2, 1); err == nil {
		t.Fatal("expected insert not to be retried")
	}
}

type flakySink struct {
	*memSink
	failures int
}

func (f *flakySink) WriteRow(ctx context.Context, sheet string, row int, values []string) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("503")
	}
	return f.memSink.WriteRow(ctx, sheet, row, values)
}

func (f *flakySink) InsertRowsAt(ctx context.Context, sheet string, row, count int) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("503")
	}
	return f.memSink.InsertRowsAt(ctx, sheet, row, count)
}
