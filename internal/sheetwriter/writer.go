// Package sheetwriter turns classified records into row writes on a sheet sink.
package sheetwriter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/bclparser/internal/catalog"
	"github.com/MikeSquared-Agency/bclparser/internal/record"
	"github.com/MikeSquared-Agency/bclparser/internal/retry"
)

// Sink is the spreadsheet backend. Rows are 1-based; sheet is a tab name.
type Sink interface {
	// LastRow returns the last occupied row of sheet, 0 when it is empty.
	LastRow(ctx context.Context, sheet string) (int, error)
	WriteRow(ctx context.Context, sheet string, row int, values []string) error
	// InsertRowsAt inserts count blank rows before row, shifting rows down.
	InsertRowsAt(ctx context.Context, sheet string, row, count int) error
}

// Placement says where a commit puts its rows. The zero value appends.
type Placement struct {
	Row int `json:"row,omitempty"`
}

func Append() Placement            { return Placement{} }
func AtRow(row int) Placement      { return Placement{Row: row} }
func (p Placement) IsAppend() bool { return p.Row == 0 }

func (p Placement) String() string {
	if p.IsAppend() {
		return "append"
	}
	return fmt.Sprintf("row %d", p.Row)
}

type Status string

const (
	Written Status = "written"
	Failed  Status = "failed"
	// Skipped records were never attempted because the commit was cancelled.
	Skipped Status = "skipped"
)

// Result is the fate of one record of a Write call, in input order.
type Result struct {
	Row    int    `json:"row,omitempty"`
	Status Status `json:"status"`
	Err    error  `json:"-"`
}

// WriteError reports a write the sink rejected.
type WriteError struct {
	Sheet string
	Row   int
	Err   error
}

func (e *WriteError) Error() string {
	if e.Row == 0 {
		return fmt.Sprintf("write %q: %v", e.Sheet, e.Err)
	}
	return fmt.Sprintf("write %q row %d: %v", e.Sheet, e.Row, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// PlacementError reports an explicit row inside a table's header region.
type PlacementError struct {
	Table      catalog.TableID
	Row        int
	HeaderRows int
}

func (e *PlacementError) Error() string {
	return fmt.Sprintf("row %d is inside the %d header row(s) of %s", e.Row, e.HeaderRows, e.Table)
}

type Writer struct {
	sink   Sink
	logger *slog.Logger
}

func New(sink Sink, logger *slog.Logger) *Writer {
	return &Writer{sink: sink, logger: logger}
}

// Validate checks p against table's header rows.
func (w *Writer) Validate(table catalog.Table, p Placement) error {
	if p.IsAppend() {
		return nil
	}
	if p.Row < 1 || p.Row <= table.HeaderRows {
		return &PlacementError{Table: table.ID, Row: p.Row, HeaderRows: table.HeaderRows}
	}
	return nil
}

// Write puts records on sheet in order. Append mode reads the sheet's last
// row right before writing; explicit mode inserts len(records) rows at p.Row
// first. A rejected write fails only its own record. Cancellation is
// checked between records, and a write already issued runs to completion.
func (w *Writer) Write(ctx context.Context, table catalog.Table, sheet string, records []record.Classified, p Placement) ([]Result, error) {
	if err := w.Validate(table, p); err != nil {
		return nil, err
	}

	results := make([]Result, len(records))
	for i := range results {
		results[i].Status = Skipped
	}
	if len(records) == 0 || ctx.Err() != nil {
		return results, nil
	}

	writeCtx := context.WithoutCancel(ctx)

	var next int
	if p.IsAppend() {
		last, err := w.sink.LastRow(writeCtx, sheet)
		if err != nil {
			failAll(results, &WriteError{Sheet: sheet, Err: fmt.Errorf("read last row: %w", err)})
			return results, nil
		}
		next = max(last, table.HeaderRows) + 1
	} else {
		if err := w.sink.InsertRowsAt(writeCtx, sheet, p.Row, len(records)); err != nil {
			failAll(results, &WriteError{Sheet: sheet, Row: p.Row, Err: fmt.Errorf("insert rows: %w", err)})
			return results, nil
		}
		next = p.Row
	}

	for i, rec := range records {
		if ctx.Err() != nil {
			w.logger.Info("write cancelled", "sheet", sheet, "written", countStatus(results, Written), "skipped", len(records)-i)
			break
		}

		row := next
		if !p.IsAppend() {
			row = p.Row + i
		}

		if err := w.sink.WriteRow(writeCtx, sheet, row, rec.Row()); err != nil {
			results[i] = Result{Row: row, Status: Failed, Err: &WriteError{Sheet: sheet, Row: row, Err: err}}
			w.logger.Warn("row write failed", "sheet", sheet, "row", row, "error", err)
			continue
		}
		results[i] = Result{Row: row, Status: Written}
		next = row + 1
	}
	return results, nil
}

func failAll(results []Result, err error) {
	for i := range results {
		results[i] = Result{Status: Failed, Err: err}
	}
}

func countStatus(results []Result, s Status) int {
	n := 0
	for _, r := range results {
		if r.Status == s {
			n++
		}
	}
	return n
}

// WithPolicy applies p to the sink's reads and row writes, which are safe to
// repeat. Inserting rows is not, so InsertRowsAt gets one attempt bounded
// by p.Timeout.
func WithPolicy(sink Sink, p retry.Policy) Sink {
	return &policySink{next: sink, policy: p}
}

type policySink struct {
	next   Sink
	policy retry.Policy
}

func (s *policySink) LastRow(ctx context.Context, sheet string) (int, error) {
	var last int
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		last, err = s.next.LastRow(ctx, sheet)
		return err
	})
	return last, err
}

func (s *policySink) WriteRow(ctx context.Context, sheet string, row int, values []string) error {
	return s.policy.Do(ctx, func(ctx context.Context) error {
		return s.next.WriteRow(ctx, sheet, row, values)
	})
}

func (s *policySink) InsertRowsAt(ctx context.Context, sheet string, row, count int) error {
	return retry.Once(s.policy.Timeout).Do(ctx, func(ctx context.Context) error {
		return s.next.InsertRowsAt(ctx, sheet, row, count)
	})
}
