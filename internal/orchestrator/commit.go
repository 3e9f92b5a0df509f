package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/MikeSquared-Agency/bclparser/internal/calendar"
	"github.com/MikeSquared-Agency/bclparser/internal/catalog"
	"github.com/MikeSquared-Agency/bclparser/internal/extraction"
	"github.com/MikeSquared-Agency/bclparser/internal/ledger"
	"github.com/MikeSquared-Agency/bclparser/internal/record"
	"github.com/MikeSquared-Agency/bclparser/internal/sheetwriter"
)

type sheetGroup struct {
	table   catalog.Table
	sheet   string
	indexes []int
}

// Commit writes the batch to the sheets and marks every day whose records
// were all written. Records are grouped by table and resolved sheet in
// order of first appearance, batch order within a group.
//
// A PlacementError fails the call before anything is written and leaves
// the batch uncommitted. Any other failure is reported in the Outcome.
func (o *Orchestrator) Commit(ctx context.Context, batch *Batch, p sheetwriter.Placement) (*Outcome, error) {
	if batch == nil {
		return nil, fmt.Errorf("commit: nil batch")
	}
	if batch.consumed {
		return nil, ErrBatchConsumed
	}

	groups, err := o.group(batch.Records)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		if err := o.writer.Validate(g.table, p); err != nil {
			return nil, err
		}
	}
	batch.consumed = true

	out := &Outcome{
		BatchID:       batch.ID,
		Table:         batch.Table,
		Placement:     p,
		Results:       make([]RecordResult, len(batch.Records)),
		EntryFailures: batch.EntryFailures(),
	}
	for i, r := range batch.Records {
		out.Results[i] = RecordResult{
			ID: r.ID, Table: r.Table, Date: r.Date,
			Sheet:  o.sheetName(r.Classified),
			Status: sheetwriter.Skipped,
		}
	}

	for _, g := range groups {
		if ctx.Err() != nil {
			break
		}
		recs := make([]record.Classified, len(g.indexes))
		for i, idx := range g.indexes {
			recs[i] = batch.Records[idx].Classified
		}
		results, err := o.writer.Write(ctx, g.table, g.sheet, recs, p)
		if err != nil {
			// Validated above; only reachable if the catalog changed underneath.
			return nil, err
		}
		for i, res := range results {
			rr := &out.Results[g.indexes[i]]
			rr.Row = res.Row
			rr.Status = res.Status
			if res.Err != nil {
				rr.Error = res.Err.Error()
			}
		}
	}

	for _, rr := range out.Results {
		switch rr.Status {
		case sheetwriter.Written:
			out.Succeeded++
		case sheetwriter.Failed:
			out.Failed++
		default:
			out.Skipped++
		}
	}

	o.markDays(context.WithoutCancel(ctx), batch, out)

	o.logger.Info("commit complete",
		"batch_id", batch.ID,
		"placement", p.String(),
		"succeeded", out.Succeeded,
		"failed", out.Failed,
		"skipped", out.Skipped,
		"days_marked", len(out.Marked),
		"days_unmarked", len(out.Unmarked),
		"pending", len(out.Pending),
	)
	return out, nil
}

// markDays marks each completed day whose records all made it to a sheet,
// for the batch table and for every table the day's records went to.
func (o *Orchestrator) markDays(ctx context.Context, batch *Batch, out *Outcome) {
	type dayState struct {
		tables  []catalog.TableID
		failed  bool
		skipped bool
	}
	byDay := make(map[calendar.Date]*dayState)
	for _, rr := range out.Results {
		ds := byDay[rr.Date]
		if ds == nil {
			ds = &dayState{}
			byDay[rr.Date] = ds
		}
		switch rr.Status {
		case sheetwriter.Failed:
			ds.failed = true
		case sheetwriter.Skipped:
			ds.skipped = true
		}
		ds.tables = appendTable(ds.tables, rr.Table)
	}

	for _, day := range batch.Days {
		if day.AlreadyDone {
			continue
		}
		ds := byDay[day.Date]
		switch {
		case day.State == extraction.Aborted:
			out.Unmarked = append(out.Unmarked, UnmarkedDay{Date: day.Date, Reason: "aborted"})
			continue
		case day.State != extraction.Completed:
			out.Unmarked = append(out.Unmarked, UnmarkedDay{Date: day.Date, Reason: "not_started"})
			continue
		case ds != nil && ds.failed:
			out.Unmarked = append(out.Unmarked, UnmarkedDay{Date: day.Date, Reason: "write_failed"})
			continue
		case ds != nil && ds.skipped:
			out.Unmarked = append(out.Unmarked, UnmarkedDay{Date: day.Date, Reason: "cancelled"})
			continue
		}

		tables := []catalog.TableID{batch.Table}
		if ds != nil {
			for _, t := range ds.tables {
				tables = appendTable(tables, t)
			}
		}
		pending := false
		for _, t := range tables {
			key := DayKey{Table: t, Date: day.Date}
			if err := o.ledger.MarkDone(ctx, t, day.Date); err != nil {
				o.logger.Error("failed to mark day", "table", t, "date", day.Date, "error", err)
				out.Pending = append(out.Pending, PendingMark{DayKey: key, Error: err.Error()})
				pending = true
				continue
			}
			out.Marked = append(out.Marked, key)
		}
		if pending {
			out.Unmarked = append(out.Unmarked, UnmarkedDay{Date: day.Date, Reason: "ledger_unavailable"})
		}
	}
}

// MarkPending retries ledger marks a commit could not make and returns the
// ones that still fail.
func (o *Orchestrator) MarkPending(ctx context.Context, pending []PendingMark) []PendingMark {
	var still []PendingMark
	for _, pm := range pending {
		if err := o.ledger.MarkDone(ctx, pm.Table, pm.Date); err != nil {
			var pe *ledger.PersistenceError
			if !errors.As(err, &pe) {
				o.logger.Warn("unexpected ledger error", "error", err)
			}
			still = append(still, PendingMark{DayKey: pm.DayKey, Error: err.Error()})
		}
	}
	return still
}

func (o *Orchestrator) group(records []Record) ([]*sheetGroup, error) {
	var groups []*sheetGroup
	index := make(map[string]*sheetGroup)
	for i, r := range records {
		tbl, ok := o.catalog.Table(r.Table)
		if !ok {
			return nil, fmt.Errorf("%w: record %s routed to %q", ErrUnknownTable, r.ID, r.Table)
		}
		sheet := tbl.SheetName(r.Date)
		key := string(tbl.ID) + "\x00" + sheet
		g := index[key]
		if g == nil {
			g = &sheetGroup{table: tbl, sheet: sheet}
			index[key] = g
			groups = append(groups, g)
		}
		g.indexes = append(g.indexes, i)
	}
	return groups, nil
}

func (o *Orchestrator) sheetName(c record.Classified) string {
	tbl, _ := o.catalog.Table(c.Table)
	return tbl.SheetName(c.Date)
}

func appendTable(tables []catalog.TableID, t catalog.TableID) []catalog.TableID {
	for _, existing := range tables {
		if existing == t {
			return tables
		}
	}
	return append(tables, t)
}
