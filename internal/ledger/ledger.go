// Package ledger records which (table, day) pairs have been fully committed.
//
// A day is the unit of idempotence: the ledger never holds partial-day state,
// and a day is only marked once every record the operator submitted for it
// was written to the sheet.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/bclparser/internal/calendar"
	"github.com/MikeSquared-Agency/bclparser/internal/catalog"
)

// DayRecord is one committed day.
type DayRecord struct {
	Table       catalog.TableID `json:"table"`
	Date        calendar.Date   `json:"date"`
	ProcessedAt time.Time       `json:"processed_at"`
}

// Store persists day records. Upsert must be atomic per (table, date):
// re-marking a day overwrites ProcessedAt and never duplicates the record.
type Store interface {
	Upsert(ctx context.Context, rec DayRecord) error
	// Dates returns the marked days of table within [from, to].
	Dates(ctx context.Context, table catalog.TableID, from, to calendar.Date) ([]calendar.Date, error)
	// Latest returns the most recent marked day of table.
	Latest(ctx context.Context, table catalog.TableID) (calendar.Date, bool, error)
	// Delete unmarks table's days within [from, to] and returns how many
	// were removed. A zero bound leaves that side of the range open.
	Delete(ctx context.Context, table catalog.TableID, from, to calendar.Date) (int, error)
}

// PersistenceError reports that the ledger store could not be reached or
// rejected an operation.
type PersistenceError struct {
	Op    string
	Table catalog.TableID
	Date  calendar.Date
	Err   error
}

func (e *PersistenceError) Error() string {
	if e.Date.IsZero() {
		return fmt.Sprintf("ledger %s %s: %v", e.Op, e.Table, e.Err)
	}
	return fmt.Sprintf("ledger %s %s %s: %v", e.Op, e.Table, e.Date, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

type Ledger struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

func New(store Store, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// MarkDone records that table's day d was fully committed. Marking an
// already-marked day only refreshes its timestamp.
func (l *Ledger) MarkDone(ctx context.Context, table catalog.TableID, d calendar.Date) error {
	rec := DayRecord{Table: table, Date: d, ProcessedAt: l.now()}
	if err := l.store.Upsert(ctx, rec); err != nil {
		return &PersistenceError{Op: "mark", Table: table, Date: d, Err: err}
	}
	l.logger.Debug("day marked done", "table", table, "date", d)
	return nil
}

// Forget unmarks table's days within [from, to], so the next fill-gaps run
// extracts them again. Zero bounds leave that side open; both zero clears the
// whole table.
func (l *Ledger) Forget(ctx context.Context, table catalog.TableID, from, to calendar.Date) (int, error) {
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return 0, nil
	}
	n, err := l.store.Delete(ctx, table, from, to)
	if err != nil {
		return 0, &PersistenceError{Op: "forget", Table: table, Err: err}
	}
	l.logger.Info("days unmarked", "table", table, "from", from, "to", to, "count", n)
	return n, nil
}

// MissingDays returns every day in [from, to] not yet marked for table,
// oldest first.
func (l *Ledger) MissingDays(ctx context.Context, table catalog.TableID, from, to calendar.Date) ([]calendar.Date, error) {
	if from.After(to) {
		return nil, nil
	}
	done, err := l.store.Dates(ctx, table, from, to)
	if err != nil {
		return nil, &PersistenceError{Op: "query", Table: table, Err: err}
	}
	marked := make(map[calendar.Date]bool, len(done))
	for _, d := range done {
		marked[d] = true
	}

	var missing []calendar.Date
	for _, d := range calendar.Range(from, to) {
		if !marked[d] {
			missing = append(missing, d)
		}
	}
	return missing, nil
}

// LastProcessed returns the most recent marked day of table, if any.
func (l *Ledger) LastProcessed(ctx context.Context, table catalog.TableID) (calendar.Date, bool, error) {
	d, ok, err := l.store.Latest(ctx, table)
	if err != nil {
		return calendar.Date{}, false, &PersistenceError{Op: "latest", Table: table, Err: err}
	}
	return d, ok, nil
}

// IsDone reports whether table's day d is marked.
func (l *Ledger) IsDone(ctx context.Context, table catalog.TableID, d calendar.Date) (bool, error) {
	done, err := l.store.Dates(ctx, table, d, d)
	if err != nil {
		return false, &PersistenceError{Op: "query", Table: table, Date: d, Err: err}
	}
	return len(done) > 0, nil
}

// GapStart returns the first day a fill-gaps run should look at: the day
// after the last processed one, pulled back to cover the lookback window so
// holes left by failed commits are found too.
func (l *Ledger) GapStart(ctx context.Context, table catalog.TableID, today calendar.Date, lookback int) (calendar.Date, error) {
	if lookback < 1 {
		lookback = 1
	}
	window := today.AddDays(-(lookback - 1))

	last, ok, err := l.LastProcessed(ctx, table)
	if err != nil {
		return calendar.Date{}, err
	}
	if !ok {
		return window, nil
	}
	if next := last.AddDays(1); next.Before(window) {
		return next, nil
	}
	return window, nil
}
