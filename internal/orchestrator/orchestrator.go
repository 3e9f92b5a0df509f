// Package orchestrator runs extraction over a range of days and commits the
// operator-approved result to the sheets and the day ledger.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/MikeSquared-Agency/bclparser/internal/calendar"
	"github.com/MikeSquared-Agency/bclparser/internal/catalog"
	"github.com/MikeSquared-Agency/bclparser/internal/classify"
	"github.com/MikeSquared-Agency/bclparser/internal/extraction"
	"github.com/MikeSquared-Agency/bclparser/internal/ledger"
	"github.com/MikeSquared-Agency/bclparser/internal/sheetwriter"
)

// Options tune an Orchestrator.
type Options struct {
	// SkipDone drops days the ledger already holds from a requested range.
	// By default such days are extracted again and may duplicate rows.
	SkipDone bool
	// Lookback is how many days back from today fill-gaps mode looks when
	// the ledger is empty or recent days have holes.
	Lookback int
}

type Orchestrator struct {
	catalog    catalog.Catalog
	classifier *classify.Classifier
	ledger     *ledger.Ledger
	automation extraction.Automation
	writer     *sheetwriter.Writer
	opts       Options
	logger     *slog.Logger

	// extracting serialises runs: the monitor view is a single resource.
	extracting sync.Mutex
}

func New(cat catalog.Catalog, l *ledger.Ledger, a extraction.Automation, w *sheetwriter.Writer, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.Lookback < 1 {
		opts.Lookback = 7
	}
	return &Orchestrator{
		catalog:    cat,
		classifier: classify.New(cat),
		ledger:     l,
		automation: a,
		writer:     w,
		opts:       opts,
		logger:     logger,
	}
}

// RunRequest describes one extraction run.
type RunRequest struct {
	// Table is the ledger table the run is accounted against.
	Table  catalog.TableID
	Dates  []calendar.Date
	Events Events
	Decide DecideFunc
}

// Run extracts every requested day, oldest first, and returns the batch.
// Nothing is written to the sheets or the ledger. Extraction failures are
// collected in the batch; the error is only for a request that cannot run.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*Batch, error) {
	if _, ok := o.catalog.Table(req.Table); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, req.Table)
	}
	if !o.extracting.TryLock() {
		return nil, ErrBusy
	}
	defer o.extracting.Unlock()

	events := req.Events
	if events == nil {
		events = NopEvents{}
	}

	batch := newBatch(req.Table)
	days := o.pending(ctx, batch, uniqueSorted(req.Dates))

	o.logger.Info("run started", "batch_id", batch.ID, "table", req.Table, "days", len(days))

	entries, failures := 0, 0
	for i, day := range days {
		if ctx.Err() != nil {
			batch.Cancelled = true
			notStarted(batch, days[i:])
			break
		}

		// A day's records and entry failures join the batch, and its
		// previews are announced, only once the whole day was extracted.
		session := extraction.NewSession(o.automation, day, o.logger)
		var (
			dayRecords  []Record
			dayFailures []Failure
		)
		err := session.Run(ctx, func(it extraction.Item) {
			if it.Err != nil {
				failures++
				dayFailures = append(dayFailures, Failure{
					Kind:    EntryFailure,
					Date:    day,
					Index:   it.Index,
					Message: it.Err.Error(),
					Err:     it.Err,
				})
			} else {
				dayRecords = append(dayRecords, Record{ID: newID(), Classified: o.classifier.Classify(it.Entry)})
				entries++
			}
			events.Progress(Progress{
				BatchID: batch.ID, Day: day, DayIndex: i, DayCount: len(days),
				Entries: entries, Failures: failures,
			})
		})

		got, failed, skipped := session.Counts()
		batch.Days = append(batch.Days, DayReport{
			Date: day, State: session.State(), Entries: got, Failures: failed, Skipped: skipped,
		})

		if err == nil {
			batch.Records = append(batch.Records, dayRecords...)
			batch.Failures = append(batch.Failures, dayFailures...)
			for _, rec := range dayRecords {
				events.EntryParsed(batch.ID, rec)
			}
		} else {
			entries -= len(dayRecords)
			failures -= len(dayFailures)
		}

		stop := false
		var navErr *extraction.NavigationError
		switch {
		case err == nil:
		case errors.As(err, &navErr):
			failure := DayFailure{BatchID: batch.ID, Day: day, Message: err.Error(), Err: err}
			batch.Failures = append(batch.Failures, Failure{
				Kind: DayAborted, Date: day, Index: -1, Message: err.Error(), Err: err,
			})
			o.logger.Warn("day aborted", "batch_id", batch.ID, "date", day, "error", err)
			events.DayFailed(failure)
			if o.decide(ctx, req.Decide, failure) == Abort {
				batch.Aborted = true
				stop = true
			}
		case ctx.Err() != nil:
			batch.Cancelled = true
			stop = true
		default:
			o.logger.Error("day failed", "batch_id", batch.ID, "date", day, "error", err)
			batch.Aborted = true
			stop = true
		}

		events.Progress(Progress{
			BatchID: batch.ID, Day: day, DayIndex: i, DayCount: len(days),
			Entries: entries, Failures: failures, DayDone: true,
		})

		if stop {
			notStarted(batch, days[i+1:])
			break
		}
	}

	o.logger.Info("run complete",
		"batch_id", batch.ID,
		"table", req.Table,
		"records", len(batch.Records),
		"entry_failures", batch.EntryFailures(),
		"aborted", batch.Aborted,
		"cancelled", batch.Cancelled,
	)
	return batch, nil
}

// FillGaps runs over exactly the days the ledger is missing for req.Table,
// from the gap start up to today. req.Dates is ignored.
func (o *Orchestrator) FillGaps(ctx context.Context, req RunRequest, today calendar.Date) (*Batch, error) {
	from, err := o.ledger.GapStart(ctx, req.Table, today, o.opts.Lookback)
	if err != nil {
		return nil, fmt.Errorf("find gap start: %w", err)
	}
	missing, err := o.ledger.MissingDays(ctx, req.Table, from, today)
	if err != nil {
		return nil, fmt.Errorf("find missing days: %w", err)
	}
	o.logger.Info("filling gaps", "table", req.Table, "from", from, "to", today, "missing", len(missing))

	req.Dates = missing
	return o.Run(ctx, req)
}

// pending applies the re-run policy. Days already in the ledger are
// reported and dropped when SkipDone is set. A ledger that cannot be read
// does not stop extraction.
func (o *Orchestrator) pending(ctx context.Context, batch *Batch, days []calendar.Date) []calendar.Date {
	if !o.opts.SkipDone {
		return days
	}
	out := days[:0:0]
	for _, d := range days {
		done, err := o.ledger.IsDone(ctx, batch.Table, d)
		if err != nil {
			o.logger.Warn("cannot check ledger, extracting day anyway", "date", d, "error", err)
		}
		if done {
			batch.Days = append(batch.Days, DayReport{Date: d, State: extraction.NotStarted, AlreadyDone: true})
			continue
		}
		out = append(out, d)
	}
	return out
}

func (o *Orchestrator) decide(ctx context.Context, fn DecideFunc, f DayFailure) Decision {
	if fn == nil || ctx.Err() != nil {
		return Abort
	}
	d := fn(ctx, f)
	if ctx.Err() != nil {
		return Abort
	}
	o.logger.Info("day failure decision", "batch_id", f.BatchID, "date", f.Day, "decision", d)
	return d
}

func notStarted(batch *Batch, days []calendar.Date) {
	for _, d := range days {
		batch.Days = append(batch.Days, DayReport{Date: d, State: extraction.NotStarted})
	}
}

func uniqueSorted(days []calendar.Date) []calendar.Date {
	out := append([]calendar.Date(nil), days...)
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	n := 0
	for i, d := range out {
		if i > 0 && d == out[n-1] {
			continue
		}
		out[n] = d
		n++
	}
	return out[:n]
}
