package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/bclparser/internal/calendar"
	"github.com/MikeSquared-Agency/bclparser/internal/catalog"
	"github.com/MikeSquared-Agency/bclparser/internal/extraction"
	"github.com/MikeSquared-Agency/bclparser/internal/record"
	"github.com/MikeSquared-Agency/bclparser/internal/sheetwriter"
)

var (
	ErrBatchConsumed = errors.New("batch already committed")
	ErrUnknownTable  = errors.New("unknown table")
	ErrBusy          = errors.New("another run is extracting")
)

// Decision answers a day-level failure.
type Decision int

const (
	Abort Decision = iota
	Continue
)

func (d Decision) String() string {
	if d == Continue {
		return "continue"
	}
	return "abort"
}

// DecideFunc is asked whether to go on after a day could not be extracted.
// A nil DecideFunc aborts.
type DecideFunc func(ctx context.Context, f DayFailure) Decision

// Record is a classified record inside a batch. The ID lets an operator
// exclude it before commit.
type Record struct {
	ID uuid.UUID `json:"id"`
	record.Classified
}

// FailureKind separates entry-level from day-level failures.
type FailureKind string

const (
	EntryFailure FailureKind = "extraction"
	DayAborted   FailureKind = "navigation"
)

// Failure is one collected extraction problem. Index is the entry position
// within its day, or -1 for a day-level failure.
type Failure struct {
	Kind    FailureKind   `json:"kind"`
	Date    calendar.Date `json:"date"`
	Index   int           `json:"index"`
	Message string        `json:"message"`
	Err     error         `json:"-"`
}

// DayReport summarises one day of a run.
type DayReport struct {
	Date        calendar.Date    `json:"date"`
	State       extraction.State `json:"state"`
	Entries     int              `json:"entries"`
	Failures    int              `json:"failures"`
	Skipped     int              `json:"skipped"`
	AlreadyDone bool             `json:"already_done,omitempty"`
}

// Batch is what a run extracted, waiting for the operator. It is committed
// at most once.
type Batch struct {
	ID        uuid.UUID       `json:"id"`
	Table     catalog.TableID `json:"table"`
	StartedAt time.Time       `json:"started_at"`
	Records   []Record        `json:"records"`
	Failures  []Failure       `json:"failures"`
	Days      []DayReport     `json:"days"`
	// Aborted is set when a day-level failure ended the run early.
	Aborted bool `json:"aborted"`
	// Cancelled is set when the operator cancelled the run.
	Cancelled bool `json:"cancelled"`

	consumed bool
}

var newID = uuid.New

func newBatch(table catalog.TableID) *Batch {
	return &Batch{ID: uuid.New(), Table: table, StartedAt: time.Now().UTC()}
}

// Remove drops a record the operator does not want to submit.
func (b *Batch) Remove(id uuid.UUID) bool {
	for i, r := range b.Records {
		if r.ID == id {
			b.Records = append(b.Records[:i], b.Records[i+1:]...)
			return true
		}
	}
	return false
}

func (b *Batch) Consumed() bool { return b.consumed }

// EntryFailures counts entry-level failures.
func (b *Batch) EntryFailures() int {
	n := 0
	for _, f := range b.Failures {
		if f.Kind == EntryFailure {
			n++
		}
	}
	return n
}

// Progress is reported after every entry and at every day boundary.
type Progress struct {
	BatchID  uuid.UUID     `json:"batch_id"`
	Day      calendar.Date `json:"day"`
	DayIndex int           `json:"day_index"`
	DayCount int           `json:"day_count"`
	Entries  int           `json:"entries"`
	Failures int           `json:"failures"`
	DayDone  bool          `json:"day_done"`
}

// DayFailure is a day that could not be extracted.
type DayFailure struct {
	BatchID uuid.UUID     `json:"batch_id"`
	Day     calendar.Date `json:"day"`
	Message string        `json:"message"`
	Err     error         `json:"-"`
}

// Events receives orchestration events synchronously on the run goroutine.
// Implementations must not block for long.
type Events interface {
	Progress(p Progress)
	// EntryParsed announces a record once its day was fully extracted.
	EntryParsed(batchID uuid.UUID, r Record)
	DayFailed(f DayFailure)
}

// NopEvents ignores everything.
type NopEvents struct{}

func (NopEvents) Progress(Progress)             {}
func (NopEvents) EntryParsed(uuid.UUID, Record) {}
func (NopEvents) DayFailed(DayFailure)          {}

// MultiEvents fans events out in order.
type MultiEvents []Events

func (m MultiEvents) Progress(p Progress) {
	for _, e := range m {
		e.Progress(p)
	}
}

func (m MultiEvents) EntryParsed(batchID uuid.UUID, r Record) {
	for _, e := range m {
		e.EntryParsed(batchID, r)
	}
}

func (m MultiEvents) DayFailed(f DayFailure) {
	for _, e := range m {
		e.DayFailed(f)
	}
}

// DayKey is a ledger entry.
type DayKey struct {
	Table catalog.TableID `json:"table"`
	Date  calendar.Date   `json:"date"`
}

// RecordResult is the fate of one record at commit.
type RecordResult struct {
	ID     uuid.UUID          `json:"id"`
	Table  catalog.TableID    `json:"table"`
	Sheet  string             `json:"sheet"`
	Date   calendar.Date      `json:"date"`
	Row    int                `json:"row,omitempty"`
	Status sheetwriter.Status `json:"status"`
	Error  string             `json:"error,omitempty"`
}

// UnmarkedDay is a day of the batch the commit left out of the ledger.
type UnmarkedDay struct {
	Date   calendar.Date `json:"date"`
	Reason string        `json:"reason"`
}

// PendingMark is a day that should be marked but the ledger was unavailable.
type PendingMark struct {
	DayKey
	Error string `json:"error"`
}

// Outcome summarises a commit.
type Outcome struct {
	BatchID   uuid.UUID             `json:"batch_id"`
	Table     catalog.TableID       `json:"table"`
	Placement sheetwriter.Placement `json:"placement"`
	Results   []RecordResult        `json:"results"`
	Succeeded int                   `json:"succeeded"`
	Failed    int                   `json:"failed"`
	Skipped   int                   `json:"skipped"`
	// EntryFailures carries the extraction failures of the batch forward.
	EntryFailures int           `json:"entry_failures"`
	Marked        []DayKey      `json:"marked"`
	Unmarked      []UnmarkedDay `json:"unmarked"`
	Pending       []PendingMark `json:"pending"`
}
