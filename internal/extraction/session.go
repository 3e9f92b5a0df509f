// Package extraction drives one day of entry extraction through the
// browser automation collaborator.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/MikeSquared-Agency/bclparser/internal/calendar"
	"github.com/MikeSquared-Agency/bclparser/internal/record"
	"github.com/MikeSquared-Agency/bclparser/internal/retry"
)

// Automation is the browser automation collaborator.
type Automation interface {
	// NavigateToDate positions the monitor view on day and returns nil only
	// once the collaborator has confirmed the date was applied.
	NavigateToDate(ctx context.Context, day calendar.Date) error
	// Entries yields the entries of the current view in display order.
	// Pagination is the collaborator's business. A non-nil error marks one
	// entry as unreadable; the sequence continues after it.
	Entries(ctx context.Context) iter.Seq2[record.RawEntry, error]
}

type State int

const (
	NotStarted State = iota
	Navigating
	Extracting
	Completed
	Aborted
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Navigating:
		return "navigating"
	case Extracting:
		return "extracting"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Item is one element of a day's sequence: an entry or the reason it could
// not be read.
type Item struct {
	Index int
	Entry record.RawEntry
	Err   *ExtractionError
}

// Session extracts a single day. It is single-use.
type Session struct {
	automation Automation
	day        calendar.Date
	logger     *slog.Logger

	state    State
	entries  int
	failures int
	skipped  int
}

func NewSession(a Automation, day calendar.Date, logger *slog.Logger) *Session {
	return &Session{automation: a, day: day, logger: logger}
}

func (s *Session) Day() calendar.Date { return s.day }
func (s *Session) State() State       { return s.state }

// Counts returns how many entries were read, failed, and skipped because
// they belonged to another day.
func (s *Session) Counts() (entries, failures, skipped int) {
	return s.entries, s.failures, s.skipped
}

// Run navigates to the session day and feeds every item to visit. It
// returns nil when the sequence was exhausted (Completed), a
// *NavigationError when the day could not be confirmed, or ctx's error on
// cancellation. Both failures leave the session Aborted.
func (s *Session) Run(ctx context.Context, visit func(Item)) error {
	if s.state != NotStarted {
		return fmt.Errorf("session for %s already %s", s.day, s.state)
	}

	s.state = Navigating
	if err := ctx.Err(); err != nil {
		s.state = Aborted
		return err
	}
	if err := s.automation.NavigateToDate(ctx, s.day); err != nil {
		s.state = Aborted
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &NavigationError{Date: s.day, Err: err}
	}

	s.state = Extracting
	index := 0
	for entry, err := range s.automation.Entries(ctx) {
		if ctx.Err() != nil {
			break
		}
		i := index
		index++

		if err != nil {
			if errors.Is(err, ErrViewLost) {
				s.state = Aborted
				return &NavigationError{Date: s.day, Err: err}
			}
			s.failures++
			ee := s.extractionError(i, err)
			s.logger.Warn("entry extraction failed", "date", s.day, "index", i, "error", err)
			visit(Item{Index: i, Err: ee})
			continue
		}

		if !entry.Date.IsZero() && entry.Date != s.day {
			s.skipped++
			s.logger.Debug("skipping entry from another day", "date", s.day, "entry_date", entry.Date)
			continue
		}
		entry.Date = s.day
		s.entries++
		visit(Item{Index: i, Entry: entry})
	}

	if err := ctx.Err(); err != nil {
		s.state = Aborted
		return err
	}
	s.state = Completed
	return nil
}

func (s *Session) extractionError(index int, err error) *ExtractionError {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		out := *ee
		out.Date = s.day
		out.Index = index
		return &out
	}
	return &ExtractionError{Date: s.day, Index: index, Err: err}
}

// WithPolicy applies p to every navigation call of a. Entry sequences are
// passed through; the collaborator bounds its own page fetches.
func WithPolicy(a Automation, p retry.Policy) Automation {
	return &policyAutomation{next: a, policy: p}
}

type policyAutomation struct {
	next   Automation
	policy retry.Policy
}

func (p *policyAutomation) NavigateToDate(ctx context.Context, day calendar.Date) error {
	return p.policy.Do(ctx, func(ctx context.Context) error {
		return p.next.NavigateToDate(ctx, day)
	})
}

func (p *policyAutomation) Entries(ctx context.Context) iter.Seq2[record.RawEntry, error] {
	return p.next.Entries(ctx)
}
