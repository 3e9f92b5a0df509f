package extraction

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/bclparser/internal/calendar"
	"github.com/MikeSquared-Agency/bclparser/internal/record"
	"github.com/MikeSquared-Agency/bclparser/internal/retry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type step struct {
	entry record.RawEntry
	err   error
}

type fakeAutomation struct {
	navErrs   []error // returned by successive NavigateToDate calls
	navCalls  int
	steps     []step
	onYield   func(i int)
	navigated calendar.Date
}

func (f *fakeAutomation) NavigateToDate(_ context.Context, day calendar.Date) error {
	f.navCalls++
	if len(f.navErrs) > 0 {
		err := f.navErrs[0]
		f.navErrs = f.navErrs[1:]
		if err != nil {
			return err
		}
	}
	f.navigated = day
	return nil
}

func (f *fakeAutomation) Entries(context.Context) iter.Seq2[record.RawEntry, error] {
	return func(yield func(record.RawEntry, error) bool) {
		for i, s := range f.steps {
			if f.onYield != nil {
				f.onYield(i)
			}
			if !yield(s.entry, s.err) {
				return
			}
		}
	}
}

func entries(names ...string) []step {
	out := make([]step, len(names))
	for i, n := range names {
		out[i] = step{entry: record.RawEntry{Name: n, Link: "https://example.com/" + n}}
	}
	return out
}

func collect(t *testing.T, s *Session, ctx context.Context) ([]Item, error) {
	t.Helper()
	var items []Item
	err := s.Run(ctx, func(it Item) { items = append(items, it) })
	return items, err
}

func TestSession_Completed(t *testing.T) {
	day := calendar.New(2025, 2, 3)
	a := &fakeAutomation{steps: entries("a", "b", "c")}
	s := NewSession(a, day, discardLogger())

	if s.State() != NotStarted {
		t.Fatalf("expected NotStarted, got %s", s.State())
	}
	items, err := collect(t, s, context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.State() != Completed {
		t.Errorf("expected Completed, got %s", s.State())
	}
	if a.navigated != day {
		t.Errorf("expected navigation to %s, got %s", day, a.navigated)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	for i, it := range items {
		if it.Entry.Date != day {
			t.Errorf("item %d: expected inherited date %s, got %s", i, day, it.Entry.Date)
		}
	}
}

func TestSession_EntryFailureDoesNotStopDay(t *testing.T) {
	day := calendar.New(2025, 2, 3)
	steps := entries("1", "2", "3", "4", "5")
	steps[2] = step{err: errors.New("tag chip never appeared")}
	s := NewSession(&fakeAutomation{steps: steps}, day, discardLogger())

	items, err := collect(t, s, context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.State() != Completed {
		t.Errorf("expected Completed, got %s", s.State())
	}
	got, failed, _ := s.Counts()
	if got != 4 || failed != 1 {
		t.Errorf("expected 4 entries and 1 failure, got %d and %d", got, failed)
	}
	if items[2].Err == nil || items[2].Err.Index != 2 || items[2].Err.Date != day {
		t.Errorf("expected failure at index 2, got %+v", items[2])
	}
	if items[3].Entry.Name != "4" {
		t.Errorf("expected extraction to continue after failure, got %+v", items[3])
	}
}

func TestSession_NavigationError(t *testing.T) {
	day := calendar.New(2025, 2, 3)
	a := &fakeAutomation{navErrs: []error{errors.New("date picker did not apply")}, steps: entries("a")}
	s := NewSession(a, day, discardLogger())

	items, err := collect(t, s, context.Background())
	var ne *NavigationError
	if !errors.As(err, &ne) {
		t.Fatalf("expected NavigationError, got %v", err)
	}
	if ne.Date != day {
		t.Errorf("expected date %s, got %s", day, ne.Date)
	}
	if s.State() != Aborted {
		t.Errorf("expected Aborted, got %s", s.State())
	}
	if len(items) != 0 {
		t.Errorf("expected no items after failed navigation, got %d", len(items))
	}
}

func TestSession_ViewLostAbortsDay(t *testing.T) {
	steps := entries("a", "b")
	steps = append(steps, step{err: ErrViewLost})
	s := NewSession(&fakeAutomation{steps: steps}, calendar.New(2025, 1, 1), discardLogger())

	_, err := collect(t, s, context.Background())
	var ne *NavigationError
	if !errors.As(err, &ne) || !errors.Is(err, ErrViewLost) {
		t.Fatalf("expected NavigationError wrapping ErrViewLost, got %v", err)
	}
	if s.State() != Aborted {
		t.Errorf("expected Aborted, got %s", s.State())
	}
}

func TestSession_CancelledBetweenEntries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &fakeAutomation{steps: entries("a", "b", "c", "d")}
	a.onYield = func(i int) {
		if i == 2 {
			cancel()
		}
	}
	s := NewSession(a, calendar.New(2025, 1, 1), discardLogger())

	items, err := collect(t, s, ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if s.State() != Aborted {
		t.Errorf("expected Aborted, got %s", s.State())
	}
	if len(items) != 2 {
		t.Errorf("expected 2 items before cancellation, got %d", len(items))
	}
}

func TestSession_SkipsForeignDates(t *testing.T) {
	day := calendar.New(2025, 1, 2)
	steps := entries("a", "b")
	steps[1].entry.Date = calendar.New(2025, 1, 1)
	s := NewSession(&fakeAutomation{steps: steps}, day, discardLogger())

	items, err := collect(t, s, context.Background())
	if err != nil {
		t.Fatal(err)
	}
	_, _, skipped := s.Counts()
	if len(items) != 1 || skipped != 1 {
		t.Errorf("expected 1 item and 1 skipped, got %d and %d", len(items), skipped)
	}
}

func TestSession_SingleUse(t *testing.T) {
	s := NewSession(&fakeAutomation{}, calendar.New(2025, 1, 1), discardLogger())
	if _, err := collect(t, s, context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := collect(t, s, context.Background()); err == nil {
		t.Error("expected error on second run")
	}
}

func TestWithPolicy_RetriesNavigation(t *testing.T) {
	a := &fakeAutomation{navErrs: []error{errors.New("timeout"), nil}}
	p := retry.Policy{MaxAttempts: 3, Backoff: []time.Duration{time.Millisecond}, Timeout: time.Second}
	s := NewSession(WithPolicy(a, p), calendar.New(2025, 1, 1), discardLogger())

	if _, err := collect(t, s, context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.navCalls != 2 {
		t.Errorf("expected 2 navigation calls, got %d", a.navCalls)
	}
}
