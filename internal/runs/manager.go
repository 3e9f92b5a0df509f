// Package runs keeps extraction runs alive between operator requests: it
// starts them in the background, relays day-failure prompts, and holds the
// batch until it is committed.
package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/bclparser/internal/calendar"
	"github.com/MikeSquared-Agency/bclparser/internal/catalog"
	"github.com/MikeSquared-Agency/bclparser/internal/orchestrator"
	"github.com/MikeSquared-Agency/bclparser/internal/sheetwriter"
)

var (
	ErrNotFound = errors.New("run not found")
	ErrBusy     = errors.New("a run is already extracting")
	// ErrState means the run is not in a state that allows the operation.
	ErrState   = errors.New("run state does not allow this")
	ErrInvalid = errors.New("invalid run request")
)

// Engine is the orchestrator surface the manager drives.
type Engine interface {
	Run(ctx context.Context, req orchestrator.RunRequest) (*orchestrator.Batch, error)
	FillGaps(ctx context.Context, req orchestrator.RunRequest, today calendar.Date) (*orchestrator.Batch, error)
	Commit(ctx context.Context, batch *orchestrator.Batch, p sheetwriter.Placement) (*orchestrator.Outcome, error)
}

// Notifier is told about every successful commit.
type Notifier interface {
	Committed(ctx context.Context, out *orchestrator.Outcome) error
}

// Prompter announces a day failure somewhere an operator can answer it.
// The returned reference identifies the prompt in DecideByRef.
type Prompter interface {
	PostDayFailure(ctx context.Context, runID string, f orchestrator.DayFailure) (string, error)
}

type Status string

const (
	StatusExtracting Status = "extracting"
	StatusAwaiting   Status = "awaiting_decision"
	StatusReview     Status = "review"
	StatusCommitting Status = "committing"
	StatusCommitted  Status = "committed"
	StatusFailed     Status = "failed"
)

// StartRequest describes a run to start. FillGaps ignores From and To.
type StartRequest struct {
	Table    catalog.TableID `json:"table"`
	From     calendar.Date   `json:"from"`
	To       calendar.Date   `json:"to"`
	FillGaps bool            `json:"fill_gaps"`
	// Trigger records who started the run (api, schedule, nats).
	Trigger string `json:"trigger,omitempty"`
}

type Options struct {
	Catalog         catalog.Catalog
	Events          orchestrator.Events
	Notifiers       []Notifier
	Prompter        Prompter
	DecisionTimeout time.Duration
	Today           func() calendar.Date
	// Keep is how many finished runs stay queryable.
	Keep int
}

type run struct {
	id        uuid.UUID
	req       StartRequest
	startedAt time.Time
	status    Status
	progress  orchestrator.Progress
	pending   *orchestrator.DayFailure
	batch     *orchestrator.Batch
	outcome   *orchestrator.Outcome
	err       string

	cancel    context.CancelFunc
	decisions chan orchestrator.Decision
	done      chan struct{}
}

type Manager struct {
	engine Engine
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	runs    map[uuid.UUID]*run
	order   []uuid.UUID
	active  *run
	prompts map[string]uuid.UUID
}

func NewManager(engine Engine, opts Options, logger *slog.Logger) *Manager {
	if opts.Events == nil {
		opts.Events = orchestrator.NopEvents{}
	}
	if opts.DecisionTimeout <= 0 {
		opts.DecisionTimeout = 5 * time.Minute
	}
	if opts.Today == nil {
		opts.Today = func() calendar.Date { return calendar.Today(time.Local) }
	}
	if opts.Keep <= 0 {
		opts.Keep = 50
	}
	return &Manager{
		engine:  engine,
		opts:    opts,
		logger:  logger,
		runs:    make(map[uuid.UUID]*run),
		prompts: make(map[string]uuid.UUID),
	}
}

// Start launches a run in the background. Only one run extracts at a time.
func (m *Manager) Start(req StartRequest) (Snapshot, error) {
	if _, ok := m.opts.Catalog.Table(req.Table); !ok {
		return Snapshot{}, fmt.Errorf("%w: unknown table %q", ErrInvalid, req.Table)
	}
	if !req.FillGaps {
		if req.From.IsZero() || req.To.IsZero() {
			return Snapshot{}, fmt.Errorf("%w: from and to are required", ErrInvalid)
		}
		if req.From.After(req.To) {
			return Snapshot{}, fmt.Errorf("%w: from %s is after to %s", ErrInvalid, req.From, req.To)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return Snapshot{}, ErrBusy
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:        uuid.New(),
		req:       req,
		startedAt: time.Now().UTC(),
		status:    StatusExtracting,
		cancel:    cancel,
		decisions: make(chan orchestrator.Decision, 1),
		done:      make(chan struct{}),
	}
	m.runs[r.id] = r
	m.order = append(m.order, r.id)
	m.active = r
	m.prune()

	m.logger.Info("run started", "run_id", r.id, "table", req.Table, "fill_gaps", req.FillGaps, "trigger", req.Trigger)
	go m.execute(ctx, r)
	return r.snapshot(), nil
}

func (m *Manager) execute(ctx context.Context, r *run) {
	defer close(r.done)
	defer r.cancel()

	req := orchestrator.RunRequest{
		Table:  r.req.Table,
		Events: orchestrator.MultiEvents{&runEvents{m: m, r: r}, m.opts.Events},
		Decide: m.decider(r),
	}

	var (
		batch *orchestrator.Batch
		err   error
	)
	if r.req.FillGaps {
		batch, err = m.engine.FillGaps(ctx, req, m.opts.Today())
	} else {
		req.Dates = calendar.Range(r.req.From, r.req.To)
		batch, err = m.engine.Run(ctx, req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = nil
	r.pending = nil
	if err != nil {
		r.status = StatusFailed
		r.err = err.Error()
		m.logger.Error("run failed", "run_id", r.id, "error", err)
		return
	}
	r.batch = batch
	r.status = StatusReview
	m.logger.Info("run ready for review", "run_id", r.id, "records", len(batch.Records), "aborted", batch.Aborted, "cancelled", batch.Cancelled)
}

// decider parks the run until the operator answers, the decision timeout
// passes (abort) or the run is cancelled (abort).
func (m *Manager) decider(r *run) orchestrator.DecideFunc {
	return func(ctx context.Context, f orchestrator.DayFailure) orchestrator.Decision {
		m.mu.Lock()
		select {
		case <-r.decisions:
		default:
		}
		r.pending = &f
		r.status = StatusAwaiting
		m.mu.Unlock()

		if m.opts.Prompter != nil {
			ref, err := m.opts.Prompter.PostDayFailure(ctx, r.id.String(), f)
			if err != nil {
				m.logger.Warn("failed to post day failure prompt", "run_id", r.id, "error", err)
			} else {
				m.mu.Lock()
				m.prompts[ref] = r.id
				m.mu.Unlock()
			}
		}

		timer := time.NewTimer(m.opts.DecisionTimeout)
		defer timer.Stop()

		d := orchestrator.Abort
		select {
		case d = <-r.decisions:
		case <-timer.C:
			m.logger.Warn("no decision before timeout, aborting", "run_id", r.id, "date", f.Day)
		case <-ctx.Done():
		}

		m.mu.Lock()
		r.pending = nil
		r.status = StatusExtracting
		m.mu.Unlock()
		return d
	}
}

// Decide answers the pending day-failure prompt of a run.
func (m *Manager) Decide(id uuid.UUID, d orchestrator.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	if r.pending == nil {
		return fmt.Errorf("%w: no pending decision", ErrState)
	}
	select {
	case r.decisions <- d:
		return nil
	default:
		return fmt.Errorf("%w: decision already given", ErrState)
	}
}

// DecideByRef answers the prompt a Prompter posted under ref.
func (m *Manager) DecideByRef(ref string, d orchestrator.Decision) error {
	m.mu.Lock()
	id, ok := m.prompts[ref]
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return m.Decide(id, d)
}

// Cancel stops an extracting run. Days already extracted stay in its batch.
func (m *Manager) Cancel(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	if r.status != StatusExtracting && r.status != StatusAwaiting {
		return fmt.Errorf("%w: run is %s", ErrState, r.status)
	}
	r.cancel()
	return nil
}

// Exclude removes a record from a run's batch before commit.
func (m *Manager) Exclude(id, recordID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	if r.status != StatusReview {
		return fmt.Errorf("%w: run is %s", ErrState, r.status)
	}
	if !r.batch.Remove(recordID) {
		return fmt.Errorf("record %s: %w", recordID, ErrNotFound)
	}
	return nil
}

// Commit writes a reviewed run. A placement error leaves the run in review.
func (m *Manager) Commit(ctx context.Context, id uuid.UUID, p sheetwriter.Placement) (*orchestrator.Outcome, error) {
	m.mu.Lock()
	r, ok := m.runs[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if r.status != StatusReview {
		status := r.status
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: run is %s", ErrState, status)
	}
	r.status = StatusCommitting
	batch := r.batch
	m.mu.Unlock()

	out, err := m.engine.Commit(ctx, batch, p)

	m.mu.Lock()
	if err != nil {
		r.status = StatusReview
		if errors.Is(err, orchestrator.ErrBatchConsumed) {
			r.status = StatusCommitted
		}
		m.mu.Unlock()
		return nil, err
	}
	r.outcome = out
	r.status = StatusCommitted
	m.mu.Unlock()

	notifyCtx := context.WithoutCancel(ctx)
	for _, n := range m.opts.Notifiers {
		if err := n.Committed(notifyCtx, out); err != nil {
			m.logger.Warn("commit notification failed", "run_id", id, "error", err)
		}
	}
	return out, nil
}

// Done is closed when the run's extraction finishes.
func (m *Manager) Done(id uuid.UUID) (<-chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.done, nil
}

func (m *Manager) Get(id uuid.UUID) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return r.snapshot(), nil
}

// List returns every known run, newest first, without records.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		s := m.runs[m.order[i]].snapshot()
		s.Records = nil
		out = append(out, s)
	}
	return out
}

// Shutdown cancels the active run and waits for it or ctx.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	r := m.active
	m.mu.Unlock()
	if r == nil {
		return
	}
	r.cancel()
	select {
	case <-r.done:
	case <-ctx.Done():
	}
}

// prune drops the oldest finished runs beyond Keep. Caller holds mu.
func (m *Manager) prune() {
	excess := len(m.order) - m.opts.Keep
	if excess <= 0 {
		return
	}
	kept := m.order[:0]
	for _, id := range m.order {
		r := m.runs[id]
		if excess > 0 && r != m.active && r.status != StatusReview && r.status != StatusCommitting {
			delete(m.runs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	for ref, id := range m.prompts {
		if _, ok := m.runs[id]; !ok {
			delete(m.prompts, ref)
		}
	}
}

// runEvents keeps the run's progress current.
type runEvents struct {
	m *Manager
	r *run
}

func (e *runEvents) Progress(p orchestrator.Progress) {
	e.m.mu.Lock()
	e.r.progress = p
	e.m.mu.Unlock()
}

func (e *runEvents) EntryParsed(uuid.UUID, orchestrator.Record) {}
func (e *runEvents) DayFailed(orchestrator.DayFailure)          {}
