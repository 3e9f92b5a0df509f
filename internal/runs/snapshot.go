package runs

import (
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/bclparser/internal/orchestrator"
)

// Snapshot is a point-in-time view of a run.
type Snapshot struct {
	ID        uuid.UUID                `json:"id"`
	Request   StartRequest             `json:"request"`
	StartedAt time.Time                `json:"started_at"`
	Status    Status                   `json:"status"`
	Progress  orchestrator.Progress    `json:"progress"`
	Pending   *orchestrator.DayFailure `json:"pending_decision,omitempty"`
	Records   []orchestrator.Record    `json:"records,omitempty"`
	Failures  []orchestrator.Failure   `json:"failures,omitempty"`
	Days      []orchestrator.DayReport `json:"days,omitempty"`
	Aborted   bool                     `json:"aborted"`
	Cancelled bool                     `json:"cancelled"`
	Outcome   *orchestrator.Outcome    `json:"outcome,omitempty"`
	Error     string                   `json:"error,omitempty"`
}

// snapshot copies r. Caller holds the manager lock.
func (r *run) snapshot() Snapshot {
	s := Snapshot{
		ID:        r.id,
		Request:   r.req,
		StartedAt: r.startedAt,
		Status:    r.status,
		Progress:  r.progress,
		Outcome:   r.outcome,
		Error:     r.err,
	}
	if r.pending != nil {
		p := *r.pending
		s.Pending = &p
	}
	if b := r.batch; b != nil {
		s.Records = append([]orchestrator.Record(nil), b.Records...)
		s.Failures = append([]orchestrator.Failure(nil), b.Failures...)
		s.Days = append([]orchestrator.DayReport(nil), b.Days...)
		s.Aborted = b.Aborted
		s.Cancelled = b.Cancelled
	}
	return s
}
