package hermes

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/bclparser/internal/calendar"
	"github.com/MikeSquared-Agency/bclparser/internal/catalog"
	"github.com/MikeSquared-Agency/bclparser/internal/orchestrator"
)

// Publisher is the part of Client the event bridge needs.
type Publisher interface {
	Publish(subject string, data any) error
}

// EntryEvent is the wire form of a previewed record.
type EntryEvent struct {
	BatchID uuid.UUID         `json:"batch_id"`
	ID      uuid.UUID         `json:"id"`
	Table   catalog.TableID   `json:"table"`
	Date    calendar.Date     `json:"date"`
	Fields  map[string]string `json:"fields"`
}

// CommitEvent is published once per commit.
type CommitEvent struct {
	*orchestrator.Outcome
	CommittedAt time.Time `json:"committed_at"`
}

// Events forwards orchestration events to NATS. Publish failures are logged
// and never interrupt a run.
type Events struct {
	pub    Publisher
	logger *slog.Logger
	now    func() time.Time
}

func NewEvents(pub Publisher, logger *slog.Logger) *Events {
	return &Events{pub: pub, logger: logger, now: time.Now}
}

var _ orchestrator.Events = (*Events)(nil)

func (e *Events) Progress(p orchestrator.Progress) {
	// Per-entry progress is chatty; only day boundaries go out.
	if !p.DayDone {
		return
	}
	e.publish(SubjectProgress, p)
}

func (e *Events) EntryParsed(batchID uuid.UUID, r orchestrator.Record) {
	fields := make(map[string]string, len(r.Fields))
	for _, f := range r.Fields {
		fields[string(f.Name)] = f.Value
	}
	e.publish(SubjectEntry, EntryEvent{
		BatchID: batchID, ID: r.ID, Table: r.Table, Date: r.Date, Fields: fields,
	})
}

func (e *Events) DayFailed(f orchestrator.DayFailure) {
	e.publish(SubjectDayFailed, f)
}

// Committed publishes a commit outcome.
func (e *Events) Committed(_ context.Context, out *orchestrator.Outcome) error {
	e.publish(SubjectCommitted, CommitEvent{Outcome: out, CommittedAt: e.now().UTC()})
	return nil
}

func (e *Events) publish(subject string, data any) {
	if err := e.pub.Publish(subject, data); err != nil {
		e.logger.Warn("failed to publish event", "subject", subject, "error", err)
	}
}

// FillGapsRequest asks for a fill-gaps run of Table. An empty Table means
// the configured tracking table.
type FillGapsRequest struct {
	Table catalog.TableID `json:"table"`
}

// ParseFillGapsRequest decodes a request message. An empty payload is a
// request for the default table.
func ParseFillGapsRequest(data []byte) (FillGapsRequest, error) {
	var req FillGapsRequest
	if len(data) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, err
	}
	return req, nil
}
