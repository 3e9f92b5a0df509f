package hermes

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/bclparser/internal/calendar"
	"github.com/MikeSquared-Agency/bclparser/internal/catalog"
	"github.com/MikeSquared-Agency/bclparser/internal/orchestrator"
	"github.com/MikeSquared-Agency/bclparser/internal/record"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type published struct {
	subject string
	data    any
}

type fakePublisher struct {
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(subject string, data any) error {
	f.msgs = append(f.msgs, published{subject, data})
	return f.err
}

func TestEvents_ProgressOnlyAtDayBoundary(t *testing.T) {
	pub := &fakePublisher{}
	ev := NewEvents(pub, discardLogger())

	ev.Progress(orchestrator.Progress{Entries: 1})
	ev.Progress(orchestrator.Progress{Entries: 2, DayDone: true})

	if len(pub.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(pub.msgs))
	}
	if pub.msgs[0].subject != SubjectProgress {
		t.Errorf("expected subject %s, got %s", SubjectProgress, pub.msgs[0].subject)
	}
}

func TestEvents_EntryParsed(t *testing.T) {
	pub := &fakePublisher{}
	ev := NewEvents(pub, discardLogger())
	batchID := uuid.New()
	rec := orchestrator.Record{
		ID: uuid.New(),
		Classified: record.Classified{
			Table: catalog.Media,
			Date:  calendar.New(2025, 3, 4),
			Fields: []record.Field{
				{Name: catalog.FieldName, Value: "Українська правда"},
				{Name: catalog.FieldLink, Value: "https://pravda.com.ua/x"},
			},
		},
	}

	ev.EntryParsed(batchID, rec)

	msg, ok := pub.msgs[0].data.(EntryEvent)
	if !ok {
		t.Fatalf("expected EntryEvent, got %T", pub.msgs[0].data)
	}
	if msg.BatchID != batchID || msg.ID != rec.ID {
		t.Errorf("ids not carried: %+v", msg)
	}
	if msg.Fields["name"] != "Українська правда" || msg.Fields["link"] != "https://pravda.com.ua/x" {
		t.Errorf("unexpected fields %v", msg.Fields)
	}
}

func TestEvents_PublishFailureIsSwallowed(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	ev := NewEvents(pub, discardLogger())

	ev.DayFailed(orchestrator.DayFailure{Message: "timeout"})
	if err := ev.Committed(context.Background(), &orchestrator.Outcome{Succeeded: 3}); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
	if len(pub.msgs) != 2 {
		t.Errorf("expected 2 publish attempts, got %d", len(pub.msgs))
	}
}

func TestEvents_Committed(t *testing.T) {
	pub := &fakePublisher{}
	ev := NewEvents(pub, discardLogger())
	fixed := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	ev.now = func() time.Time { return fixed }

	_ = ev.Committed(context.Background(), &orchestrator.Outcome{Succeeded: 3})

	msg := pub.msgs[0].data.(CommitEvent)
	if pub.msgs[0].subject != SubjectCommitted || msg.Succeeded != 3 || !msg.CommittedAt.Equal(fixed) {
		t.Errorf("unexpected commit event %+v", msg)
	}
}

func TestParseFillGapsRequest(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    catalog.TableID
		wantErr bool
	}{
		{"empty", "", "", false},
		{"table", `{"table":"Media"}`, catalog.Media, false},
		{"garbage", `{`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseFillGapsRequest([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if req.Table != tt.want {
				t.Errorf("table = %q, want %q", req.Table, tt.want)
			}
		})
	}
}
