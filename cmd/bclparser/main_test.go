package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/bclparser/internal/calendar"
	"github.com/MikeSquared-Agency/bclparser/internal/catalog"
	"github.com/MikeSquared-Agency/bclparser/internal/config"
	"github.com/MikeSquared-Agency/bclparser/internal/ledger"
	"github.com/MikeSquared-Agency/bclparser/internal/orchestrator"
	"github.com/MikeSquared-Agency/bclparser/internal/record"
)

func TestParseRunFlags(t *testing.T) {
	cfg := config.Config{TrackTable: "SocialNetworks"}
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"range", []string{"-from", "2025-03-01", "-to", "2025-03-04"}, false},
		{"fill gaps", []string{"-fill-gaps"}, false},
		{"nothing", nil, true},
		{"negative row", []string{"-fill-gaps", "-row", "-3"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseRunFlags(cfg, tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunFlags_Dates(t *testing.T) {
	f := runFlags{from: "2025-03-30", to: "2025-04-02"}
	days, err := f.dates()
	if err != nil {
		t.Fatal(err)
	}
	if len(days) != 4 || days[3] != calendar.New(2025, 4, 2) {
		t.Errorf("unexpected days %v", days)
	}

	single, _ := runFlags{from: "2025-03-30"}.dates()
	if len(single) != 1 {
		t.Errorf("expected -to to default to -from, got %v", single)
	}

	if _, err := (runFlags{from: "2025-04-02", to: "2025-03-30"}).dates(); err == nil {
		t.Error("expected error for reversed range")
	}
}

func TestRunFlags_Placement(t *testing.T) {
	if !(runFlags{}).placement().IsAppend() {
		t.Error("expected append by default")
	}
	if p := (runFlags{row: 7}).placement(); p.Row != 7 {
		t.Errorf("expected row 7, got %s", p)
	}
}

func TestConsole_Confirm(t *testing.T) {
	var out bytes.Buffer
	c := newConsole(strings.NewReader("y\n"), &out, false)
	if !c.confirm(context.Background(), "ok? ") {
		t.Error("expected yes")
	}
	if c.confirm(context.Background(), "again? ") {
		t.Error("expected end of input to count as no")
	}

	c = newConsole(strings.NewReader("\n"), &out, false)
	if c.decide(context.Background(), orchestrator.DayFailure{}) != orchestrator.Abort {
		t.Error("expected empty answer to abort")
	}

	c = newConsole(strings.NewReader(""), &out, true)
	if c.decide(context.Background(), orchestrator.DayFailure{}) != orchestrator.Abort {
		t.Error("expected -yes to abort on day failures")
	}
}

func TestConsole_AnswerAfterCancelReachesNextQuestion(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	c := newConsole(pr, io.Discard, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if c.confirm(ctx, "continue? ") {
		t.Fatal("expected a cancelled question to count as no")
	}

	go io.WriteString(pw, "yes\n")
	if !c.confirm(context.Background(), "commit? ") {
		t.Error("expected the next question to receive the typed answer")
	}
}

func TestPrintBatch(t *testing.T) {
	d := calendar.New(2025, 3, 4)
	b := &orchestrator.Batch{
		Records: []orchestrator.Record{{
			ID: uuid.New(),
			Classified: record.Classified{
				Table: catalog.SocialNetworks,
				Date:  d,
				Fields: []record.Field{
					{Name: catalog.FieldName, Value: "МОН"},
					{Name: catalog.FieldLink, Value: "https://t.me/mon"},
				},
			},
		}},
		Failures: []orchestrator.Failure{{Kind: orchestrator.EntryFailure, Date: d, Index: 2, Message: "no tags"}},
		Aborted:  true,
	}

	var out bytes.Buffer
	printBatch(&out, b)
	for _, want := range []string{"МОН", "https://t.me/mon", "1 records, 1 extraction failures", "entry #3: no tags", "run aborted"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out.String())
		}
	}
}

func TestPrintMissing(t *testing.T) {
	store, err := ledger.OpenFileStore(filepath.Join(t.TempDir(), "ledger.json"))
	if err != nil {
		t.Fatal(err)
	}
	l := ledger.New(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	today := calendar.New(2025, 3, 5)
	l.MarkDone(context.Background(), catalog.Media, calendar.New(2025, 3, 4))

	if err := printMissing(context.Background(), l, catalog.Media, "", "", today, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := printMissing(context.Background(), l, catalog.Media, "soon", "", today, 3); err == nil {
		t.Error("expected error for bad -from")
	}
}

func TestForgetDays(t *testing.T) {
	ctx := context.Background()
	store, err := ledger.OpenFileStore(filepath.Join(t.TempDir(), "ledger.json"))
	if err != nil {
		t.Fatal(err)
	}
	l := ledger.New(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	for _, d := range calendar.Range(calendar.New(2025, 3, 1), calendar.New(2025, 3, 4)) {
		l.MarkDone(ctx, catalog.Media, d)
	}

	if err := forgetDays(ctx, l, catalog.Media, "", "", false, io.Discard); err == nil {
		t.Error("expected an error without bounds or -all")
	}
	if err := forgetDays(ctx, l, catalog.Media, "2025-03-04", "2025-03-01", false, io.Discard); err == nil {
		t.Error("expected an error for an inverted range")
	}

	var out bytes.Buffer
	if err := forgetDays(ctx, l, catalog.Media, "2025-03-03", "", false, &out); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if !strings.Contains(out.String(), "Media: 2 day(s) unmarked") {
		t.Errorf("unexpected output %q", out.String())
	}

	out.Reset()
	forgetDays(ctx, l, catalog.Media, "", "", true, &out)
	if !strings.Contains(out.String(), "Media: 2 day(s) unmarked") {
		t.Errorf("expected the rest unmarked with -all, got %q", out.String())
	}
}

