package slack

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/bclparser/internal/calendar"
	"github.com/MikeSquared-Agency/bclparser/internal/catalog"
	"github.com/MikeSquared-Agency/bclparser/internal/orchestrator"
	"github.com/MikeSquared-Agency/bclparser/internal/sheetwriter"
)

func sampleOutcome() *orchestrator.Outcome {
	d1 := calendar.New(2025, 3, 4)
	d2 := calendar.New(2025, 3, 5)
	return &orchestrator.Outcome{
		BatchID:   uuid.New(),
		Table:     catalog.SocialNetworks,
		Placement: sheetwriter.Append(),
		Results: []orchestrator.RecordResult{
			{Date: d1, Sheet: "Соцмережі 2025", Row: 10, Status: sheetwriter.Written},
			{Date: d2, Sheet: "Соцмережі 2025", Row: 11, Status: sheetwriter.Failed, Error: "quota exceeded"},
			{Date: d2, Sheet: "Соцмережі 2025", Row: 11, Status: sheetwriter.Written},
		},
		Succeeded:     2,
		Failed:        1,
		EntryFailures: 1,
		Marked:        []orchestrator.DayKey{{Table: catalog.SocialNetworks, Date: d1}},
		Unmarked:      []orchestrator.UnmarkedDay{{Date: d2, Reason: "write_failed"}},
	}
}

func TestFormatOutcome(t *testing.T) {
	msg := formatOutcome(sampleOutcome())

	checks := []string{
		"Commit to SocialNetworks",
		"append",
		"Written: 2 | Failed: 1 | Skipped: 0 | Extraction failures: 1",
		"2025-03-04: 1 written",
		"2025-03-05: 1 written, 1 failed",
		"SocialNetworks 2025-03-04",
		"2025-03-05 (write_failed)",
	}
	for _, check := range checks {
		if !strings.Contains(msg, check) {
			t.Errorf("expected message to contain %q, got:\n%s", check, msg)
		}
	}
}

func TestFormatOutcome_Empty(t *testing.T) {
	msg := formatOutcome(&orchestrator.Outcome{Table: catalog.Media})
	if !strings.Contains(msg, "Nothing to write") {
		t.Errorf("expected empty message, got %q", msg)
	}
}

func TestFormatFailures(t *testing.T) {
	got := formatFailures(sampleOutcome())
	want := "2025-03-05 Соцмережі 2025 row 11: quota exceeded"
	if got != want {
		t.Errorf("formatFailures = %q, want %q", got, want)
	}
}

func TestCommitted_PostsSummaryAndThread(t *testing.T) {
	var payloads []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer xoxb-test" {
			t.Errorf("expected Bearer xoxb-test, got %q", r.Header.Get("Authorization"))
		}
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		json.Unmarshal(body, &payload)
		payloads = append(payloads, payload)

		json.NewEncoder(w).Encode(map[string]any{"ok": true, "ts": "1234567890.123456"})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	if err := p.Committed(context.Background(), sampleOutcome()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(payloads) != 2 {
		t.Fatalf("expected summary and thread, got %d posts", len(payloads))
	}
	if payloads[0]["channel"] != "C123" {
		t.Errorf("expected channel C123, got %v", payloads[0]["channel"])
	}
	if payloads[1]["thread_ts"] != "1234567890.123456" {
		t.Errorf("expected thread reply, got %v", payloads[1])
	}
}

func TestPostDayFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "2025-03-05") {
			t.Errorf("expected day in message, got %s", body)
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "ts": "111.222"})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	ts, err := p.PostDayFailure(context.Background(), "run-1", orchestrator.DayFailure{
		Day: calendar.New(2025, 3, 5), Message: "date filter did not apply",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts != "111.222" {
		t.Errorf("expected ts 111.222, got %q", ts)
	}
}

func TestCommitted_SlackError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "channel_not_found"})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	if err := p.Committed(context.Background(), sampleOutcome()); err == nil {
		t.Fatal("expected error for slack error response")
	}
}
