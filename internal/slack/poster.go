package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/bclparser/internal/calendar"
	"github.com/MikeSquared-Agency/bclparser/internal/orchestrator"
	"github.com/MikeSquared-Agency/bclparser/internal/sheetwriter"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// Committed posts the commit summary and, when some records failed, a
// threaded reply listing them.
func (p *Poster) Committed(ctx context.Context, out *orchestrator.Outcome) error {
	ts, err := p.post(ctx, map[string]any{
		"channel": p.channel,
		"text":    formatOutcome(out),
	})
	if err != nil {
		return err
	}
	p.logger.Info("posted commit summary to slack", "ts", ts, "batch_id", out.BatchID)

	if failures := formatFailures(out); failures != "" {
		if err := p.PostThread(ctx, ts, failures); err != nil {
			return fmt.Errorf("post failures: %w", err)
		}
	}
	return nil
}

// PostDayFailure asks the channel whether to go on after a day could not
// be extracted. Returns the message timestamp used to match reactions.
func (p *Poster) PostDayFailure(ctx context.Context, runID string, f orchestrator.DayFailure) (string, error) {
	text := fmt.Sprintf("*Day %s could not be extracted* (run %s)\n%s", f.Day, runID, f.Message)
	ts, err := p.post(ctx, map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{"type": "mrkdwn", "text": text},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{"type": "mrkdwn", "text": "React: :arrow_forward: continue | :octagonal_sign: abort"},
				},
			},
		},
	})
	if err != nil {
		return "", err
	}
	p.logger.Info("posted day failure to slack", "ts", ts, "run_id", runID, "date", f.Day)
	return ts, nil
}

// PostThread posts a threaded reply to a message.
func (p *Poster) PostThread(ctx context.Context, threadTS, text string) error {
	_, err := p.post(ctx, map[string]any{
		"channel":   p.channel,
		"thread_ts": threadTS,
		"text":      text,
	})
	return err
}

func (p *Poster) post(ctx context.Context, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}
	return slackResp.TS, nil
}

type dayCounts struct {
	written, failed, skipped int
}

func formatOutcome(out *orchestrator.Outcome) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "*Commit to %s* (%s)\n", out.Table, out.Placement)
	fmt.Fprintf(&sb, "Written: %d | Failed: %d | Skipped: %d | Extraction failures: %d\n\n",
		out.Succeeded, out.Failed, out.Skipped, out.EntryFailures)

	var days []calendar.Date
	counts := make(map[calendar.Date]*dayCounts)
	for _, r := range out.Results {
		c := counts[r.Date]
		if c == nil {
			c = &dayCounts{}
			counts[r.Date] = c
			days = append(days, r.Date)
		}
		switch r.Status {
		case sheetwriter.Written:
			c.written++
		case sheetwriter.Failed:
			c.failed++
		default:
			c.skipped++
		}
	}
	for _, d := range days {
		c := counts[d]
		fmt.Fprintf(&sb, "%s: %d written", d, c.written)
		if c.failed > 0 {
			fmt.Fprintf(&sb, ", %d failed", c.failed)
		}
		if c.skipped > 0 {
			fmt.Fprintf(&sb, ", %d skipped", c.skipped)
		}
		sb.WriteString("\n")
	}

	if len(out.Marked) > 0 {
		marked := make([]string, 0, len(out.Marked))
		for _, k := range out.Marked {
			marked = append(marked, fmt.Sprintf("%s %s", k.Table, k.Date))
		}
		fmt.Fprintf(&sb, "\n*Days marked:* %s\n", strings.Join(marked, ", "))
	}
	for _, u := range out.Unmarked {
		fmt.Fprintf(&sb, "_Not marked:_ %s (%s)\n", u.Date, u.Reason)
	}
	if len(out.Results) == 0 && len(out.Marked) == 0 {
		sb.WriteString("_Nothing to write._")
	}

	return strings.TrimRight(sb.String(), "\n")
}

func formatFailures(out *orchestrator.Outcome) string {
	var sb strings.Builder
	for _, r := range out.Results {
		if r.Status != sheetwriter.Failed {
			continue
		}
		fmt.Fprintf(&sb, "%s %s row %d: %s\n", r.Date, r.Sheet, r.Row, r.Error)
	}
	return strings.TrimRight(sb.String(), "\n")
}
