// Package monitor talks to the browser automation sidecar that drives the
// monitoring site. The sidecar owns the browser; this client only asks it to
// switch days and pages through what it reads.
package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/MikeSquared-Agency/bclparser/internal/calendar"
	"github.com/MikeSquared-Agency/bclparser/internal/extraction"
	"github.com/MikeSquared-Agency/bclparser/internal/record"
	"github.com/MikeSquared-Agency/bclparser/internal/retry"
)

type Client struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
	pages   retry.Policy
}

// NewClient builds a client for the sidecar at baseURL. pages bounds each
// page fetch; requests are paced to requestsPerSecond.
func NewClient(baseURL, token string, requestsPerSecond float64, pages retry.Policy) *Client {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 120 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		pages:   pages,
	}
}

type navigateRequest struct {
	Date calendar.Date `json:"date"`
}

type navigateResponse struct {
	Applied bool          `json:"applied"`
	Date    calendar.Date `json:"date"`
}

type pageItem struct {
	Entry *record.RawEntry `json:"entry,omitempty"`
	Error string           `json:"error,omitempty"`
}

type pageResponse struct {
	Items []pageItem `json:"items"`
	Next  string     `json:"next"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NavigateToDate asks the sidecar to filter the view to day and checks the
// sidecar reports that exact day back.
func (c *Client) NavigateToDate(ctx context.Context, day calendar.Date) error {
	body, err := json.Marshal(navigateRequest{Date: day})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	var resp navigateResponse
	if err := c.do(ctx, http.MethodPost, "/v1/view/date", bytes.NewReader(body), &resp); err != nil {
		return err
	}
	if !resp.Applied {
		return fmt.Errorf("sidecar did not apply date %s", day)
	}
	if resp.Date != day {
		return fmt.Errorf("view shows %s, wanted %s", resp.Date, day)
	}
	return nil
}

// Entries pages through the current view. A page that cannot be fetched
// ends the sequence with an error wrapping extraction.ErrViewLost.
func (c *Client) Entries(ctx context.Context) iter.Seq2[record.RawEntry, error] {
	return func(yield func(record.RawEntry, error) bool) {
		cursor := ""
		for {
			var page pageResponse
			err := c.pages.Do(ctx, func(ctx context.Context) error {
				page = pageResponse{}
				path := "/v1/entries"
				if cursor != "" {
					path += "?cursor=" + url.QueryEscape(cursor)
				}
				return c.do(ctx, http.MethodGet, path, nil, &page)
			})
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				yield(record.RawEntry{}, fmt.Errorf("%w: fetch page: %w", extraction.ErrViewLost, err))
				return
			}

			for _, item := range page.Items {
				var ok bool
				switch {
				case item.Error != "":
					ok = yield(record.RawEntry{}, errors.New(item.Error))
				case item.Entry != nil:
					ok = yield(*item.Entry, nil)
				default:
					ok = yield(record.RawEntry{}, errors.New("sidecar returned an empty item"))
				}
				if !ok {
					return
				}
			}

			if page.Next == "" {
				return
			}
			cursor = page.Next
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sidecar call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusConflict {
		return retry.Permanent(fmt.Errorf("%w: %s", extraction.ErrViewLost, strings.TrimSpace(string(respBody))))
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(respBody))
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			msg = errResp.Error
		}
		err := fmt.Errorf("sidecar error %d: %s", resp.StatusCode, msg)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return retry.Permanent(err)
		}
		return err
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return retry.Permanent(fmt.Errorf("unmarshal response: %w", err))
	}
	return nil
}

var _ extraction.Automation = (*Client)(nil)
