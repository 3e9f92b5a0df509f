// Package gsheets writes rows to a Google Sheets spreadsheet.
package gsheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/MikeSquared-Agency/bclparser/internal/catalog"
	"github.com/MikeSquared-Agency/bclparser/internal/retry"
	"github.com/MikeSquared-Agency/bclparser/internal/sheetwriter"
)

type Sink struct {
	svc           *sheets.Service
	spreadsheetID string
	limiter       *rate.Limiter
	logger        *slog.Logger

	createMu sync.Mutex
	mu       sync.Mutex
	sheetIDs map[string]int64
}

// New authenticates with a service-account key file and returns a sink for
// spreadsheetID. Calls are paced to writesPerMinute.
func New(ctx context.Context, spreadsheetID, credentialsFile string, writesPerMinute int, logger *slog.Logger) (*Sink, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	cfg, err := google.JWTConfigFromJSON(data, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return NewWithClient(ctx, spreadsheetID, cfg.Client(ctx), writesPerMinute, logger)
}

// NewWithClient builds a sink over an already-authorised HTTP client.
func NewWithClient(ctx context.Context, spreadsheetID string, client *http.Client, writesPerMinute int, logger *slog.Logger, opts ...option.ClientOption) (*Sink, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	if writesPerMinute <= 0 {
		writesPerMinute = 60
	}
	return &Sink{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		limiter:       rate.NewLimiter(rate.Every(time.Minute/time.Duration(writesPerMinute)), 1),
		logger:        logger,
		sheetIDs:      make(map[string]int64),
	}, nil
}

// LastRow scans every column of sheet from the bottom, creating the tab if
// it does not exist yet.
func (s *Sink) LastRow(ctx context.Context, sheet string) (int, error) {
	if _, err := s.ensureSheet(ctx, sheet); err != nil {
		return 0, err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, quote(sheet)).Context(ctx).Do()
	if err != nil {
		return 0, classify(fmt.Errorf("read values of %q: %w", sheet, err))
	}
	for i := len(resp.Values) - 1; i >= 0; i-- {
		if occupied(resp.Values[i]) {
			return i + 1, nil
		}
	}
	return 0, nil
}

func occupied(row []interface{}) bool {
	for _, v := range row {
		if strings.TrimSpace(fmt.Sprint(v)) != "" {
			return true
		}
	}
	return false
}

func (s *Sink) WriteRow(ctx context.Context, sheet string, row int, values []string) error {
	if len(values) == 0 {
		return nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	rng := fmt.Sprintf("%s!A%d:%s%d", quote(sheet), row, catalog.ColumnLetter(len(values)), row)

	_, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, rng, &sheets.ValueRange{
		MajorDimension: "ROWS",
		Values:         [][]interface{}{cells},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return classify(fmt.Errorf("update %s: %w", rng, err))
	}
	s.logger.Debug("row written", "sheet", sheet, "row", row)
	return nil
}

func (s *Sink) InsertRowsAt(ctx context.Context, sheet string, row, count int) error {
	if count <= 0 {
		return nil
	}
	sheetID, err := s.ensureSheet(ctx, sheet)
	if err != nil {
		return err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			InsertDimension: &sheets.InsertDimensionRequest{
				Range: &sheets.DimensionRange{
					SheetId:         sheetID,
					Dimension:       "ROWS",
					StartIndex:      int64(row - 1),
					EndIndex:        int64(row - 1 + count),
					ForceSendFields: []string{"SheetId", "StartIndex"},
				},
				InheritFromBefore: row > 1,
			},
		}},
	}
	if _, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return classify(fmt.Errorf("insert %d rows at %d in %q: %w", count, row, sheet, err))
	}
	return nil
}

// ensureSheet resolves a tab title to its numeric ID, adding the tab when the
// spreadsheet has none by that title. Year-scoped tabs appear this way.
func (s *Sink) ensureSheet(ctx context.Context, sheet string) (int64, error) {
	s.createMu.Lock()
	defer s.createMu.Unlock()

	id, ok, err := s.sheetID(ctx, sheet)
	if err != nil || ok {
		return id, err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: sheet},
			},
		}},
	}
	resp, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		return 0, classify(fmt.Errorf("add sheet %q: %w", sheet, err))
	}
	if len(resp.Replies) == 0 || resp.Replies[0].AddSheet == nil || resp.Replies[0].AddSheet.Properties == nil {
		return 0, fmt.Errorf("add sheet %q: empty reply", sheet)
	}
	id = resp.Replies[0].AddSheet.Properties.SheetId

	s.mu.Lock()
	s.sheetIDs[sheet] = id
	s.mu.Unlock()
	s.logger.Info("sheet created", "sheet", sheet, "sheet_id", id)
	return id, nil
}

// sheetID looks a tab title up, refreshing the cache from the spreadsheet
// properties on a miss.
func (s *Sink) sheetID(ctx context.Context, sheet string) (int64, bool, error) {
	s.mu.Lock()
	id, ok := s.sheetIDs[sheet]
	s.mu.Unlock()
	if ok {
		return id, true, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return 0, false, err
	}
	resp, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, false, classify(fmt.Errorf("read spreadsheet properties: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sh := range resp.Sheets {
		if sh.Properties != nil {
			s.sheetIDs[sh.Properties.Title] = sh.Properties.SheetId
		}
	}
	id, ok = s.sheetIDs[sheet]
	return id, ok, nil
}

// classify marks client errors other than rate limiting as permanent.
func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code >= 400 && gerr.Code < 500 && gerr.Code != http.StatusTooManyRequests {
		return retry.Permanent(err)
	}
	return err
}

func quote(sheet string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
}

var _ sheetwriter.Sink = (*Sink)(nil)
