// Package xlsx keeps the destination tables in a local workbook, for
// operators working without Google credentials, and writes preview reports.
package xlsx

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/MikeSquared-Agency/bclparser/internal/sheetwriter"
)

// Sink is a workbook on disk. Each mutation is saved before it returns.
type Sink struct {
	mu     sync.Mutex
	path   string
	file   *excelize.File
	logger *slog.Logger
}

// Open loads the workbook at path or starts a new one.
func Open(path string, logger *slog.Logger) (*Sink, error) {
	p := expandHome(path)
	var (
		f   *excelize.File
		err error
	)
	if _, statErr := os.Stat(p); statErr == nil {
		f, err = excelize.OpenFile(p)
		if err != nil {
			return nil, fmt.Errorf("open workbook: %w", err)
		}
	} else {
		f = excelize.NewFile()
	}
	return &Sink{path: p, file: f, logger: logger}, nil
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// LastRow is the last row with any non-blank cell.
func (s *Sink) LastRow(_ context.Context, sheet string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.file.GetSheetIndex(sheet)
	if err != nil {
		return 0, fmt.Errorf("look up sheet %q: %w", sheet, err)
	}
	if idx == -1 {
		return 0, nil
	}
	rows, err := s.file.GetRows(sheet)
	if err != nil {
		return 0, fmt.Errorf("read rows of %q: %w", sheet, err)
	}
	for i := len(rows) - 1; i >= 0; i-- {
		if occupied(rows[i]) {
			return i + 1, nil
		}
	}
	return 0, nil
}

func occupied(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

func (s *Sink) WriteRow(_ context.Context, sheet string, row int, values []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureSheet(sheet); err != nil {
		return err
	}
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("row %d: %w", row, err)
	}
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	if err := s.file.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("set row %d of %q: %w", row, sheet, err)
	}
	return s.save()
}

func (s *Sink) InsertRowsAt(_ context.Context, sheet string, row, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureSheet(sheet); err != nil {
		return err
	}
	if err := s.file.InsertRows(sheet, row, count); err != nil {
		return fmt.Errorf("insert %d rows at %d of %q: %w", count, row, sheet, err)
	}
	return s.save()
}

func (s *Sink) ensureSheet(sheet string) error {
	idx, err := s.file.GetSheetIndex(sheet)
	if err != nil {
		return fmt.Errorf("look up sheet %q: %w", sheet, err)
	}
	if idx != -1 {
		return nil
	}
	if _, err := s.file.NewSheet(sheet); err != nil {
		return fmt.Errorf("create sheet %q: %w", sheet, err)
	}
	s.logger.Info("sheet created", "sheet", sheet, "path", s.path)
	return nil
}

func (s *Sink) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	if err := s.file.SaveAs(s.path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

var _ sheetwriter.Sink = (*Sink)(nil)
