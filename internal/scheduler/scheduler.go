// Package scheduler starts fill-gaps runs on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MikeSquared-Agency/bclparser/internal/catalog"
	"github.com/MikeSquared-Agency/bclparser/internal/runs"
)

// Starter starts runs. *runs.Manager satisfies it.
type Starter interface {
	Start(req runs.StartRequest) (runs.Snapshot, error)
}

type Scheduler struct {
	cron    *cron.Cron
	starter Starter
	table   catalog.TableID
	logger  *slog.Logger
}

func New(starter Starter, table catalog.TableID, loc *time.Location, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		starter: starter,
		table:   table,
		logger:  logger,
	}
}

// Start registers spec and starts the cron loop.
func (s *Scheduler) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.Trigger); err != nil {
		return fmt.Errorf("add cron job: %w", err)
	}
	s.cron.Start()
	s.logger.Info("fill-gaps schedule started", "schedule", spec, "table", s.table)
	return nil
}

// Trigger starts one fill-gaps run, skipping when another run is extracting.
func (s *Scheduler) Trigger() {
	snap, err := s.starter.Start(runs.StartRequest{Table: s.table, FillGaps: true, Trigger: "schedule"})
	switch {
	case errors.Is(err, runs.ErrBusy):
		s.logger.Info("scheduled run skipped, another run is extracting", "table", s.table)
	case err != nil:
		s.logger.Error("scheduled run failed to start", "table", s.table, "error", err)
	default:
		s.logger.Info("scheduled run started", "run_id", snap.ID, "table", s.table)
	}
}

// Stop stops the schedule and waits for a running trigger or ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}
