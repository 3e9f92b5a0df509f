package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/bclparser/internal/api"
	"github.com/MikeSquared-Agency/bclparser/internal/calendar"
	"github.com/MikeSquared-Agency/bclparser/internal/catalog"
	"github.com/MikeSquared-Agency/bclparser/internal/config"
	"github.com/MikeSquared-Agency/bclparser/internal/hermes"
	"github.com/MikeSquared-Agency/bclparser/internal/runs"
	"github.com/MikeSquared-Agency/bclparser/internal/scheduler"
	"github.com/MikeSquared-Agency/bclparser/internal/slack"
)

func serve(cfg config.Config) error {
	slog.Info("bclparser starting", "port", cfg.Port)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	loc := cfg.Location()
	today := func() calendar.Date { return calendar.Today(loc) }

	opts := runs.Options{
		Catalog:         a.catalog,
		DecisionTimeout: cfg.DecisionTimeout,
		Today:           today,
	}

	// Slack (optional: commit summaries and day-failure prompts)
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		poster := slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, slog.Default())
		opts.Notifiers = append(opts.Notifiers, poster)
		opts.Prompter = poster
		slog.Info("slack poster ready", "channel", cfg.SlackChannel)
	} else {
		slog.Warn("slack not configured, commit summaries stay in the log")
	}

	// NATS (optional: run events, remote triggers, slack reactions)
	var hermesClient *hermes.Client
	if cfg.NatsURL != "" {
		hermesClient, err = hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			return err
		}
		defer hermesClient.Close()
		events := hermes.NewEvents(hermesClient, slog.Default())
		opts.Events = events
		opts.Notifiers = append(opts.Notifiers, events)
		slog.Info("NATS connected", "url", cfg.NatsURL)
	}

	manager := runs.NewManager(a.orch, opts, slog.Default())

	if hermesClient != nil {
		if err := subscribe(hermesClient, manager, catalog.TableID(cfg.TrackTable)); err != nil {
			return err
		}
	}

	var sched *scheduler.Scheduler
	if cfg.ScheduleCron != "" {
		sched = scheduler.New(manager, catalog.TableID(cfg.TrackTable), loc, slog.Default())
		if err := sched.Start(cfg.ScheduleCron); err != nil {
			return err
		}
	}

	srv := api.NewServer(api.Options{Port: cfg.Port, APIToken: cfg.APIToken, Today: today},
		manager, a.ledger, a.catalog, slog.Default())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	slog.Info("bclparser ready", "port", cfg.Port, "sink", cfg.Sink, "track_table", cfg.TrackTable)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}

	slog.Info("shutting down")
	shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
	defer done()
	if sched != nil {
		sched.Stop(shutdownCtx)
	}
	manager.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}
	slog.Info("bclparser stopped")
	return nil
}

func subscribe(h *hermes.Client, manager *runs.Manager, track catalog.TableID) error {
	err := h.Subscribe(hermes.SubjectFillGapsRequest, func(_ string, data []byte) {
		req, err := hermes.ParseFillGapsRequest(data)
		if err != nil {
			slog.Warn("bad fill-gaps request", "error", err)
			return
		}
		if req.Table == "" {
			req.Table = track
		}
		snap, err := manager.Start(runs.StartRequest{Table: req.Table, FillGaps: true, Trigger: "nats"})
		if err != nil {
			slog.Warn("fill-gaps request rejected", "table", req.Table, "error", err)
			return
		}
		slog.Info("fill-gaps request accepted", "run_id", snap.ID, "table", req.Table)
	})
	if err != nil {
		return err
	}

	return h.Subscribe(hermes.SubjectSlackReaction, func(_ string, data []byte) {
		evt, err := slack.ParseReactionEvent(data)
		if err != nil {
			slog.Warn("bad reaction event", "error", err)
			return
		}
		d, ok := slack.ParseReaction(evt.Reaction)
		if !ok {
			return
		}
		err = manager.DecideByRef(evt.MessageTS, d)
		switch {
		case errors.Is(err, runs.ErrNotFound):
			// Reaction on some other message.
		case err != nil:
			slog.Warn("reaction decision rejected", "message_ts", evt.MessageTS, "error", err)
		default:
			slog.Info("day failure answered from slack", "user", evt.UserID, "decision", d)
		}
	})
}
