package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/MikeSquared-Agency/bclparser/internal/calendar"
	"github.com/MikeSquared-Agency/bclparser/internal/catalog"
	"github.com/MikeSquared-Agency/bclparser/internal/config"
	"github.com/MikeSquared-Agency/bclparser/internal/ledger"
)

// missingCommand only reads the ledger; it needs neither the monitor nor a sink.
func missingCommand(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("missing", flag.ContinueOnError)
	table := fs.String("table", cfg.TrackTable, "ledger table")
	fromFlag := fs.String("from", "", "first day (YYYY-MM-DD), defaults to the lookback window")
	toFlag := fs.String("to", "", "last day (YYYY-MM-DD), defaults to today")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	a := &app{cfg: cfg}
	defer a.Close()
	if err := openLedger(ctx, a); err != nil {
		return err
	}
	return printMissing(ctx, a.ledger, catalog.TableID(*table), *fromFlag, *toFlag,
		calendar.Today(cfg.Location()), cfg.LookbackDays)
}

func printMissing(ctx context.Context, l *ledger.Ledger, table catalog.TableID, fromArg, toArg string, today calendar.Date, lookback int) error {
	to := today
	if toArg != "" {
		var err error
		if to, err = calendar.Parse(toArg); err != nil {
			return fmt.Errorf("-to: %w", err)
		}
	}
	from := to.AddDays(1 - lookback)
	if fromArg != "" {
		var err error
		if from, err = calendar.Parse(fromArg); err != nil {
			return fmt.Errorf("-from: %w", err)
		}
	}

	days, err := l.MissingDays(ctx, table, from, to)
	if err != nil {
		return err
	}
	if last, ok, err := l.LastProcessed(ctx, table); err == nil && ok {
		fmt.Fprintf(os.Stderr, "%s last processed %s\n", table, last)
	}
	for _, d := range days {
		fmt.Println(d)
	}
	return nil
}
