package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/MikeSquared-Agency/bclparser/internal/calendar"
	"github.com/MikeSquared-Agency/bclparser/internal/catalog"
	"github.com/MikeSquared-Agency/bclparser/internal/config"
	"github.com/MikeSquared-Agency/bclparser/internal/ledger"
)

// forgetCommand unmarks ledger days whose rows were removed from the sheet,
// so the next fill-gaps run extracts them again.
func forgetCommand(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("forget", flag.ContinueOnError)
	table := fs.String("table", cfg.TrackTable, "ledger table")
	fromFlag := fs.String("from", "", "first day to unmark (YYYY-MM-DD)")
	toFlag := fs.String("to", "", "last day to unmark (YYYY-MM-DD)")
	all := fs.Bool("all", false, "unmark every day of the table")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	if _, ok := cat.Table(catalog.TableID(*table)); !ok {
		return fmt.Errorf("unknown table %q", *table)
	}

	ctx := context.Background()
	a := &app{cfg: cfg}
	defer a.Close()
	if err := openLedger(ctx, a); err != nil {
		return err
	}
	return forgetDays(ctx, a.ledger, catalog.TableID(*table), *fromFlag, *toFlag, *all, os.Stdout)
}

func forgetDays(ctx context.Context, l *ledger.Ledger, table catalog.TableID, fromArg, toArg string, all bool, out io.Writer) error {
	if fromArg == "" && toArg == "" && !all {
		return errors.New("give -from and/or -to, or -all to unmark the whole table")
	}
	var from, to calendar.Date
	var err error
	if fromArg != "" {
		if from, err = calendar.Parse(fromArg); err != nil {
			return fmt.Errorf("-from: %w", err)
		}
	}
	if toArg != "" {
		if to, err = calendar.Parse(toArg); err != nil {
			return fmt.Errorf("-to: %w", err)
		}
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return fmt.Errorf("-from %s is after -to %s", from, to)
	}

	n, err := l.Forget(ctx, table, from, to)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %d day(s) unmarked\n", table, n)
	return nil
}
