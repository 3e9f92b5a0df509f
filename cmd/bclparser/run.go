package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/bclparser/internal/calendar"
	"github.com/MikeSquared-Agency/bclparser/internal/catalog"
	"github.com/MikeSquared-Agency/bclparser/internal/config"
	"github.com/MikeSquared-Agency/bclparser/internal/orchestrator"
	"github.com/MikeSquared-Agency/bclparser/internal/record"
	"github.com/MikeSquared-Agency/bclparser/internal/sheetwriter"
	"github.com/MikeSquared-Agency/bclparser/internal/sink/xlsx"
)

type runFlags struct {
	table    string
	from     string
	to       string
	fillGaps bool
	row      int
	yes      bool
	export   string
}

func parseRunFlags(cfg config.Config, args []string) (runFlags, error) {
	var f runFlags
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.StringVar(&f.table, "table", cfg.TrackTable, "ledger table the run is accounted against")
	fs.StringVar(&f.from, "from", "", "first day (YYYY-MM-DD)")
	fs.StringVar(&f.to, "to", "", "last day (YYYY-MM-DD), defaults to -from")
	fs.BoolVar(&f.fillGaps, "fill-gaps", false, "extract every day missing from the ledger up to today")
	fs.IntVar(&f.row, "row", 0, "insert at this row instead of appending")
	fs.BoolVar(&f.yes, "yes", false, "commit without asking; day failures abort")
	fs.StringVar(&f.export, "export", "", "write a preview workbook to this path before committing")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if !f.fillGaps && f.from == "" {
		return f, errors.New("either -from or -fill-gaps is required")
	}
	if f.row < 0 {
		return f, errors.New("-row must be positive")
	}
	return f, nil
}

func (f runFlags) dates() ([]calendar.Date, error) {
	from, err := calendar.Parse(f.from)
	if err != nil {
		return nil, fmt.Errorf("-from: %w", err)
	}
	to := from
	if f.to != "" {
		if to, err = calendar.Parse(f.to); err != nil {
			return nil, fmt.Errorf("-to: %w", err)
		}
	}
	if from.After(to) {
		return nil, fmt.Errorf("-from %s is after -to %s", from, to)
	}
	return calendar.Range(from, to), nil
}

func (f runFlags) placement() sheetwriter.Placement {
	if f.row > 0 {
		return sheetwriter.AtRow(f.row)
	}
	return sheetwriter.Append()
}

func runCommand(cfg config.Config, args []string) error {
	f, err := parseRunFlags(cfg, args)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	con := newConsole(os.Stdin, os.Stdout, f.yes)
	req := orchestrator.RunRequest{
		Table:  catalog.TableID(f.table),
		Events: con,
		Decide: con.decide,
	}

	var batch *orchestrator.Batch
	if f.fillGaps {
		batch, err = a.orch.FillGaps(ctx, req, calendar.Today(cfg.Location()))
	} else {
		req.Dates, err = f.dates()
		if err != nil {
			return err
		}
		batch, err = a.orch.Run(ctx, req)
	}
	if err != nil {
		return err
	}

	printBatch(con.out, batch)

	if f.export != "" {
		recs := make([]record.Classified, len(batch.Records))
		for i, r := range batch.Records {
			recs[i] = r.Classified
		}
		if err := xlsx.ExportReport(recs, f.export); err != nil {
			return err
		}
		fmt.Fprintf(con.out, "preview written to %s\n", f.export)
	}

	if ctx.Err() != nil {
		fmt.Fprintln(con.out, "cancelled; nothing was committed")
		return nil
	}
	if !f.yes {
		q := fmt.Sprintf("Commit %d records (%s)? [y/N] ", len(batch.Records), f.placement())
		if !con.confirm(ctx, q) {
			fmt.Fprintln(con.out, "nothing was committed")
			return nil
		}
	}

	out, err := a.orch.Commit(ctx, batch, f.placement())
	if err != nil {
		return err
	}
	if len(out.Pending) > 0 {
		out.Pending = a.orch.MarkPending(ctx, out.Pending)
	}
	printOutcome(con.out, out)
	return nil
}

// console prints progress and asks the operator on stdin. One goroutine
// owns the input for the whole run, so an answer typed after a cancelled
// question goes to the next one instead of being lost.
type console struct {
	lines <-chan string
	out   io.Writer
	yes   bool
}

func newConsole(in io.Reader, out io.Writer, yes bool) *console {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return &console{lines: lines, out: out, yes: yes}
}

func (c *console) Progress(p orchestrator.Progress) {
	if !p.DayDone {
		return
	}
	fmt.Fprintf(c.out, "[%d/%d] %s: %d entries, %d failures so far\n",
		p.DayIndex+1, p.DayCount, p.Day, p.Entries, p.Failures)
}

func (c *console) EntryParsed(uuid.UUID, orchestrator.Record) {}

func (c *console) DayFailed(f orchestrator.DayFailure) {
	fmt.Fprintf(c.out, "day %s could not be extracted: %s\n", f.Day, f.Message)
}

func (c *console) decide(ctx context.Context, f orchestrator.DayFailure) orchestrator.Decision {
	if c.yes {
		return orchestrator.Abort
	}
	if c.confirm(ctx, "Continue with the remaining days? [y/N] ") {
		return orchestrator.Continue
	}
	return orchestrator.Abort
}

// confirm reads one answer. Cancellation and end of input count as no.
func (c *console) confirm(ctx context.Context, question string) bool {
	fmt.Fprint(c.out, question)
	select {
	case line, ok := <-c.lines:
		if !ok {
			fmt.Fprintln(c.out)
			return false
		}
		a := strings.ToLower(strings.TrimSpace(line))
		return a == "y" || a == "yes"
	case <-ctx.Done():
		fmt.Fprintln(c.out)
		return false
	}
}

func printBatch(w io.Writer, b *orchestrator.Batch) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tTABLE\tNAME\tTAG\tLINK")
	for _, r := range b.Records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Date, r.Table,
			r.Value(catalog.FieldName), r.Value(catalog.FieldTag), r.Value(catalog.FieldLink))
	}
	tw.Flush()

	fmt.Fprintf(w, "\n%d records, %d extraction failures\n", len(b.Records), b.EntryFailures())
	for _, f := range b.Failures {
		if f.Kind == orchestrator.EntryFailure {
			fmt.Fprintf(w, "  %s entry #%d: %s\n", f.Date, f.Index+1, f.Message)
		} else {
			fmt.Fprintf(w, "  %s: %s\n", f.Date, f.Message)
		}
	}
	for _, d := range b.Days {
		if d.AlreadyDone {
			fmt.Fprintf(w, "  %s already in the ledger, skipped\n", d.Date)
		}
	}
	switch {
	case b.Aborted:
		fmt.Fprintln(w, "run aborted; later days were not extracted")
	case b.Cancelled:
		fmt.Fprintln(w, "run cancelled")
	}
}

func printOutcome(w io.Writer, out *orchestrator.Outcome) {
	fmt.Fprintf(w, "written %d, failed %d, skipped %d\n", out.Succeeded, out.Failed, out.Skipped)
	for _, r := range out.Results {
		if r.Status == sheetwriter.Failed {
			fmt.Fprintf(w, "  %s %s row %d: %s\n", r.Date, r.Sheet, r.Row, r.Error)
		}
	}
	for _, k := range out.Marked {
		fmt.Fprintf(w, "marked %s %s\n", k.Table, k.Date)
	}
	for _, u := range out.Unmarked {
		fmt.Fprintf(w, "not marked %s (%s)\n", u.Date, u.Reason)
	}
	for _, p := range out.Pending {
		fmt.Fprintf(w, "ledger unavailable for %s %s: %s\n", p.Table, p.Date, p.Error)
	}
}
