package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/MikeSquared-Agency/bclparser/internal/catalog"
	"github.com/MikeSquared-Agency/bclparser/internal/config"
	"github.com/MikeSquared-Agency/bclparser/internal/extraction"
	"github.com/MikeSquared-Agency/bclparser/internal/ledger"
	"github.com/MikeSquared-Agency/bclparser/internal/monitor"
	"github.com/MikeSquared-Agency/bclparser/internal/orchestrator"
	"github.com/MikeSquared-Agency/bclparser/internal/sheetwriter"
	"github.com/MikeSquared-Agency/bclparser/internal/sink/gsheets"
	"github.com/MikeSquared-Agency/bclparser/internal/sink/xlsx"
	"github.com/MikeSquared-Agency/bclparser/internal/store"
)

const usage = `usage: bclparser <command> [flags]

commands:
  serve     run the operator API (and the fill-gaps schedule when configured)
  run       extract a date range or fill gaps, review and commit
  missing   list days the ledger has not seen
  forget    unmark ledger days so fill-gaps extracts them again
`

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = serve(cfg)
	case "run":
		err = runCommand(cfg, os.Args[2:])
	case "missing":
		err = missingCommand(cfg, os.Args[2:])
	case "forget":
		err = forgetCommand(cfg, os.Args[2:])
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("bclparser failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	// stdout belongs to the CLI's own output.
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

// app is the wired core shared by every command.
type app struct {
	cfg     config.Config
	catalog catalog.Catalog
	ledger  *ledger.Ledger
	orch    *orchestrator.Orchestrator
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func loadCatalog(cfg config.Config) (catalog.Catalog, error) {
	if cfg.CatalogPath == "" {
		return catalog.Default(), nil
	}
	cat, err := catalog.LoadFile(cfg.CatalogPath)
	if err != nil {
		return catalog.Catalog{}, err
	}
	slog.Info("catalog loaded", "path", cfg.CatalogPath, "tables", len(cat.Tables), "routes", len(cat.Routes))
	return cat, nil
}

// openLedger uses Postgres when DATABASE_URL is set and the JSON file
// otherwise.
func openLedger(ctx context.Context, a *app) error {
	logger := slog.Default()
	if a.cfg.DatabaseURL == "" {
		fs, err := ledger.OpenFileStore(a.cfg.LedgerPath)
		if err != nil {
			return err
		}
		a.ledger = ledger.New(fs, logger)
		slog.Info("file ledger ready", "path", a.cfg.LedgerPath)
		return nil
	}

	if err := store.Migrate(a.cfg.DatabaseURL); err != nil {
		return err
	}
	db, err := store.New(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, db.Close)
	a.ledger = ledger.New(db, logger)
	slog.Info("database ledger ready")
	return nil
}

func openSink(ctx context.Context, a *app) (sheetwriter.Sink, error) {
	logger := slog.Default()
	switch a.cfg.Sink {
	case "xlsx":
		wb, err := xlsx.Open(a.cfg.WorkbookPath, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() {
			if err := wb.Close(); err != nil {
				slog.Warn("failed to close workbook", "error", err)
			}
		})
		slog.Info("workbook sink ready", "path", a.cfg.WorkbookPath)
		return wb, nil
	case "sheets":
		if a.cfg.SpreadsheetID == "" || a.cfg.SheetsCredentials == "" {
			return nil, fmt.Errorf("SHEETS_SPREADSHEET_ID and SHEETS_CREDENTIALS are required for the sheets sink")
		}
		gs, err := gsheets.New(ctx, a.cfg.SpreadsheetID, a.cfg.SheetsCredentials, a.cfg.SheetsWritesPerMinute, logger)
		if err != nil {
			return nil, err
		}
		slog.Info("google sheets sink ready", "spreadsheet_id", a.cfg.SpreadsheetID)
		return gs, nil
	default:
		return nil, fmt.Errorf("unknown SINK %q (want sheets or xlsx)", a.cfg.Sink)
	}
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	cat, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}
	a.catalog = cat

	if err := openLedger(ctx, a); err != nil {
		return nil, err
	}

	policy := cfg.RetryPolicy()
	mon := monitor.NewClient(cfg.MonitorURL, cfg.MonitorToken, cfg.MonitorRPS, policy)
	automation := extraction.WithPolicy(mon, policy)

	sink, err := openSink(ctx, a)
	if err != nil {
		return nil, err
	}
	writer := sheetwriter.New(sheetwriter.WithPolicy(sink, policy), slog.Default())

	a.orch = orchestrator.New(cat, a.ledger, automation, writer, orchestrator.Options{
		SkipDone: cfg.SkipDone,
		Lookback: cfg.LookbackDays,
	}, slog.Default())

	ok = true
	return a, nil
}
