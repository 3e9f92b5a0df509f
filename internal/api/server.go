package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/bclparser/internal/calendar"
	"github.com/MikeSquared-Agency/bclparser/internal/catalog"
	"github.com/MikeSquared-Agency/bclparser/internal/ledger"
	"github.com/MikeSquared-Agency/bclparser/internal/orchestrator"
	"github.com/MikeSquared-Agency/bclparser/internal/runs"
	"github.com/MikeSquared-Agency/bclparser/internal/sheetwriter"
)

// RunService is the run lifecycle the API exposes. *runs.Manager
// satisfies it.
type RunService interface {
	Start(req runs.StartRequest) (runs.Snapshot, error)
	Get(id uuid.UUID) (runs.Snapshot, error)
	List() []runs.Snapshot
	Decide(id uuid.UUID, d orchestrator.Decision) error
	Cancel(id uuid.UUID) error
	Exclude(id, recordID uuid.UUID) error
	Commit(ctx context.Context, id uuid.UUID, p sheetwriter.Placement) (*orchestrator.Outcome, error)
}

type Server struct {
	router  *chi.Mux
	port    int
	srv     *http.Server
	runs    RunService
	ledger  *ledger.Ledger
	catalog catalog.Catalog
	today   func() calendar.Date
	logger  *slog.Logger
}

type Options struct {
	Port     int
	APIToken string
	Today    func() calendar.Date
}

func NewServer(opts Options, runSvc RunService, l *ledger.Ledger, cat catalog.Catalog, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	today := opts.Today
	if today == nil {
		today = func() calendar.Date { return calendar.Today(time.Local) }
	}

	s := &Server{
		router:  router,
		port:    opts.Port,
		runs:    runSvc,
		ledger:  l,
		catalog: cat,
		today:   today,
		logger:  logger,
	}

	router.Get("/health", s.health)
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(opts.APIToken))

		r.Get("/tables", s.listTables)
		r.Get("/ledger/{table}/missing", s.missingDays)
		r.Get("/ledger/{table}/last", s.lastProcessed)
		r.Delete("/ledger/{table}", s.forgetDays)

		r.Get("/runs", s.listRuns)
		r.Post("/runs", s.startRun)
		r.Route("/runs/{id}", func(r chi.Router) {
			r.Get("/", s.getRun)
			r.Post("/decision", s.decide)
			r.Post("/cancel", s.cancelRun)
			r.Delete("/records/{recordID}", s.excludeRecord)
			r.Post("/commit", s.commitRun)
		})
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server starting", "addr", addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeErr maps domain errors onto status codes.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	var (
		pe  *sheetwriter.PlacementError
		lpe *ledger.PersistenceError
	)
	switch {
	case errors.Is(err, runs.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, runs.ErrBusy), errors.Is(err, runs.ErrState), errors.Is(err, orchestrator.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, runs.ErrInvalid), errors.As(err, &pe):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &lpe):
		s.logger.Error("ledger unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
