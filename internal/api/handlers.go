package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/bclparser/internal/calendar"
	"github.com/MikeSquared-Agency/bclparser/internal/catalog"
	"github.com/MikeSquared-Agency/bclparser/internal/orchestrator"
	"github.com/MikeSquared-Agency/bclparser/internal/runs"
	"github.com/MikeSquared-Agency/bclparser/internal/sheetwriter"
)

type tableView struct {
	ID      catalog.TableID  `json:"id"`
	Sheet   string           `json:"sheet"`
	Columns []catalog.Column `json:"columns"`
	Tags    []string         `json:"tags,omitempty"`
}

func (s *Server) listTables(w http.ResponseWriter, r *http.Request) {
	out := make([]tableView, 0, len(s.catalog.Tables))
	for _, t := range s.catalog.Tables {
		out = append(out, tableView{ID: t.ID, Sheet: t.Sheet, Columns: t.Columns, Tags: t.Tags})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) table(w http.ResponseWriter, r *http.Request) (catalog.TableID, bool) {
	id := catalog.TableID(chi.URLParam(r, "table"))
	if _, ok := s.catalog.Table(id); !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown table %q", id))
		return "", false
	}
	return id, true
}

// maxMissingSpan bounds the range a single missing-days query may cover.
const maxMissingSpan = 366

// missingDays handles GET /api/v1/ledger/{table}/missing?from=&to=.
// to defaults to today.
func (s *Server) missingDays(w http.ResponseWriter, r *http.Request) {
	table, ok := s.table(w, r)
	if !ok {
		return
	}
	from, err := calendar.Parse(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "from: "+err.Error())
		return
	}
	to := s.today()
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = calendar.Parse(v); err != nil {
			writeError(w, http.StatusBadRequest, "to: "+err.Error())
			return
		}
	}

	if from.AddDays(maxMissingSpan - 1).Before(to) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("range spans more than %d days", maxMissingSpan))
		return
	}

	days, err := s.ledger.MissingDays(r.Context(), table, from, to)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if days == nil {
		days = []calendar.Date{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"table":   table,
		"from":    from,
		"to":      to,
		"missing": days,
	})
}

func (s *Server) lastProcessed(w http.ResponseWriter, r *http.Request) {
	table, ok := s.table(w, r)
	if !ok {
		return
	}
	last, found, err := s.ledger.LastProcessed(r.Context(), table)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	resp := map[string]any{"table": table, "found": found}
	if found {
		resp["last_processed"] = last
	}
	writeJSON(w, http.StatusOK, resp)
}

// forgetDays handles DELETE /api/v1/ledger/{table}?from=&to=. Omitted
// bounds leave that side open, so no bounds unmark the whole table.
func (s *Server) forgetDays(w http.ResponseWriter, r *http.Request) {
	table, ok := s.table(w, r)
	if !ok {
		return
	}
	var from, to calendar.Date
	for _, b := range []struct {
		name string
		dst  *calendar.Date
	}{{"from", &from}, {"to", &to}} {
		v := r.URL.Query().Get(b.name)
		if v == "" {
			continue
		}
		d, err := calendar.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, b.name+": "+err.Error())
			return
		}
		*b.dst = d
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		writeError(w, http.StatusBadRequest, "from is after to")
		return
	}

	n, err := s.ledger.Forget(r.Context(), table, from, to)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	resp := map[string]any{"table": table, "unmarked": n}
	if !from.IsZero() {
		resp["from"] = from
	}
	if !to.IsZero() {
		resp["to"] = to
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.runs.List())
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var req runs.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	req.Trigger = "api"

	snap, err := s.runs.Start(req)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

func runID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r, "id")
	if !ok {
		return
	}
	snap, err := s.runs.Get(id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) decide(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Decision string `json:"decision"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	var d orchestrator.Decision
	switch body.Decision {
	case "continue":
		d = orchestrator.Continue
	case "abort":
		d = orchestrator.Abort
	default:
		writeError(w, http.StatusBadRequest, `decision must be "continue" or "abort"`)
		return
	}

	if err := s.runs.Decide(id, d); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"decision": d.String()})
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r, "id")
	if !ok {
		return
	}
	if err := s.runs.Cancel(id); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (s *Server) excludeRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r, "id")
	if !ok {
		return
	}
	recordID, ok := runID(w, r, "recordID")
	if !ok {
		return
	}
	if err := s.runs.Exclude(id, recordID); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// commitRun handles POST /api/v1/runs/{id}/commit. A missing or zero row
// appends after the last row of each sheet.
func (s *Server) commitRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Row int `json:"row"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
	}
	if body.Row < 0 {
		writeError(w, http.StatusBadRequest, "row must be positive")
		return
	}

	p := sheetwriter.Append()
	if body.Row > 0 {
		p = sheetwriter.AtRow(body.Row)
	}
	out, err := s.runs.Commit(r.Context(), id, p)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
