package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"calrecon/internal/conflict"
	"calrecon/internal/engine"
	"calrecon/internal/ledger"
	"calrecon/internal/linkgraph"
	appLog "calrecon/internal/log"
	"calrecon/internal/model"
)

type blockedDaysResponse struct {
	Window model.Window `json:"window"`
	Days   []model.Date `json:"days"`
}

type conflictDTO struct {
	Key          string   `json:"key"`
	Type         string   `json:"type"`
	Severity     string   `json:"severity"`
	Reservations []string `json:"reservations"`
	Events       []string `json:"events"`
}

type conflictsResponse struct {
	Window    model.Window  `json:"window"`
	Conflicts []conflictDTO `json:"conflicts"`
}

type groupRequest struct {
	EventIDs []string `json:"event_ids"`
	Color    string   `json:"color"`
	Actor    string   `json:"actor,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleBlockedDays serves GET /api/blocked-days?from=YYYY-MM-DD&to=YYYY-MM-DD.
// Both bounds are inclusive.
func (s *Server) handleBlockedDays(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := model.ParseDate(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from: "+err.Error())
		return
	}
	to, err := model.ParseDate(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to: "+err.Error())
		return
	}
	window := model.Window{From: from, To: to}

	days, err := s.svc.ComputeBlockedDays(r.Context(), window)
	if err != nil {
		s.writeEngineError(w, "blocked days", err)
		return
	}
	if days == nil {
		days = []model.Date{}
	}
	writeJSON(w, http.StatusOK, blockedDaysResponse{Window: window, Days: days})
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	records, err := s.svc.DetectAllConflicts(r.Context())
	if err != nil {
		s.writeEngineError(w, "detect conflicts", err)
		return
	}
	out := make([]conflictDTO, 0, len(records))
	for _, c := range records {
		out = append(out, conflictDTO{
			Key:          ledger.Key(c),
			Type:         string(c.Type),
			Severity:     string(c.Severity),
			Reservations: nonNil(c.Reservations),
			Events:       nonNil(c.Events),
		})
	}
	writeJSON(w, http.StatusOK, conflictsResponse{Window: s.svc.DetectionWindow(), Conflicts: out})
}

// handleNotify runs a notification pass. An empty body means a full pass; a
// scope body restricts it to conflicts touching the listed ids.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var scope conflict.Scope
	var scopePtr *conflict.Scope
	if err := decodeJSON(r, &scope); err != nil {
		if !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	} else if !scope.Empty() {
		scopePtr = &scope
	}

	rep, err := s.svc.NotifyNewConflicts(r.Context(), scopePtr)
	if err != nil {
		s.writeEngineError(w, "notify", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		actor = s.actor(r)
	}

	res, err := s.svc.Group(r.Context(), req.EventIDs, req.Color, actor)
	if err != nil {
		s.writeEngineError(w, "group", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleUngroup(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	res, err := s.svc.UngroupSingle(r.Context(), eventID)
	if err != nil {
		s.writeEngineError(w, "ungroup", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) actor(r *http.Request) string {
	if u, _, ok := r.BasicAuth(); ok && u != "" {
		return u
	}
	return "admin"
}

// writeEngineError maps engine errors onto status codes.
func (s *Server) writeEngineError(w http.ResponseWriter, op string, err error) {
	var connErr *linkgraph.ConnectivityError
	switch {
	case errors.Is(err, engine.ErrInvalidWindow), errors.Is(err, linkgraph.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &connErr):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": err.Error(),
			"from":  connErr.From,
			"to":    connErr.To,
		})
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		appLog.Error("api "+op+" failed", err)
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
