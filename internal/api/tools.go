package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/verkstad/toolmgmt/internal/audit"
	"github.com/verkstad/toolmgmt/internal/logbook"
	"github.com/verkstad/toolmgmt/internal/tool"
)

// toolNumber parses {number}; it writes a 400 and returns false when the
// parameter is not a positive integer.
func toolNumber(w http.ResponseWriter, r *http.Request) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || n < 1 {
		writeBadRequest(w, "tool number must be a positive integer")
		return 0, false
	}
	return n, true
}

func (s *Server) writeToolError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, tool.ErrToolNotFound):
		writeNotFound(w, "tool not found")
	case errors.Is(err, tool.ErrToolExists):
		writeConflict(w, "tool number already exists")
	case errors.Is(err, tool.ErrInvalidTool):
		writeValidationError(w, err.Error())
	default:
		s.logger.Error(op+" tool failed", "error", err)
		writeInternalError(w, "failed to "+op+" tool")
	}
}

// handleListTools returns the tool catalogue.
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	tools, err := s.tools.List(r.Context())
	if err != nil {
		s.writeToolError(w, err, "list")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": tools,
		"count": len(tools),
	})
}

func (s *Server) handleGetTool(w http.ResponseWriter, r *http.Request) {
	n, ok := toolNumber(w, r)
	if !ok {
		return
	}
	t, err := s.tools.Get(r.Context(), n)
	if err != nil {
		s.writeToolError(w, err, "get")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCreateTool(w http.ResponseWriter, r *http.Request) {
	var t tool.Tool
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	t.ID = ""

	if err := s.tools.Create(r.Context(), &t); err != nil {
		s.writeToolError(w, err, "create")
		return
	}

	claims := claimsFromContext(r.Context())
	s.recordAudit(audit.ActionCreate, audit.EntityTool, strconv.Itoa(t.Number), claims.Subject, map[string]any{
		"description": t.Description,
	})
	writeJSON(w, http.StatusCreated, t)
}

// handleUpdateTool replaces the descriptive fields of a tool. The number in
// the path wins over one in the body.
func (s *Server) handleUpdateTool(w http.ResponseWriter, r *http.Request) {
	n, ok := toolNumber(w, r)
	if !ok {
		return
	}
	var t tool.Tool
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	t.Number = n

	if err := s.tools.Update(r.Context(), &t); err != nil {
		s.writeToolError(w, err, "update")
		return
	}

	claims := claimsFromContext(r.Context())
	s.recordAudit(audit.ActionUpdate, audit.EntityTool, strconv.Itoa(n), claims.Subject, nil)

	updated, err := s.tools.Get(r.Context(), n)
	if err != nil {
		s.writeToolError(w, err, "get")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteTool(w http.ResponseWriter, r *http.Request) {
	n, ok := toolNumber(w, r)
	if !ok {
		return
	}
	if err := s.tools.Delete(r.Context(), n); err != nil {
		s.writeToolError(w, err, "delete")
		return
	}

	claims := claimsFromContext(r.Context())
	s.recordAudit(audit.ActionDelete, audit.EntityTool, strconv.Itoa(n), claims.Subject, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleToolHistory lists tool changes of one tool number across machines.
func (s *Server) handleToolHistory(w http.ResponseWriter, r *http.Request) {
	n, ok := toolNumber(w, r)
	if !ok {
		return
	}
	var opts logbook.ListOptions
	opts.Limit, opts.Offset = pageParams(r)

	page, err := s.tools.History(r.Context(), n, opts)
	if err != nil {
		s.writeToolError(w, err, "list history of")
		return
	}
	writeJSON(w, http.StatusOK, page)
}
