package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/verkstad/toolmgmt/internal/logbook"
)

// writeLogbookError maps logbook service errors. A machine that does not use
// a section answers like an unknown machine so the section does not exist
// for it.
func (s *Server) writeLogbookError(w http.ResponseWriter, err error, op string) {
	switch {
	case writeRegistryError(w, err):
	case errors.Is(err, logbook.ErrCapabilityDisabled):
		writeNotFound(w, "section not enabled for this machine")
	case errors.Is(err, logbook.ErrInvalidEntry):
		writeValidationError(w, err.Error())
	case errors.Is(err, logbook.ErrNoLastOrder):
		writeNotFound(w, "no manufacturing order recorded")
	default:
		s.logger.Error(op+" failed", "error", err)
		writeInternalError(w, op+" failed")
	}
}

// listEntries serves one logbook section of the machine in {number}.
func listEntries[T any](
	s *Server,
	list func(context.Context, string, logbook.ListOptions) (logbook.Page[T], error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var opts logbook.ListOptions
		opts.Limit, opts.Offset = pageParams(r)

		page, err := list(r.Context(), chi.URLParam(r, "number"), opts)
		if err != nil {
			s.writeLogbookError(w, err, "list entries")
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

// createEntry decodes an entry, stamps the caller as author and records it
// on the machine in {number}.
func createEntry[T any](
	s *Server,
	record func(context.Context, string, *T) error,
	author func(*T) *string,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry := new(T)
		if err := json.NewDecoder(r.Body).Decode(entry); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
		*author(entry) = claimsFromContext(r.Context()).Username

		if err := record(r.Context(), chi.URLParam(r, "number"), entry); err != nil {
			s.writeLogbookError(w, err, "record entry")
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	}
}

func (s *Server) logbookRoutes(r chi.Router, write func(http.Handler) http.Handler) {
	lb := s.logbook

	r.Get("/tool-changes", listEntries(s, lb.ToolChanges))
	r.With(write).Post("/tool-changes", createEntry(s, lb.RecordToolChange,
		func(e *logbook.ToolChange) *string { return &e.CreatedBy }))

	r.Get("/compensations", listEntries(s, lb.Compensations))
	r.With(write).Post("/compensations", createEntry(s, lb.RecordCompensation,
		func(e *logbook.Compensation) *string { return &e.CreatedBy }))

	r.Get("/disturbances", listEntries(s, lb.Disturbances))
	r.With(write).Post("/disturbances", createEntry(s, lb.RecordDisturbance,
		func(e *logbook.Disturbance) *string { return &e.CreatedBy }))

	r.Get("/matrix-codes", listEntries(s, lb.MatrixCodes))
	r.With(write).Post("/matrix-codes", createEntry(s, lb.RecordMatrixCode,
		func(e *logbook.MatrixCode) *string { return &e.CreatedBy }))

	r.Get("/last-order", s.handleLastOrder)
}

// handleLastOrder returns the last manufacturing order entered on the machine.
func (s *Server) handleLastOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.logbook.LastOrder(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		s.writeLogbookError(w, err, "get last order")
		return
	}
	writeJSON(w, http.StatusOK, order)
}
