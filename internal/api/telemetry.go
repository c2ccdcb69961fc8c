package api

import (
	"errors"
	"net/http"

	"github.com/verkstad/toolmgmt/internal/adambox"
	"github.com/verkstad/toolmgmt/internal/monitormi"
)

// handleGetCounter reads the machine's part counter from its AdamBox.
func (s *Server) handleGetCounter(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookupMachine(w, r)
	if !ok {
		return
	}
	if s.counters == nil {
		writeUpstreamUnavailable(w, "part counters not configured")
		return
	}

	reading, err := s.counters.Read(r.Context(), m.IPAddress)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, reading)
	case errors.Is(err, adambox.ErrNoAddress):
		writeNotFound(w, "machine has no part counter")
	case errors.Is(err, adambox.ErrInvalidAddress):
		writeValidationError(w, err.Error())
	default:
		s.logger.Warn("reading part counter failed", "machine", m.Number, "error", err)
		writeUpstreamUnavailable(w, "part counter unreachable")
	}
}

// handleGetStatus returns the Monitor MI state of the machine.
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookupMachine(w, r)
	if !ok {
		return
	}
	if s.production == nil {
		writeUpstreamUnavailable(w, "production monitoring not configured")
		return
	}

	st, err := s.production.Status(r.Context(), m.Number)
	if err != nil {
		s.writeProductionError(w, err, m.Number)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleGetActiveOrder returns the order running on the machine.
func (s *Server) handleGetActiveOrder(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookupMachine(w, r)
	if !ok {
		return
	}
	if s.production == nil {
		writeUpstreamUnavailable(w, "production monitoring not configured")
		return
	}

	order, err := s.production.ActiveOrder(r.Context(), m.Number)
	if err != nil {
		s.writeProductionError(w, err, m.Number)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) writeProductionError(w http.ResponseWriter, err error, number string) {
	switch {
	case errors.Is(err, monitormi.ErrWorkCenterNotFound):
		writeNotFound(w, "machine unknown to production monitoring")
	case errors.Is(err, monitormi.ErrNoActiveOrder):
		writeNotFound(w, "no active order")
	case errors.Is(err, monitormi.ErrDisabled):
		writeUpstreamUnavailable(w, "production monitoring not configured")
	default:
		s.logger.Warn("production monitoring query failed", "machine", number, "error", err)
		writeUpstreamUnavailable(w, "production monitoring unreachable")
	}
}
