package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/verkstad/toolmgmt/internal/audit"
	"github.com/verkstad/toolmgmt/internal/machine"
)

type createMachineRequest struct {
	Number       string                 `json:"number"`
	DisplayName  string                 `json:"display_name"`
	Capabilities *machine.CapabilitySet `json:"capabilities,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
}

type updateMachineRequest struct {
	Number       *string                `json:"number,omitempty"`
	DisplayName  *string                `json:"display_name,omitempty"`
	Capabilities *machine.CapabilitySet `json:"capabilities,omitempty"`
	IPAddress    *string                `json:"ip_address,omitempty"`
}

// writeMachineWriteError maps registry mutation errors.
func (s *Server) writeMachineWriteError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, machine.ErrInvalidMachine),
		errors.Is(err, machine.ErrInvalidNumber),
		errors.Is(err, machine.ErrInvalidName),
		errors.Is(err, machine.ErrInvalidCapability),
		errors.Is(err, machine.ErrInvalidIPAddress):
		writeValidationError(w, err.Error())
	case errors.Is(err, machine.ErrMachineExists):
		writeConflict(w, "machine number already exists")
	case errors.Is(err, machine.ErrMachineNotFound):
		writeNotFound(w, "machine not found")
	case errors.Is(err, machine.ErrReadOnly):
		writeForbidden(w, "machine registry is read-only")
	default:
		s.logger.Error(op+" machine failed", "error", err)
		writeInternalError(w, "failed to "+op+" machine")
	}
}

// lookupMachine resolves {number} against the registry and writes the
// error response when it cannot.
func (s *Server) lookupMachine(w http.ResponseWriter, r *http.Request) (*machine.Machine, bool) {
	m, err := s.registry.Machine(chi.URLParam(r, "number"))
	if err != nil {
		if !writeRegistryError(w, err) {
			s.logger.Error("machine lookup failed", "error", err)
			writeInternalError(w, "failed to load machine")
		}
		return nil, false
	}
	return m, true
}

// handleListMachines returns every machine ordered by number.
func (s *Server) handleListMachines(w http.ResponseWriter, _ *http.Request) {
	machines, err := s.registry.ListMachines()
	if err != nil {
		if !writeRegistryError(w, err) {
			writeInternalError(w, "failed to list machines")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"machines": machines,
		"count":    len(machines),
	})
}

// handleGetMachine returns one machine by number.
func (s *Server) handleGetMachine(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookupMachine(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleCreateMachine adds a machine. Omitted capabilities enable every section.
func (s *Server) handleCreateMachine(w http.ResponseWriter, r *http.Request) {
	var req createMachineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	m := &machine.Machine{
		Number:      req.Number,
		DisplayName: req.DisplayName,
		IPAddress:   req.IPAddress,
	}
	if req.Capabilities != nil {
		m.Capabilities = *req.Capabilities
	}

	if err := s.registry.CreateMachine(r.Context(), m); err != nil {
		s.writeMachineWriteError(w, err, "create")
		return
	}

	claims := claimsFromContext(r.Context())
	s.recordAudit(audit.ActionCreate, audit.EntityMachine, m.ID, claims.Subject, map[string]any{
		"number": m.Number,
		"name":   m.DisplayName,
	})
	s.requestInvalidate()

	writeJSON(w, http.StatusCreated, m)
}

// handleUpdateMachine patches a machine. Changing the number moves every
// link that used the old one.
func (s *Server) handleUpdateMachine(w http.ResponseWriter, r *http.Request) {
	existing, ok := s.lookupMachine(w, r)
	if !ok {
		return
	}

	var req updateMachineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	m := existing.DeepCopy()
	if req.Number != nil {
		m.Number = *req.Number
	}
	if req.DisplayName != nil {
		m.DisplayName = *req.DisplayName
	}
	if req.Capabilities != nil {
		m.Capabilities = *req.Capabilities
	}
	if req.IPAddress != nil {
		m.IPAddress = *req.IPAddress
	}

	if err := s.registry.UpdateMachine(r.Context(), m); err != nil {
		s.writeMachineWriteError(w, err, "update")
		return
	}

	claims := claimsFromContext(r.Context())
	details := map[string]any{"number": m.Number}
	if m.Number != existing.Number {
		details["previous_number"] = existing.Number
	}
	s.recordAudit(audit.ActionUpdate, audit.EntityMachine, m.ID, claims.Subject, details)
	s.requestInvalidate()

	writeJSON(w, http.StatusOK, m)
}

// handleDeleteMachine removes a machine and its logbook.
func (s *Server) handleDeleteMachine(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookupMachine(w, r)
	if !ok {
		return
	}

	if err := s.registry.DeleteMachine(r.Context(), m.ID); err != nil {
		s.writeMachineWriteError(w, err, "delete")
		return
	}

	claims := claimsFromContext(r.Context())
	s.recordAudit(audit.ActionDelete, audit.EntityMachine, m.ID, claims.Subject, map[string]any{
		"number": m.Number,
		"name":   m.DisplayName,
	})
	s.requestInvalidate()

	w.WriteHeader(http.StatusNoContent)
}

// handleRefreshRegistry drops the machine cache, reloads it and asks the
// other instances to do the same.
func (s *Server) handleRefreshRegistry(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	if err := s.registry.Reload(r.Context()); err != nil {
		s.logger.Warn("registry reload failed", "error", err)
		if !writeRegistryError(w, err) {
			writeRegistryUnavailable(w)
		}
		return
	}

	s.recordAudit(audit.ActionRefresh, audit.EntityRegistry, "", claims.Subject, nil)
	s.requestInvalidate()

	writeJSON(w, http.StatusOK, s.registry.GetStats())
}
