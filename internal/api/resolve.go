package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/verkstad/toolmgmt/internal/machine"
	"github.com/verkstad/toolmgmt/internal/machineset"
)

// resolveWait bounds how long a request waits for the first registry load.
const resolveWait = 2 * time.Second

// resolutionResponse is the public form of a resolution. The invalid reason
// and the dropped numbers stay internal.
type resolutionResponse struct {
	State     machineset.State     `json:"state"`
	Segment   string               `json:"segment,omitempty"`
	Selection machineset.Selection `json:"selection"`
	Machines  []machine.Machine    `json:"machines"`
	Active    *machine.Machine     `json:"active,omitempty"`
	Version   uint64               `json:"version"`
}

type selectRequest struct {
	Machine machine.MachineID `json:"machine"`
}

type selectResponse struct {
	resolutionResponse
	Changed bool `json:"changed"`
}

func newResolutionResponse(res machineset.Resolution) resolutionResponse {
	out := resolutionResponse{
		State:     res.State,
		Segment:   res.Segment,
		Selection: res.Selection,
		Machines:  res.Machines,
		Version:   res.Version,
	}
	if active, ok := res.Active(); ok {
		out.Active = active
	}
	return out
}

// writeResolutionError writes the response for a resolution that is not
// valid and reports whether it did.
func (s *Server) writeResolutionError(w http.ResponseWriter, r *http.Request, res machineset.Resolution) bool {
	switch res.State {
	case machineset.StateValid:
		return false
	case machineset.StateInvalid:
		s.logger.Debug("machine path not found",
			"reason", res.Reason.String(),
			"segment", res.Segment,
			"dropped", res.Dropped,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeMachineNotFound(w)
	case machineset.StateUnavailable:
		s.logger.Warn("machine registry unavailable", "error", res.Err)
		writeRegistryUnavailable(w)
	default:
		writeRegistryLoading(w)
	}
	return true
}

// handleResolve resolves ?path= against the registry without touching the
// caller's selection.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")

	ctx, cancel := context.WithTimeout(r.Context(), resolveWait)
	defer cancel()
	// A timeout leaves the loading resolution, answered below.
	res, _ := s.resolver.WaitResolve(ctx, path)
	s.metrics.observeResolution(res.State)

	if len(res.Dropped) > 0 {
		s.logger.Debug("unknown machine numbers dropped", "path", path, "dropped", res.Dropped)
	}
	if s.writeResolutionError(w, r, res) {
		return
	}
	writeJSON(w, http.StatusOK, newResolutionResponse(res))
}

// handleGetSelection returns the caller's selection. With ?path= the
// selection is re-derived for that path first.
func (s *Server) handleGetSelection(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	session := s.sessions.Get(claims.Subject)

	var res machineset.Resolution
	if q := r.URL.Query(); q.Has("path") {
		res = session.Navigate(q.Get("path"))
		s.metrics.observeResolution(res.State)
	} else {
		res = session.Current()
	}

	if s.writeResolutionError(w, r, res) {
		return
	}
	writeJSON(w, http.StatusOK, newResolutionResponse(res))
}

// handleSelectActive makes another machine of the current page active.
// Choosing a machine that is not on the page changes nothing.
func (s *Server) handleSelectActive(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Machine == "" {
		writeBadRequest(w, "machine is required")
		return
	}

	claims := claimsFromContext(r.Context())
	res, changed := s.sessions.Get(claims.Subject).Select(req.Machine)
	if s.writeResolutionError(w, r, res) {
		return
	}
	writeJSON(w, http.StatusOK, selectResponse{
		resolutionResponse: newResolutionResponse(res),
		Changed:            changed,
	})
}
