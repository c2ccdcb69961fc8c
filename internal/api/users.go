package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/verkstad/toolmgmt/internal/audit"
	"github.com/verkstad/toolmgmt/internal/auth"
	"github.com/verkstad/toolmgmt/internal/machine"
)

// ─── Request/Response Types ────────────────────────────────────────

type createUserRequest struct {
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Password    string    `json:"password"`
	Role        auth.Role `json:"role"`
}

type updateUserRequest struct {
	DisplayName *string    `json:"display_name,omitempty"`
	Role        *auth.Role `json:"role,omitempty"`
	IsActive    *bool      `json:"is_active,omitempty"`
}

type setPasswordRequest struct {
	Password string `json:"password"`
}

// setMachinesRequest assigns machines by number.
type setMachinesRequest struct {
	Machines []string `json:"machines"`
}

// ─── Handlers ──────────────────────────────────────────────────────

// loadUser fetches {id} and writes the error response when it cannot.
func (s *Server) loadUser(w http.ResponseWriter, r *http.Request, op string) (*auth.User, bool) {
	user, err := s.users.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return nil, false
		}
		s.logger.Error(op+" failed", "error", err)
		writeInternalError(w, op+" failed")
		return nil, false
	}
	return user, true
}

// handleListUsers returns all user accounts.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		s.logger.Error("list users failed", "error", err)
		writeInternalError(w, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// handleCreateUser creates a new user account. The role defaults to operator.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Username == "" || req.Password == "" || req.DisplayName == "" {
		writeBadRequest(w, "username, password and display_name are required")
		return
	}
	if !auth.IsValidUsername(req.Username) {
		writeValidationError(w, auth.ErrInvalidUsername.Error())
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		writeValidationError(w, err.Error())
		return
	}
	if req.Role == "" {
		req.Role = auth.RoleOperator
	}
	if !auth.IsValidRole(req.Role) {
		writeValidationError(w, "invalid role: must be operator or admin")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("hash password failed", "error", err)
		writeInternalError(w, "failed to create user")
		return
	}

	claims := claimsFromContext(r.Context())
	user := &auth.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: hash,
		Role:         req.Role,
		IsActive:     true,
		CreatedBy:    claims.Subject,
	}

	if err := s.users.Create(r.Context(), user); err != nil {
		if errors.Is(err, auth.ErrUsernameExists) {
			writeConflict(w, "username already exists")
			return
		}
		s.logger.Error("create user failed", "error", err)
		writeInternalError(w, "failed to create user")
		return
	}

	s.logger.Info("user created", "user_id", user.ID, "username", user.Username, "role", user.Role, "created_by", claims.Subject)
	s.recordAudit(audit.ActionCreate, audit.EntityUser, user.ID, claims.Subject, map[string]any{
		"username": user.Username,
		"role":     user.Role,
	})

	writeJSON(w, http.StatusCreated, user)
}

// handleGetUser returns a single user by ID.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, ok := s.loadUser(w, r, "get user")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleUpdateUser modifies a user's mutable fields. Admins cannot
// deactivate or demote themselves.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	user, ok := s.loadUser(w, r, "update user")
	if !ok {
		return
	}

	if user.ID == claims.Subject {
		if req.IsActive != nil && !*req.IsActive {
			writeForbidden(w, "cannot deactivate your own account")
			return
		}
		if req.Role != nil && *req.Role != claims.Role {
			writeForbidden(w, "cannot change your own role")
			return
		}
	}
	if req.Role != nil && !auth.IsValidRole(*req.Role) {
		writeValidationError(w, "invalid role: must be operator or admin")
		return
	}

	if req.DisplayName != nil {
		user.DisplayName = *req.DisplayName
	}
	if req.Role != nil {
		user.Role = *req.Role
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}

	if err := s.users.Update(r.Context(), user); err != nil {
		s.logger.Error("update user failed", "error", err)
		writeInternalError(w, "failed to update user")
		return
	}

	s.logger.Info("user updated", "user_id", user.ID, "updated_by", claims.Subject)
	s.recordAudit(audit.ActionUpdate, audit.EntityUser, user.ID, claims.Subject, nil)

	writeJSON(w, http.StatusOK, user)
}

// handleSetPassword replaces a user's password.
func (s *Server) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var req setPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	user, ok := s.loadUser(w, r, "set password")
	if !ok {
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("hash password failed", "error", err)
		writeInternalError(w, "failed to set password")
		return
	}
	if err := s.users.UpdatePassword(r.Context(), user.ID, hash); err != nil {
		s.logger.Error("update password failed", "error", err)
		writeInternalError(w, "failed to set password")
		return
	}

	s.recordAudit(audit.ActionUpdate, audit.EntityUser, user.ID, claims.Subject, map[string]any{
		"field": "password",
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteUser removes a user account.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	if chi.URLParam(r, "id") == claims.Subject {
		writeForbidden(w, "cannot delete your own account")
		return
	}

	user, ok := s.loadUser(w, r, "delete user")
	if !ok {
		return
	}

	if err := s.users.Delete(r.Context(), user.ID); err != nil {
		s.logger.Error("delete user failed", "error", err)
		writeInternalError(w, "failed to delete user")
		return
	}
	s.sessions.Delete(user.ID)

	s.logger.Info("user deleted", "user_id", user.ID, "deleted_by", claims.Subject)
	s.recordAudit(audit.ActionDelete, audit.EntityUser, user.ID, claims.Subject, map[string]any{
		"username": user.Username,
	})

	w.WriteHeader(http.StatusNoContent)
}

// handleGetUserMachines returns a user's machine assignment.
func (s *Server) handleGetUserMachines(w http.ResponseWriter, r *http.Request) {
	user, ok := s.loadUser(w, r, "get machine access")
	if !ok {
		return
	}

	grants, err := s.access.GetMachineAccess(r.Context(), user.ID)
	if err != nil {
		s.logger.Error("get machine access failed", "error", err)
		writeInternalError(w, "failed to get machine access")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"machines": grants,
		"count":    len(grants),
	})
}

// handleSetUserMachines replaces a user's machine assignment. An empty list
// removes every machine.
func (s *Server) handleSetUserMachines(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var req setMachinesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	ids := make([]string, 0, len(req.Machines))
	for _, number := range req.Machines {
		m, err := s.registry.Machine(number)
		switch {
		case err == nil:
			ids = append(ids, m.ID)
		case errors.Is(err, machine.ErrMachineNotFound):
			writeValidationError(w, "unknown machine "+number)
			return
		default:
			if !writeRegistryError(w, err) {
				writeInternalError(w, "failed to set machine access")
			}
			return
		}
	}

	id := chi.URLParam(r, "id")
	if err := s.access.SetMachineAccess(r.Context(), id, ids, claims.Subject); err != nil {
		switch {
		case errors.Is(err, auth.ErrUserNotFound):
			writeNotFound(w, "user not found")
		case errors.Is(err, auth.ErrUnknownMachine):
			writeValidationError(w, err.Error())
		default:
			s.logger.Error("set machine access failed", "error", err)
			writeInternalError(w, "failed to set machine access")
		}
		return
	}

	s.logger.Info("user machine access updated", "user_id", id, "machine_count", len(ids), "updated_by", claims.Subject)
	s.recordAudit(audit.ActionAssign, audit.EntityUser, id, claims.Subject, map[string]any{
		"machines": req.Machines,
	})

	grants, err := s.access.GetMachineAccess(r.Context(), id)
	if err != nil {
		s.logger.Error("get updated machine access failed", "error", err)
		writeInternalError(w, "machine access updated but failed to retrieve")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"machines": grants,
		"count":    len(grants),
	})
}
