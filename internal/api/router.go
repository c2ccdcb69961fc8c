package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/verkstad/toolmgmt/internal/auth"
	"github.com/verkstad/toolmgmt/internal/machine"
)

// healthCheckTimeout bounds each component check on GET /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware())
	r.Use(s.bodySizeLimitMiddleware)
	r.Use(s.metrics.middleware)

	// Prometheus scrape endpoint (no auth, scraped from the plant network)
	if s.metricsCfg.Enabled {
		r.Method(http.MethodGet, pathOr(s.metricsCfg.Path, "/metrics"), s.metrics.handler())
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required, tighter rate limit)
		r.With(s.rateLimit(s.cfg.RateLimit.LoginPerMinute)).Post("/auth/login", s.handleLogin)

		// WebSocket (auth via ticket, validated in handler)
		r.Get(pathOr(s.wsCfg.Path, "/ws"), s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Use(s.rateLimit(s.cfg.RateLimit.RequestsPerMinute))

			r.Post("/auth/ws-ticket", s.handleWSTicket)
			r.Get("/me", s.handleMe)
			r.Get("/me/machines", s.handleMyMachines)

			// Machine set navigation
			r.Group(func(r chi.Router) {
				r.Use(requirePermission(auth.PermMachineRead))
				r.Get("/resolve", s.handleResolve)
				r.Get("/selection", s.handleGetSelection)
				r.Put("/selection/active", s.handleSelectActive)
			})

			// Machine endpoints
			r.Route("/machines", func(r chi.Router) {
				r.With(requirePermission(auth.PermMachineRead)).Get("/", s.handleListMachines)
				r.With(requirePermission(auth.PermMachineManage)).Post("/", s.handleCreateMachine)
				r.With(requirePermission(auth.PermRegistryRefresh)).Post("/registry/refresh", s.handleRefreshRegistry)

				r.Route("/{number}", func(r chi.Router) {
					r.Use(requirePermission(auth.PermMachineRead))

					manage := requirePermission(auth.PermMachineManage)
					r.Get("/", s.handleGetMachine)
					r.With(manage).Patch("/", s.handleUpdateMachine)
					r.With(manage).Delete("/", s.handleDeleteMachine)

					r.Get("/counter", s.handleGetCounter)
					r.Get("/status", s.handleGetStatus)
					r.Get("/active-order", s.handleGetActiveOrder)

					s.logbookRoutes(r, requirePermission(auth.PermLogbookWrite))
				})
			})

			// Tool catalogue endpoints
			r.Route("/tools", func(r chi.Router) {
				r.Use(requirePermission(auth.PermToolRead))

				manage := requirePermission(auth.PermToolManage)
				r.Get("/", s.handleListTools)
				r.With(manage).Post("/", s.handleCreateTool)

				r.Route("/{number}", func(r chi.Router) {
					r.Get("/", s.handleGetTool)
					r.With(manage).Put("/", s.handleUpdateTool)
					r.With(manage).Delete("/", s.handleDeleteTool)
					r.Get("/history", s.handleToolHistory)
				})
			})

			// User management endpoints
			r.Route("/users", func(r chi.Router) {
				r.Use(requirePermission(auth.PermUserManage))

				r.Get("/", s.handleListUsers)
				r.Post("/", s.handleCreateUser)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetUser)
					r.Patch("/", s.handleUpdateUser)
					r.Delete("/", s.handleDeleteUser)
					r.Put("/password", s.handleSetPassword)
					r.Get("/machines", s.handleGetUserMachines)
					r.Put("/machines", s.handleSetUserMachines)
				})
			})

			r.With(requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAuditLogs)
		})
	})

	return r
}

// handleHealth reports the registry state and every configured component.
// Any failing component, or a registry that is not ready, answers 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.registry.GetStats()
	healthy := stats.State == machine.StateReady

	components := make(map[string]string, len(s.health))
	for name, checker := range s.health {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := checker.HealthCheck(ctx)
		cancel()
		if err != nil {
			healthy = false
			components[name] = err.Error()
			continue
		}
		components[name] = "ok"
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":            status,
		"version":           s.version,
		"uptime_seconds":    int(time.Since(s.startTime).Seconds()),
		"registry":          stats,
		"components":        components,
		"websocket_clients": s.hub.ClientCount(),
	})
}

func pathOr(path, fallback string) string {
	if path == "" {
		return fallback
	}
	return path
}
