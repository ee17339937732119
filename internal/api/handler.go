package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mkovalv/pvewatch/internal/cache"
	"github.com/mkovalv/pvewatch/internal/config"
	"github.com/mkovalv/pvewatch/internal/orchestrator"
	"github.com/mkovalv/pvewatch/internal/proxmox"
	"github.com/mkovalv/pvewatch/internal/supervisor"
)

// Handler holds the HTTP handlers and dependencies
type Handler struct {
	supervisor   *supervisor.Supervisor
	orchestrator *orchestrator.Orchestrator
	client       proxmox.Client
	cache        cache.Cache
	cfg          *config.Config
	logger       *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(sup *supervisor.Supervisor, orch *orchestrator.Orchestrator, client proxmox.Client, c cache.Cache, cfg *config.Config, logger *slog.Logger) *Handler {
	return &Handler{
		supervisor:   sup,
		orchestrator: orch,
		client:       client,
		cache:        c,
		cfg:          cfg,
		logger:       logger,
	}
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/guests", h.ListGuests)
		r.Get("/nodes", h.ListNodes)
		r.Get("/guests/{node}/{vmid}", h.GetGuest)
		r.Get("/guests/{node}/{vmid}/history", h.GetGuestHistory)
		r.Post("/guests/{node}/{vmid}/{action}", h.PerformAction)

		r.Get("/status", h.GetStatus)
		r.Post("/check", h.BackgroundCheck)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// loggingMiddleware logs HTTP requests
func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote", r.RemoteAddr),
		)
		next.ServeHTTP(w, r)
	})
}

// respondJSON writes a JSON response with the given status code
func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			h.logger.Error("failed to encode response",
				slog.String("error", err.Error()),
			)
		}
	}
}

// respondError writes a JSON error response
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
