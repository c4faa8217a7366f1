package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/family-history/internal/config"
	"github.com/family-history/internal/domain"
	"github.com/family-history/internal/history"
	"github.com/family-history/internal/metrics"
	"github.com/family-history/internal/ranking"
	"github.com/family-history/internal/service"
	"github.com/family-history/internal/websocket"
)

// FamilyService is what the HTTP layer needs from the service
type FamilyService interface {
	Latest(ctx context.Context, family string, criteria ranking.Criteria, limit int) ([]domain.LatestRow, error)
	Leaderboard(ctx context.Context, family string, criteria ranking.Criteria) (ranking.Board, error)
	Snapshots(ctx context.Context, family string) ([]domain.Date, error)
	History(ctx context.Context, family string, q service.HistoryQuery) (history.Table, error)
	PlayerByNickname(ctx context.Context, family, nickname string, from, to domain.Date) (*service.PlayerView, error)
	UpdateNickname(ctx context.Context, family string, playerID int64, nickname string) (*domain.Member, error)
	Import(ctx context.Context, req domain.ImportRequest) (*domain.ImportResult, error)
}

// Authenticator resolves credentials and bearer tokens
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*domain.LoginResponse, error)
	Authenticate(ctx context.Context, token string) (*domain.User, error)
	Logout(ctx context.Context, token string) error
	RoleAllowed(role string) bool
}

// ReadinessCheck reports whether a dependency can serve requests
type ReadinessCheck func(ctx context.Context) error

// Handler provides HTTP handlers for the family history API
type Handler struct {
	service FamilyService
	auth    Authenticator
	hub     *websocket.Hub
	metrics *metrics.Metrics
	config  *config.ServerConfig
	checks  map[string]ReadinessCheck
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	service FamilyService,
	auth Authenticator,
	hub *websocket.Hub,
	metrics *metrics.Metrics,
	cfg *config.ServerConfig,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		service: service,
		auth:    auth,
		hub:     hub,
		metrics: metrics,
		config:  cfg,
		checks:  make(map[string]ReadinessCheck),
		logger:  logger,
	}
}

// AddReadinessCheck registers a dependency probed by /ready
func (h *Handler) AddReadinessCheck(name string, check ReadinessCheck) {
	h.checks[name] = check
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(h.metrics.Middleware)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Group(func(r chi.Router) {
			r.Use(h.requireUser)
			r.Get("/me", h.Me)
			r.Post("/logout", h.Logout)
		})
	})

	r.Route("/family/{family}", func(r chi.Router) {
		r.Get("/latest", h.GetLatest)
		r.Get("/leaderboard", h.GetLeaderboard)
		r.Get("/snapshots", h.GetSnapshots)
		r.Get("/history", h.GetHistory)
		r.Get("/player/by-nickname/{nickname}", h.GetPlayerByNickname)

		r.Group(func(r chi.Router) {
			r.Use(h.requireUser, h.requireAdmin)
			r.Patch("/player/{playerID}/nickname", h.UpdateNickname)
			r.Post("/import", h.Import)
		})
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to encode response", "error", err)
	}
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data any) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeServiceError maps a service error onto its HTTP status. Unexpected
// errors are logged and hidden behind a generic message.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrBadCredentials):
		h.writeError(w, http.StatusUnauthorized, err)
	case errors.Is(err, domain.ErrForbidden):
		h.writeError(w, http.StatusForbidden, err)
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrNicknameTaken):
		h.writeError(w, http.StatusConflict, domain.ErrNicknameTaken)
	case domain.IsValidationError(err):
		h.writeError(w, http.StatusBadRequest, err)
	default:
		h.logger.Error("request failed",
			"op", op,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck probes every registered dependency
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := map[string]string{"status": "ready"}
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.Warn("readiness check failed", "dependency", name, "error", err)
			status[name] = "unavailable"
			status["status"] = "not ready"
			continue
		}
		status[name] = "ok"
	}

	if status["status"] != "ready" {
		h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{Success: false, Data: status, Error: "not ready"})
		return
	}
	h.writeSuccess(w, status)
}
