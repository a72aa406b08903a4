package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/daily-challenge/internal/auth"
	"github.com/daily-challenge/internal/domain"
	"github.com/daily-challenge/internal/websocket"
)

// maxBodyBytes caps request bodies; run data is small JSON
const maxBodyBytes = 1 << 20

// ChallengeAPI is the service surface exposed over HTTP
type ChallengeAPI interface {
	Now() time.Time
	CreateDaily(ctx context.Context, req domain.CreateDailyRequest) (*domain.Challenge, error)
	UpdateDaily(ctx context.Context, id int64, req domain.CreateDailyRequest) (*domain.Challenge, error)
	CreateNextDaily(ctx context.Context) (*domain.Challenge, error)
	CreateNextWeekly(ctx context.Context) (*domain.Challenge, error)
	CurrentChallenge(ctx context.Context, kind domain.ChallengeKind) (*domain.Challenge, error)
	SubmitDailyRecord(ctx context.Context, user domain.User, req domain.RecordSubmission) (*domain.SubmissionRecord, error)
	SubmitWeeklyRecord(ctx context.Context, user domain.User, req domain.RecordSubmission) (*domain.SubmissionRecord, error)
	Leaderboard(ctx context.Context, kind domain.ChallengeKind, challengeID int64) (*domain.Leaderboard, error)
	InspectSeed(code string) domain.SeedReport
}

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler provides HTTP handlers for the challenge API
type Handler struct {
	service  ChallengeAPI
	hub      *websocket.Hub
	verifier *auth.Verifier
	logger   *slog.Logger
	checks   map[string]Pinger
}

// NewHandler creates a new HTTP handler
func NewHandler(service ChallengeAPI, hub *websocket.Hub, verifier *auth.Verifier, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		hub:      hub,
		verifier: verifier,
		logger:   logger,
		checks:   make(map[string]Pinger),
	}
}

// AddReadinessCheck registers a dependency consulted by /ready
func (h *Handler) AddReadinessCheck(name string, p Pinger) {
	h.checks[name] = p
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/now", h.GetNow)
		r.Get("/seeds/{seed}/validate", h.ValidateSeed)

		r.Route("/daily", func(r chi.Router) {
			r.Get("/current", h.GetCurrent(domain.ChallengeDaily))
			r.Get("/{challengeID}/records", h.GetLeaderboard(domain.ChallengeDaily))

			r.Group(func(r chi.Router) {
				r.Use(h.verifier.Authenticate)
				r.Post("/records", h.SubmitRecord(domain.ChallengeDaily))

				r.Group(func(r chi.Router) {
					r.Use(h.verifier.RequireAdmin)
					r.Post("/", h.CreateDaily)
					r.Put("/{challengeID}", h.UpdateDaily)
					r.Post("/next", h.CreateNext(domain.ChallengeDaily))
				})
			})
		})

		r.Route("/weekly", func(r chi.Router) {
			r.Get("/current", h.GetCurrent(domain.ChallengeWeekly))
			r.Get("/{challengeID}/records", h.GetLeaderboard(domain.ChallengeWeekly))

			r.Group(func(r chi.Router) {
				r.Use(h.verifier.Authenticate)
				r.Post("/records", h.SubmitRecord(domain.ChallengeWeekly))

				r.With(h.verifier.RequireAdmin).Post("/next", h.CreateNext(domain.ChallengeWeekly))
			})
		})

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
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

// writeServiceError maps a service error onto a status code. Unclassified
// errors are logged and hidden behind ErrInternalError.
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case domain.IsValidationError(err):
		h.writeError(w, http.StatusBadRequest, err)
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, domain.ErrChallengeNotFound)
	case errors.Is(err, domain.ErrChallengeExists):
		h.writeError(w, http.StatusConflict, domain.ErrChallengeExists)
	case errors.Is(err, domain.ErrUnauthorized):
		h.writeError(w, http.StatusUnauthorized, domain.ErrUnauthorized)
	case errors.Is(err, domain.ErrForbidden):
		h.writeError(w, http.StatusForbidden, domain.ErrForbidden)
	default:
		h.logger.Error("request failed", "op", op, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// decode reads a JSON body into v
func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrInvalidRequest
	}
	return nil
}

func challengeID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "challengeID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ErrInvalidRequest
	}
	return id, nil
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck reports ready only when every registered dependency answers
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("readiness check failed", "dependency", name, "error", err)
			h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{
				Success: false,
				Error:   name + " unavailable",
			})
			return
		}
	}
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// GetNow returns the server time in the service timezone
func (h *Handler) GetNow(w http.ResponseWriter, r *http.Request) {
	now := h.service.Now()
	h.writeSuccess(w, map[string]interface{}{
		"now":      now.Format(time.RFC3339),
		"date":     now.Format(domain.DateLayout),
		"timezone": now.Location().String(),
	})
}

// ValidateSeed reports whether a seed is well formed
func (h *Handler) ValidateSeed(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.service.InspectSeed(chi.URLParam(r, "seed")))
}

// CreateDaily schedules a daily challenge
func (h *Handler) CreateDaily(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateDailyRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	c, err := h.service.CreateDaily(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "create_daily", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    c,
	})
}

// UpdateDaily rewrites a future daily challenge
func (h *Handler) UpdateDaily(w http.ResponseWriter, r *http.Request) {
	id, err := challengeID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	var req domain.CreateDailyRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	c, err := h.service.UpdateDaily(r.Context(), id, req)
	if err != nil {
		h.writeServiceError(w, "update_daily", err)
		return
	}

	h.writeSuccess(w, c)
}

// CreateNext schedules the next period's challenge with generated values
func (h *Handler) CreateNext(kind domain.ChallengeKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			c   *domain.Challenge
			err error
		)
		if kind == domain.ChallengeDaily {
			c, err = h.service.CreateNextDaily(r.Context())
		} else {
			c, err = h.service.CreateNextWeekly(r.Context())
		}
		if err != nil {
			h.writeServiceError(w, "create_next_"+string(kind), err)
			return
		}

		h.writeJSON(w, http.StatusCreated, APIResponse{
			Success: true,
			Data:    c,
		})
	}
}

// GetCurrent returns the challenge for the current period
func (h *Handler) GetCurrent(kind domain.ChallengeKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := h.service.CurrentChallenge(r.Context(), kind)
		if err != nil {
			h.writeServiceError(w, "current_"+string(kind), err)
			return
		}
		h.writeSuccess(w, c)
	}
}

// SubmitRecord stores a run for the authenticated player
func (h *Handler) SubmitRecord(kind domain.ChallengeKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.UserFromContext(r.Context())
		if !ok {
			h.writeError(w, http.StatusUnauthorized, domain.ErrUnauthorized)
			return
		}

		var req domain.RecordSubmission
		if err := decode(w, r, &req); err != nil {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}

		var (
			rec *domain.SubmissionRecord
			err error
		)
		if kind == domain.ChallengeDaily {
			rec, err = h.service.SubmitDailyRecord(r.Context(), *user, req)
		} else {
			rec, err = h.service.SubmitWeeklyRecord(r.Context(), *user, req)
		}
		if err != nil {
			h.writeServiceError(w, "submit_"+string(kind), err)
			return
		}

		h.writeJSON(w, http.StatusCreated, APIResponse{
			Success: true,
			Data:    rec,
		})
	}
}

// GetLeaderboard returns each player's best run for a challenge
func (h *Handler) GetLeaderboard(kind domain.ChallengeKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := challengeID(r)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}

		lb, err := h.service.Leaderboard(r.Context(), kind, id)
		if err != nil {
			h.writeServiceError(w, "leaderboard_"+string(kind), err)
			return
		}
		h.writeSuccess(w, lb)
	}
}
