package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/skeetgame-ingest/internal/domain"
	"github.com/skeetgame-ingest/internal/redis"
	"github.com/skeetgame-ingest/internal/repo"
	"github.com/skeetgame-ingest/internal/tracker"
	"github.com/skeetgame-ingest/internal/websocket"
)

// Handler provides the admin and observer HTTP API
type Handler struct {
	players     *repo.Repository
	tracker     *tracker.Tracker
	leaderboard *redis.Leaderboard
	hub         *websocket.Hub
	logger      *slog.Logger
}

// NewHandler creates a new HTTP handler. leaderboard may be nil when no
// live ranking is configured.
func NewHandler(players *repo.Repository, t *tracker.Tracker, leaderboard *redis.Leaderboard, hub *websocket.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		players:     players,
		tracker:     t,
		leaderboard: leaderboard,
		hub:         hub,
		logger:      logger,
	}
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

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	r.Get("/ws", h.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", h.GetStats)

		r.Route("/players/{did}", func(r chi.Router) {
			r.Get("/", h.GetPlayer)
			r.Delete("/", h.DeletePlayer)
			r.Get("/flags", h.GetPlayerFlags)
			r.Get("/ratelimit", h.GetPlayerRateLimit)
		})

		r.Route("/leaderboard", func(r chi.Router) {
			r.Get("/top", h.GetTop)
			r.Get("/player/{did}", h.GetPlayerRank)
		})

		r.Get("/gamestate", h.GetGameState)
		r.Put("/gamestate", h.PutGameState)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
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

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// GetStats returns ingestion and observer statistics
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"playing_players":  h.players.ActiveCount(),
		"recently_active":  h.tracker.ActiveCount(),
		"buffered_events":  h.players.BufferedEvents(),
		"observer_clients": h.hub.GetTotalConnections(),
	})
}

// GetPlayer returns a player row with its profile snapshot
func (h *Handler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	did := chi.URLParam(r, "did")

	player, err := h.players.Player(r.Context(), did)
	if err != nil {
		h.logger.Error("failed to load player", "did", did, "error", err)
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if player == nil {
		h.writeError(w, http.StatusNotFound, domain.ErrPlayerNotFound)
		return
	}

	profile, err := h.players.Profile(r.Context(), did)
	if err != nil {
		h.logger.Error("failed to load profile", "did", did, "error", err)
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	h.writeSuccess(w, map[string]interface{}{
		"player":  player,
		"profile": profile,
		"active":  h.tracker.IsActive(did),
	})
}

// DeletePlayer removes a player row
func (h *Handler) DeletePlayer(w http.ResponseWriter, r *http.Request) {
	did := chi.URLParam(r, "did")
	if err := h.players.DeletePlayer(r.Context(), did); err != nil {
		if errors.Is(err, domain.ErrPlayerNotFound) {
			h.writeError(w, http.StatusNotFound, err)
			return
		}
		h.logger.Error("failed to delete player", "did", did, "error", err)
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "deleted"})
}

// GetPlayerFlags returns a player's profile flag list
func (h *Handler) GetPlayerFlags(w http.ResponseWriter, r *http.Request) {
	did := chi.URLParam(r, "did")
	flags, err := h.players.Flags(r.Context(), did)
	if err != nil {
		h.logger.Error("failed to load flags", "did", did, "error", err)
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if flags == nil {
		h.writeError(w, http.StatusNotFound, domain.ErrFlagNotFound)
		return
	}
	h.writeSuccess(w, flags)
}

// GetPlayerRateLimit returns a player's rate-limit record
func (h *Handler) GetPlayerRateLimit(w http.ResponseWriter, r *http.Request) {
	did := chi.URLParam(r, "did")
	rec, err := h.players.RateLimit(r.Context(), did)
	if err != nil {
		h.logger.Error("failed to load rate limit", "did", did, "error", err)
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if rec == nil {
		h.writeError(w, http.StatusNotFound, domain.ErrPlayerNotFound)
		return
	}
	h.writeSuccess(w, rec)
}

// GetTop returns the activity leaderboard's highest-ranked players
func (h *Handler) GetTop(w http.ResponseWriter, r *http.Request) {
	if h.leaderboard == nil {
		h.writeError(w, http.StatusServiceUnavailable, errors.New("leaderboard not configured"))
		return
	}

	n := int64(10)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 1 || parsed > 100 {
			h.writeError(w, http.StatusBadRequest, errors.New("limit must be between 1 and 100"))
			return
		}
		n = parsed
	}

	entries, err := h.leaderboard.TopN(r.Context(), n)
	if err != nil {
		h.logger.Error("failed to fetch leaderboard", "error", err)
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeSuccess(w, entries)
}

// GetPlayerRank returns one player's rank, score and kind breakdown
func (h *Handler) GetPlayerRank(w http.ResponseWriter, r *http.Request) {
	if h.leaderboard == nil {
		h.writeError(w, http.StatusServiceUnavailable, errors.New("leaderboard not configured"))
		return
	}
	did := chi.URLParam(r, "did")

	rank, score, err := h.leaderboard.Rank(r.Context(), did)
	if err != nil {
		h.logger.Error("failed to fetch rank", "did", did, "error", err)
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if rank == 0 {
		h.writeError(w, http.StatusNotFound, domain.ErrPlayerNotFound)
		return
	}

	breakdown, err := h.leaderboard.Breakdown(r.Context(), did)
	if err != nil {
		h.logger.Error("failed to fetch breakdown", "did", did, "error", err)
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	h.writeSuccess(w, map[string]interface{}{
		"did":       did,
		"rank":      rank,
		"score":     score,
		"breakdown": breakdown,
	})
}

// GetGameState returns the process-wide game state
func (h *Handler) GetGameState(w http.ResponseWriter, r *http.Request) {
	state, err := h.players.GameState(r.Context())
	if err != nil {
		h.logger.Error("failed to load game state", "error", err)
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeSuccess(w, state)
}

// PutGameState replaces the process-wide game state
func (h *Handler) PutGameState(w http.ResponseWriter, r *http.Request) {
	var state domain.GameState
	if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.players.SaveGameState(r.Context(), &state); err != nil {
		h.logger.Error("failed to save game state", "error", err)
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeSuccess(w, &state)
}
