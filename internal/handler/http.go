package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dailyspot/internal/auth"
	"github.com/dailyspot/internal/domain"
	"github.com/dailyspot/internal/rotation"
	"github.com/dailyspot/internal/service"
	"github.com/dailyspot/internal/session"
	"github.com/dailyspot/internal/streetview"
	"github.com/dailyspot/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Game is the gameplay surface the API exposes. *service.GameService
// implements it.
type Game interface {
	Today() string
	Countdown() (time.Time, time.Duration)
	NextSpotAt() time.Time
	TodaysPublicSpot(ctx context.Context) (domain.PublicSpot, error)
	Start(ctx context.Context, playerID string) (*session.Session, error)
	PlaceGuess(ctx context.Context, playerID string, c domain.Coordinate) (*session.Session, error)
	Submit(ctx context.Context, playerID, userID string) (*service.SubmitOutcome, error)
	TodayResult(ctx context.Context, playerID string) (*domain.GameResult, error)
	ClearToday(ctx context.Context, playerID string) error
	SyncStatus(ctx context.Context, playerID, date string) (domain.SyncStatus, error)
	Panorama(ctx context.Context, playerID string) (*streetview.Panorama, error)
	Stats(ctx context.Context, userID string) (*domain.GameStats, error)
	TodayFromRemote(ctx context.Context, userID string) (*domain.GameRecord, error)
	DailyLeaderboard(ctx context.Context, date string, n int) ([]domain.LeaderboardEntry, error)
	PlayerRank(ctx context.Context, date, playerID string) (*domain.LeaderboardEntry, error)
	PlayerCount(ctx context.Context, date string) (int64, error)
}

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler provides HTTP handlers for the game API
type Handler struct {
	game     Game
	hub      *websocket.Hub
	verifier *auth.Verifier
	gatherer prometheus.Gatherer
	checks   map[string]Pinger
	logger   *slog.Logger
}

// NewHandler creates a new HTTP handler. gatherer and checks may be nil.
func NewHandler(
	game Game,
	hub *websocket.Hub,
	verifier *auth.Verifier,
	gatherer prometheus.Gatherer,
	checks map[string]Pinger,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		game:     game,
		hub:      hub,
		verifier: verifier,
		gatherer: gatherer,
		checks:   checks,
		logger:   logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// GuessRequest is the body of a pin placement.
type GuessRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// CountdownResponse describes when the next spot goes live.
type CountdownResponse struct {
	Today            string    `json:"today"`
	NextSpotAt       time.Time `json:"next_spot_at"`
	SecondsRemaining int64     `json:"seconds_remaining"`
	Display          string    `json:"display"`
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
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.verifier.Middleware(h.writeAuthError))

		r.Get("/spots/today", h.GetTodaysSpot)
		r.Get("/spots/today/countdown", h.GetCountdown)

		r.Post("/players", h.CreatePlayer)
		r.Route("/players/{playerID}", func(r chi.Router) {
			r.Post("/session", h.StartSession)
			r.Put("/guess", h.PlaceGuess)
			r.Post("/submit", h.Submit)
			r.Get("/today", h.GetTodayResult)
			r.Delete("/today", h.ClearTodayResult)
			r.Get("/sync", h.GetSyncStatus)
			r.Get("/panorama", h.GetPanorama)
		})

		r.Route("/me", func(r chi.Router) {
			r.Use(auth.Require(h.writeAuthError))
			r.Get("/stats", h.GetMyStats)
			r.Get("/today", h.GetMyToday)
		})

		r.Route("/leaderboards/{date}", func(r chi.Router) {
			r.Get("/top", h.GetTop)
			r.Get("/player/{playerID}", h.GetPlayerRank)
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

func (h *Handler) writeAuthError(w http.ResponseWriter, err error) {
	if errors.Is(err, auth.ErrExpiredToken) {
		h.writeError(w, http.StatusUnauthorized, err)
		return
	}
	h.writeError(w, http.StatusUnauthorized, domain.ErrUnauthorized)
}

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNoSpotAvailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrAlreadyPlayed):
		return http.StatusConflict
	case domain.IsPreconditionError(err), errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized
	case domain.IsNotFoundError(err), errors.Is(err, streetview.ErrNoPanorama):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with its mapped status. Unexpected errors
// are logged and hidden behind ErrInternalError.
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "op", op, "error", err)
		h.writeError(w, status, domain.ErrInternalError)
		return
	}
	if status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout {
		h.logger.Warn("request degraded", "op", op, "error", err)
	}
	if status == http.StatusServiceUnavailable {
		err = domain.ErrNoSpotAvailable
	}
	h.writeError(w, status, err)
}

// resolveDate turns the {date} path value into a date key. "today" is
// accepted as an alias.
func (h *Handler) resolveDate(r *http.Request) (string, error) {
	date := chi.URLParam(r, "date")
	if date == "" || date == "today" {
		return h.game.Today(), nil
	}
	if _, err := rotation.ParseDateKey(date); err != nil {
		return "", fmt.Errorf("date must be YYYY-MM-DD: %w", domain.ErrInvalidRequest)
	}
	return date, nil
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
		"today_subscribers": h.hub.GetSubscriberCount(h.game.Today()),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck pings every backing store and reports 503 if any is down
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{}
	ready := true
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("readiness check failed", "dependency", name, "error", err)
			status[name] = "unavailable"
			ready = false
			continue
		}
		status[name] = "ok"
	}

	if !ready {
		h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{
			Success: false,
			Data:    status,
			Error:   "not ready",
		})
		return
	}
	status["status"] = "ready"
	h.writeSuccess(w, status)
}

// GetTodaysSpot returns today's spot without its coordinates
func (h *Handler) GetTodaysSpot(w http.ResponseWriter, r *http.Request) {
	spot, err := h.game.TodaysPublicSpot(r.Context())
	if err != nil {
		h.writeServiceError(w, "todays spot", err)
		return
	}
	h.writeSuccess(w, spot)
}

// GetCountdown returns the time left until the next spot
func (h *Handler) GetCountdown(w http.ResponseWriter, r *http.Request) {
	next, remaining := h.game.Countdown()
	h.writeSuccess(w, CountdownResponse{
		Today:            h.game.Today(),
		NextSpotAt:       next,
		SecondsRemaining: int64(remaining / time.Second),
		Display:          formatCountdown(remaining),
	})
}

// formatCountdown renders a duration as HH:MM:SS.
func formatCountdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}

// CreatePlayer issues an id for an anonymous browser. The id is the only
// handle on the player's local results, so clients should keep it.
func (h *Handler) CreatePlayer(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    map[string]string{"player_id": uuid.NewString()},
	})
}

// StartSession opens or resumes the player's session for today
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.game.Start(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		h.writeServiceError(w, "start session", err)
		return
	}
	h.writeSuccess(w, sess.Snapshot(h.game.NextSpotAt()))
}

// PlaceGuess sets or moves the player's pin
func (h *Handler) PlaceGuess(w http.ResponseWriter, r *http.Request) {
	var req GuessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidCoordinate)
		return
	}

	guess := domain.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude}
	sess, err := h.game.PlaceGuess(r.Context(), chi.URLParam(r, "playerID"), guess)
	if err != nil {
		h.writeServiceError(w, "place guess", err)
		return
	}
	h.writeSuccess(w, sess.Snapshot(h.game.NextSpotAt()))
}

// Submit scores the player's pin. A repeat submission returns the first
// result with already_played set.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "playerID")
	outcome, err := h.game.Submit(r.Context(), playerID, auth.UserID(r.Context()))
	if err != nil {
		h.writeServiceError(w, "submit", err)
		return
	}
	h.writeSuccess(w, outcome)
}

// GetTodayResult returns the player's stored result for today
func (h *Handler) GetTodayResult(w http.ResponseWriter, r *http.Request) {
	result, err := h.game.TodayResult(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		h.writeServiceError(w, "today result", err)
		return
	}
	h.writeSuccess(w, result)
}

// ClearTodayResult forgets the player's result for today
func (h *Handler) ClearTodayResult(w http.ResponseWriter, r *http.Request) {
	if err := h.game.ClearToday(r.Context(), chi.URLParam(r, "playerID")); err != nil {
		h.writeServiceError(w, "clear today", err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "cleared"})
}

// GetSyncStatus reports whether a day's result reached remote stats
func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "playerID")
	date := r.URL.Query().Get("date")
	if date != "" {
		if _, err := rotation.ParseDateKey(date); err != nil {
			h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
			return
		}
	}

	status, err := h.game.SyncStatus(r.Context(), playerID, date)
	if err != nil {
		h.writeServiceError(w, "sync status", err)
		return
	}
	h.writeSuccess(w, map[string]interface{}{
		"player_id": playerID,
		"status":    status,
	})
}

// GetPanorama returns the street-level panorama for today's spot
func (h *Handler) GetPanorama(w http.ResponseWriter, r *http.Request) {
	pano, err := h.game.Panorama(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		h.writeServiceError(w, "panorama", err)
		return
	}
	h.writeSuccess(w, pano)
}

// GetMyStats returns the signed-in user's aggregate stats
func (h *Handler) GetMyStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.game.Stats(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeServiceError(w, "stats", err)
		return
	}
	h.writeSuccess(w, stats)
}

// GetMyToday returns today's game from the signed-in user's history
func (h *Handler) GetMyToday(w http.ResponseWriter, r *http.Request) {
	rec, err := h.game.TodayFromRemote(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeServiceError(w, "remote today", err)
		return
	}
	h.writeSuccess(w, rec)
}

// GetTop returns the top players of a day
func (h *Handler) GetTop(w http.ResponseWriter, r *http.Request) {
	date, err := h.resolveDate(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	entries, err := h.game.DailyLeaderboard(r.Context(), date, limit)
	if err != nil {
		h.writeServiceError(w, "daily leaderboard", err)
		return
	}
	players, err := h.game.PlayerCount(r.Context(), date)
	if err != nil {
		h.writeServiceError(w, "daily player count", err)
		return
	}
	h.writeSuccess(w, map[string]interface{}{
		"date":    date,
		"entries": entries,
		"players": players,
	})
}

// GetPlayerRank returns a player's rank and score for a day
func (h *Handler) GetPlayerRank(w http.ResponseWriter, r *http.Request) {
	date, err := h.resolveDate(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	entry, err := h.game.PlayerRank(r.Context(), date, chi.URLParam(r, "playerID"))
	if err != nil {
		h.writeServiceError(w, "player rank", err)
		return
	}
	h.writeSuccess(w, entry)
}
