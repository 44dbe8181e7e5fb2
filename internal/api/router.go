package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/lemonslots/internal/api/handler"
	"github.com/mcoot/lemonslots/internal/api/middleware"
	"github.com/mcoot/lemonslots/internal/dependencies/clock"
	"github.com/mcoot/lemonslots/internal/metrics"
	sharedmw "github.com/mcoot/lemonslots/internal/middleware"
	"github.com/mcoot/lemonslots/internal/services/directory"
	"github.com/mcoot/lemonslots/internal/services/grant"
	"github.com/mcoot/lemonslots/internal/services/leaderboard"
	"github.com/mcoot/lemonslots/internal/services/notify"
	"github.com/mcoot/lemonslots/internal/services/spin"
)

// RouterConfig holds configuration for the API router
type RouterConfig struct {
	Logger         *slog.Logger
	Clock          clock.Clock
	Directory      *directory.Service
	SpinEngine     *spin.Engine
	GrantService   *grant.Service
	Reconciliation *spin.ReconciliationQueue
	Leaderboard    *leaderboard.Ranker
	Hub            *notify.Hub
	Metrics        *metrics.Metrics
	// AdminKeyHash is a bcrypt hash of the admin key; empty disables admin routes
	AdminKeyHash string
}

// NewRouter creates a new API router with all routes configured
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	// Create handlers
	playerHandler := handler.NewPlayerHandler(cfg.Directory)
	spinHandler := handler.NewSpinHandler(cfg.SpinEngine)
	leaderboardHandler := handler.NewLeaderboardHandler(cfg.Leaderboard)
	adminHandler := handler.NewAdminHandler(cfg.GrantService, cfg.Reconciliation)
	eventsHandler := handler.NewEventsHandler(cfg.Directory, cfg.Hub, cfg.Clock, cfg.Logger)

	// Create middleware
	authMiddleware := middleware.Auth(cfg.Directory)
	adminMiddleware := middleware.AdminKey(cfg.AdminKeyHash)
	loggingMiddleware := sharedmw.Logging(cfg.Logger)
	recoveryMiddleware := middleware.Recovery(cfg.Logger)

	// API subrouter with common middleware
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(recoveryMiddleware)
	api.Use(loggingMiddleware)

	// Player routes (no auth required for logging in)
	api.HandleFunc("/players/login", playerHandler.Login).Methods(http.MethodPost)

	// Protected player routes
	playerProtected := api.PathPrefix("/players").Subrouter()
	playerProtected.Use(authMiddleware)
	playerProtected.HandleFunc("/me", playerHandler.GetMe).Methods(http.MethodGet)
	playerProtected.HandleFunc("/logout", playerHandler.Logout).Methods(http.MethodPost)
	playerProtected.HandleFunc("/me/events", eventsHandler.SSE).Methods(http.MethodGet)
	playerProtected.HandleFunc("/me/ws", eventsHandler.WebSocket).Methods(http.MethodGet)

	// Spin routes (auth required)
	spins := api.PathPrefix("/spins").Subrouter()
	spins.Use(authMiddleware)
	spins.HandleFunc("", spinHandler.Spin).Methods(http.MethodPost)

	// Leaderboard is public
	api.HandleFunc("/leaderboard", leaderboardHandler.Get).Methods(http.MethodGet)

	// Admin routes (admin key required)
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(adminMiddleware)
	admin.HandleFunc("/grants", adminHandler.Grant).Methods(http.MethodPost)
	admin.HandleFunc("/grants", adminHandler.ListGrants).Methods(http.MethodGet)
	admin.HandleFunc("/reconciliation", adminHandler.PendingCredits).Methods(http.MethodGet)
	admin.HandleFunc("/reconciliation/run", adminHandler.Reconcile).Methods(http.MethodPost)

	// Health check endpoint (no auth)
	api.HandleFunc("/health", healthHandler).Methods(http.MethodGet)

	// Prometheus scrape endpoint
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler()).Methods(http.MethodGet)
	}

	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
