package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/triagehq/triage/internal/agent"
	"github.com/triagehq/triage/internal/api/ws"
	"github.com/triagehq/triage/internal/approval"
	"github.com/triagehq/triage/internal/config"
	"github.com/triagehq/triage/internal/server/middleware"
	"github.com/triagehq/triage/internal/session"
)

// Server is the HTTP server that wires the chat websocket and the session
// admin API.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	hub        *ws.Hub
	cfg        *config.Config
}

// New creates a Server with all routes wired.
func New(cfg *config.Config, store *session.Store, registry *agent.Registry, approvals *approval.Correlator) *Server {
	router := chi.NewRouter()

	// Global middleware stack.
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Logger)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	hub := ws.NewHub(store, registry, approvals, cfg.Chat.EngineType, cfg.Chat.HeartbeatInterval)

	s := &Server{
		router: router,
		hub:    hub,
		cfg:    cfg,
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	authMW := middleware.Auth(cfg.Auth.JWTSecret, cfg.Auth.APIKeys)

	// Session admin API on /api/v1.
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(authMW)
		r.Use(middleware.RateLimit(100, 200))

		apiConfig := huma.DefaultConfig("Triage API", "1.0.0")
		apiConfig.Servers = []*huma.Server{
			{URL: "/api/v1"},
		}
		api := humachi.New(r, apiConfig)
		registerAPIRoutes(api, store, approvals)
	})

	// Chat websocket.
	router.Route("/ws", func(r chi.Router) {
		r.Use(authMW)
		registerWSRoutes(r, hub)
	})

	// Health check (unauthenticated, per-IP limited). The limiter's cleanup
	// goroutine lives for the whole process.
	healthLimit := middleware.RateLimitByIP(context.Background(), 5, 10)
	router.With(healthLimit).Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return s
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
