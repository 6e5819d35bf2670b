package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/nestline/chatnest/internal/assistant"
	"github.com/nestline/chatnest/internal/auth"
	"github.com/nestline/chatnest/internal/storage"
	"github.com/nestline/chatnest/internal/usage"
	"github.com/rs/zerolog"
)

// Config holds the API server configuration.
type Config struct {
	ListenAddr      string
	RateLimit       int
	RateLimitWindow time.Duration
	AllowedOrigins  []string
}

// Server represents the API HTTP server.
type Server struct {
	config      Config
	store       storage.Store
	meter       *usage.Meter
	auth        *auth.AuthService
	assistant   *assistant.Client
	rateLimiter *RateLimiter
	server      *http.Server
	router      *mux.Router
	listener    net.Listener
	logger      zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config, store storage.Store, meter *usage.Meter, authService *auth.AuthService, assistantClient *assistant.Client, logger zerolog.Logger) *Server {
	rateLimit := cfg.RateLimit
	if rateLimit == 0 {
		rateLimit = 100 // Default: 100 requests per minute
	}
	rateLimitWindow := cfg.RateLimitWindow
	if rateLimitWindow == 0 {
		rateLimitWindow = time.Minute
	}

	s := &Server{
		config:      cfg,
		store:       store,
		meter:       meter,
		auth:        authService,
		assistant:   assistantClient,
		rateLimiter: NewRateLimiter(rateLimit, rateLimitWindow),
		router:      mux.NewRouter(),
		logger:      logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // chat turns wait on the upstream model
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// SetListener provides a pre-bound listener, used with socket activation.
func (s *Server) SetListener(l net.Listener) {
	s.listener = l
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RateLimitMiddleware(s.rateLimiter))

	if len(s.config.AllowedOrigins) > 0 {
		s.router.Use(CORSMiddleware(s.config.AllowedOrigins))
	}

	// Public routes (no auth required)
	s.router.HandleFunc("/api/register", s.handleRegister).Methods("POST", "OPTIONS")
	s.router.HandleFunc("/api/parent-login", s.handleParentLogin).Methods("POST", "OPTIONS")
	s.router.HandleFunc("/api/child-login", s.handleChildLogin).Methods("POST", "OPTIONS")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Authenticated routes
	authRouter := s.router.PathPrefix("/").Subrouter()
	authRouter.Use(AuthMiddleware(s.auth))

	// Auth endpoints
	authRouter.HandleFunc("/api/auth/logout", s.handleLogout).Methods("POST")
	authRouter.HandleFunc("/api/auth/me", s.handleMe).Methods("GET")
	authRouter.HandleFunc("/api/auth/change-password", s.handleChangePassword).Methods("POST")

	// Child management (parent only)
	parentRouter := authRouter.PathPrefix("/api/children").Subrouter()
	parentRouter.Use(RequireRole(auth.RoleParent))
	parentRouter.HandleFunc("", s.handleListChildren).Methods("GET")
	parentRouter.HandleFunc("", s.handleCreateChild).Methods("POST")
	parentRouter.HandleFunc("/{id}/usage-limit", s.handleUpdateLimit).Methods("PUT")
	parentRouter.HandleFunc("/{id}/usage", s.handleChildUsage).Methods("GET")

	// Chat persistence and live turns
	authRouter.HandleFunc("/api/chat-session", s.handleCreateChatSession).Methods("POST")
	authRouter.HandleFunc("/api/chat-session/{childID}", s.handleListChatSessions).Methods("GET")
	authRouter.HandleFunc("/api/chat-message", s.handleAddChatMessage).Methods("POST")
	authRouter.HandleFunc("/api/chat-message/{sessionID}", s.handleListChatMessages).Methods("GET")
	authRouter.HandleFunc("/api/chat", s.handleChat).Methods("POST")
}

// Start starts the API server.
func (s *Server) Start() error {
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Info().Str("addr", s.listener.Addr().String()).Msg("Starting API server on activated socket")
			err = s.server.Serve(s.listener)
		} else {
			s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting API server")
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"active_sessions": s.auth.GetActiveSessions(),
	})
}
