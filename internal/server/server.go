// Package server wires the application together: storage, auth, the rate
// limiter, the execution pipeline, and the chi router. It owns the limiter's
// cleanup lifecycle — started with the listener, stopped on shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/script-playground/internal/auth"
	"github.com/sakif/script-playground/internal/executor"
	"github.com/sakif/script-playground/internal/handler"
	"github.com/sakif/script-playground/internal/middleware"
	"github.com/sakif/script-playground/internal/ratelimit"
	sqliteRepo "github.com/sakif/script-playground/internal/repository/sqlite"
	"github.com/sakif/script-playground/internal/service"
)

// Config is everything the server needs to start.
type Config struct {
	Port   int
	DBPath string

	// StaticDir, when set, is served under /static/.
	StaticDir string

	// Empty JWTSecret disables login; anonymous execution still works.
	JWTSecret          string
	GitHubClientID     string
	GitHubClientSecret string
	GitHubCallbackURL  string

	// Rate limiting: MaxRuns executions per caller per Window.
	MaxRuns int
	Window  time.Duration

	// RunTimeout is the per-execution budget.
	RunTimeout time.Duration
}

// Server is the assembled application.
type Server struct {
	router  *chi.Mux
	config  Config
	logger  *slog.Logger
	db      *sqliteRepo.DB
	limiter *ratelimit.Limiter
	exec    executor.Executor
}

// New builds the server. The executor is injected so main can pick the
// backend (in-process isolated unit or Docker) and own its lifetime.
func New(cfg Config, logger *slog.Logger, exec executor.Executor) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequests: cfg.MaxRuns,
		Window:      cfg.Window,
	}, logger)

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		db:      db,
		limiter: limiter,
		exec:    exec,
	}

	if err := s.setupRoutes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	// Auth is optional: without a JWT secret the site runs anonymous-only.
	var tokens *auth.TokenService
	if s.config.JWTSecret != "" {
		var err error
		tokens, err = auth.NewTokenService(s.config.JWTSecret)
		if err != nil {
			return fmt.Errorf("creating token service: %w", err)
		}
		s.router.Use(auth.OptionalAuth(tokens))
	}
	// Session must come after OptionalAuth: CallerID prefers the real
	// user ID and falls back to the anonymous session.
	s.router.Use(auth.Session())

	if s.config.StaticDir != "" {
		fileServer := http.FileServer(http.Dir(s.config.StaticDir))
		s.router.Handle("/static/*", http.StripPrefix("/static/", fileServer))
	}

	playgroundHandler, err := handler.NewPlaygroundHandler(s.logger)
	if err != nil {
		return fmt.Errorf("creating playground handler: %w", err)
	}
	s.router.Get("/", playgroundHandler.HandlePlayground)

	runService := service.NewRunService(s.limiter, s.exec, service.RunConfig{
		Timeout: s.config.RunTimeout,
	}, s.logger)
	runHandler := handler.NewRunHandler(runService, s.logger)

	scriptService := service.NewScriptService(s.db, s.logger)
	scriptHandler := handler.NewScriptHandler(scriptService, s.logger)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/run", runHandler.HandleRun)
		r.Get("/run/quota", runHandler.HandleQuota)

		r.Get("/scripts", scriptHandler.HandleList)
		r.Get("/scripts/{id}", scriptHandler.HandleGet)
		r.Post("/scripts", scriptHandler.HandleCreate)
		r.Put("/scripts/{id}", scriptHandler.HandleUpdate)
		r.Delete("/scripts/{id}", scriptHandler.HandleDelete)
	})

	if tokens != nil {
		passwords := auth.NewPasswordService()
		authService := service.NewAuthService(s.db, tokens, passwords, s.logger)
		github := auth.NewGitHubProvider(
			s.config.GitHubClientID,
			s.config.GitHubClientSecret,
			s.config.GitHubCallbackURL,
		)
		authHandler := handler.NewAuthHandler(github, authService, s.logger)

		s.router.Route("/api/auth", func(r chi.Router) {
			r.Post("/register", authHandler.HandleRegister)
			r.Post("/login", authHandler.HandleLogin)
			r.Post("/logout", authHandler.HandleLogout)
			r.With(auth.RequireAuth(tokens)).Get("/me", authHandler.HandleMe)
		})

		s.router.Get("/auth/github/login", authHandler.HandleGitHubLogin)
		s.router.Get("/auth/github/callback", authHandler.HandleGitHubCallback)
	} else {
		s.logger.Warn("JWT secret not configured — login routes disabled")
	}

	return nil
}

// Start runs the server until SIGINT/SIGTERM, then shuts down gracefully.
func (s *Server) Start() error {
	defer s.db.Close()

	s.limiter.Start()
	defer s.limiter.Stop()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
