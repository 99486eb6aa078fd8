package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackzampolin/scriptcast/internal/api"
	"github.com/jackzampolin/scriptcast/internal/config"
	"github.com/jackzampolin/scriptcast/internal/drafts"
	"github.com/jackzampolin/scriptcast/internal/home"
	"github.com/jackzampolin/scriptcast/internal/library"
	"github.com/jackzampolin/scriptcast/internal/narration"
	"github.com/jackzampolin/scriptcast/internal/server/endpoints"
	"github.com/jackzampolin/scriptcast/internal/svcctx"
)

// llmKeyProvider is the library API key used when the config has no LLM key.
const llmKeyProvider = "openai"

// Server is the main scriptcast HTTP server.
// It opens the library and starts the narration orchestrator on Start and
// releases both on shutdown.
type Server struct {
	httpServer *http.Server
	home       *home.Dir
	configMgr  *config.Manager
	logger     *slog.Logger

	library      *library.Library
	orchestrator *narration.Orchestrator

	// services holds all core services for context enrichment.
	// It is replaced wholesale when the config reloads.
	services atomic.Pointer[svcctx.Services]

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port string
	// Home is the scriptcast home directory (library files, audio)
	Home *home.Dir
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConfigManager == nil {
		return nil, errors.New("config manager is required")
	}
	if cfg.Home == nil {
		dir, err := home.New("")
		if err != nil {
			return nil, err
		}
		cfg.Home = dir
	}

	s := &Server{
		home:      cfg.Home,
		configMgr: cfg.ConfigManager,
		logger:    cfg.Logger,
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All() {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:        net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:     s.withServices(mux),
		ReadTimeout: 30 * time.Second,
		// Narrations started with wait=true and drafting calls run long.
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start opens the library, starts the orchestrator and serves HTTP.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.home.EnsureExists(); err != nil {
		s.setNotRunning()
		return err
	}

	cfg := s.configMgr.Get()

	s.logger.Info("opening library", "backend", cfg.Library.Backend)
	lib, err := library.Open(ctx, cfg.ToLibraryConfig(s.home.Path()), s.logger)
	if err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to open library: %w", err)
	}
	s.library = lib

	narrationCfg, err := cfg.ToNarrationConfig()
	if err != nil {
		_ = s.shutdown()
		return err
	}
	backend := narration.NewBackendClient(cfg.ToBackendConfig())
	s.orchestrator = narration.NewOrchestrator(backend, narrationCfg, s.logger)
	s.logger.Info("narration backend configured",
		"base_url", backend.BaseURL(),
		"default_provider", narrationCfg.DefaultProvider,
		"request_delay", narrationCfg.RequestDelay)

	gen, err := s.newGenerator(ctx, cfg)
	if err != nil {
		_ = s.shutdown()
		return err
	}

	// Create services struct for context enrichment
	s.services.Store(&svcctx.Services{
		Orchestrator: s.orchestrator,
		Library:      s.library,
		Drafts:       gen,
		ConfigMgr:    s.configMgr,
		Logger:       s.logger,
		Home:         s.home,
	})

	s.configMgr.OnChange(s.reload)

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// newGenerator builds the drafting client. Without a configured LLM key the
// key saved in the library under "openai" is used.
func (s *Server) newGenerator(ctx context.Context, cfg *config.Config) (*drafts.Generator, error) {
	draftsCfg := cfg.ToDraftsConfig()
	if draftsCfg.APIKey == "" && s.library != nil {
		if key, err := s.library.APIKey(ctx, llmKeyProvider); err == nil {
			draftsCfg.APIKey = key
		}
	}
	gen, err := drafts.New(draftsCfg, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create drafting client: %w", err)
	}
	if !gen.Enabled() {
		s.logger.Warn("no LLM api key configured; drafting endpoints are disabled")
	}
	return gen, nil
}

// reload applies a changed config to the running services.
func (s *Server) reload(cfg *config.Config) {
	current := s.services.Load()
	if current == nil {
		return
	}

	narrationCfg, err := cfg.ToNarrationConfig()
	if err != nil {
		s.logger.Error("ignoring narration config change", "error", err)
	} else {
		s.orchestrator.UpdateConfig(narrationCfg)
	}

	gen, err := s.newGenerator(context.Background(), cfg)
	if err != nil {
		s.logger.Error("ignoring llm config change", "error", err)
		return
	}
	next := *current
	next.Drafts = gen
	s.services.Store(&next)
	s.logger.Info("services reloaded from config")
}

// shutdown performs graceful shutdown of the HTTP server, the orchestrator
// and the library.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	// Shutdown HTTP server with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.orchestrator != nil {
		s.logger.Info("stopping narration orchestrator")
		s.orchestrator.Close()
	}

	if s.library != nil {
		if err := s.library.Close(shutdownCtx); err != nil {
			s.logger.Error("library close error", "error", err)
		}
	}

	s.services.Store(nil)
	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Orchestrator returns the narration orchestrator.
// Returns nil if the server hasn't started yet.
func (s *Server) Orchestrator() *narration.Orchestrator {
	if svc := s.services.Load(); svc != nil {
		return svc.Orchestrator
	}
	return nil
}

// Library returns the library.
// Returns nil if the server hasn't started yet.
func (s *Server) Library() *library.Library {
	if svc := s.services.Load(); svc != nil {
		return svc.Library
	}
	return nil
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc := s.services.Load(); svc != nil {
			ctx = svcctx.WithServices(ctx, svc)
		} else {
			// Config is readable before Start.
			ctx = svcctx.WithServices(ctx, &svcctx.Services{ConfigMgr: s.configMgr, Logger: s.logger, Home: s.home})
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable until the library and orchestrator are ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.services.Load() == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
