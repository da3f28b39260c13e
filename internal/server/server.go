// Package server wires the takeoff services together and serves the HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jackzampolin/takeoff/internal/analysis"
	"github.com/jackzampolin/takeoff/internal/api"
	"github.com/jackzampolin/takeoff/internal/auth"
	"github.com/jackzampolin/takeoff/internal/config"
	"github.com/jackzampolin/takeoff/internal/home"
	"github.com/jackzampolin/takeoff/internal/jobs"
	"github.com/jackzampolin/takeoff/internal/llmcall"
	"github.com/jackzampolin/takeoff/internal/pages"
	"github.com/jackzampolin/takeoff/internal/prompts"
	"github.com/jackzampolin/takeoff/internal/providers"
	"github.com/jackzampolin/takeoff/internal/server/endpoints"
	"github.com/jackzampolin/takeoff/internal/store"
	"github.com/jackzampolin/takeoff/internal/svcctx"
)

// Server is the main takeoff HTTP server. It owns the SQLite store unless
// one is injected.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	store      *store.Store
	ownsStore  bool
	registry   *providers.Registry
	configMgr  *config.Manager
	logger     *slog.Logger

	// services holds all core services for context enrichment
	services *svcctx.Services

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host and Port override the configured listen address.
	Host string
	Port string
	// Home is the takeoff home directory (database, page cache, exports).
	Home *home.Dir
	// ConfigManager provides configuration with hot-reload support.
	// Defaults apply when nil.
	ConfigManager *config.Manager
	// Store overrides the database opened under Home (tests).
	Store *store.Store
	// Registry overrides the provider registry built from config (tests).
	Registry *providers.Registry
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a Server with all services wired.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	conf := config.DefaultConfig()
	if cfg.ConfigManager != nil {
		conf = cfg.ConfigManager.Get()
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Host == "" {
		cfg.Host = conf.Server.Host
	}
	if cfg.Port == "" {
		cfg.Port = conf.Server.Port
	}

	s := &Server{
		configMgr: cfg.ConfigManager,
		logger:    cfg.Logger,
		store:     cfg.Store,
	}

	if s.store == nil {
		if cfg.Home == nil {
			return nil, errors.New("server needs a home directory or a store")
		}
		if err := cfg.Home.EnsureExists(); err != nil {
			return nil, err
		}
		st, err := store.Open(cfg.Home.DataPath())
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		s.store = st
		s.ownsStore = true
	}

	s.registry = cfg.Registry
	if s.registry == nil {
		s.registry = providers.NewRegistryFromConfig(conf.ToProviderRegistryConfig(), cfg.Logger)
		if cfg.ConfigManager != nil {
			cfg.ConfigManager.OnChange(func(c *config.Config) {
				s.registry.Reload(c.ToProviderRegistryConfig())
				cfg.Logger.Info("provider registry reloaded from config")
			})
		}
	}

	failover := providers.NewFailover(providers.FailoverConfig{
		Registry:            s.registry,
		Order:               s.providerOrder,
		AttemptsPerProvider: conf.Defaults.AttemptsPerProvider,
		RetryDelay:          time.Duration(conf.Defaults.RetryDelayMs) * time.Millisecond,
		Logger:              cfg.Logger,
	})

	controller := analysis.NewController(analysis.Config{
		Invoker:           failover,
		Store:             s.store,
		Recorder:          llmcall.NewRecorder(s.store, cfg.Logger),
		Logger:            cfg.Logger,
		MinItems:          conf.Analysis.MinItems,
		ItemsPerImage:     conf.Analysis.ItemsPerImage,
		MaxAttempts:       conf.Analysis.MaxAttempts,
		InitialMaxTokens:  conf.Analysis.InitialMaxTokens,
		MaxTokensCap:      conf.Analysis.MaxTokensCap,
		TokenGrowth:       conf.Analysis.TokenGrowth,
		CallTimeout:       conf.Analysis.CallTimeout(),
		Temperature:       conf.Analysis.Temperature,
		ExhaustionBackoff: conf.Analysis.ExhaustionBackoff(),
	})

	pageCfg := pages.Config{
		Concurrency: conf.Pages.Concurrency,
		DPI:         conf.Pages.DPI,
		Logger:      cfg.Logger,
	}
	if cfg.Home != nil {
		pageCfg.CacheDir = cfg.Home.PageCacheDir()
	}
	loader := pages.NewLoader(pageCfg)

	orchestrator := jobs.New(jobs.Config{
		Store:                    s.store,
		Documents:                s.store,
		Analyzer:                 controller,
		Pages:                    loader,
		Logger:                   cfg.Logger,
		MaxActiveJobs:            conf.Limits.MaxActiveJobsPerCaller,
		MaxPages:                 conf.Limits.MaxPages,
		PagesPerBatch:            conf.Batch.PagesPerBatch,
		EstimatedSecondsPerBatch: conf.Batch.EstimatedSecondsPerBatch,
		BatchLease:               conf.Batch.Lease(),
		DefaultMaxBatches:        conf.Batch.MaxBatchesPerCall,
		DefaultTimeout:           conf.Batch.ContinueTimeout(),
	})

	promptReg := prompts.NewRegistry()
	analysis.RegisterPrompts(promptReg)

	s.services = &svcctx.Services{
		Store:        s.store,
		Registry:     s.registry,
		Controller:   controller,
		Orchestrator: orchestrator,
		Prompts:      promptReg,
		Pages:        loader,
		ConfigMgr:    cfg.ConfigManager,
		Home:         cfg.Home,
		Logger:       cfg.Logger,
	}

	authorizer := auth.Disabled()
	if conf.Auth.Enabled {
		authorizer = auth.NewTokenAuthorizer(conf.AuthTokens())
	} else {
		cfg.Logger.Warn("authentication disabled; every request acts as the local privileged caller")
	}

	endpointRegistry := api.NewRegistry()
	endpointRegistry.Register(endpoints.All()...)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(s.logRequests)
	router.Use(s.withServices)
	endpointRegistry.Mount(router, auth.Middleware(authorizer))
	s.handler = router

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Duration(conf.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// providerOrder returns the configured fail-over order restricted to
// registered providers, or every registered provider when none is
// configured.
func (s *Server) providerOrder() []string {
	registered := s.registry.List()
	if s.configMgr == nil {
		return registered
	}
	var order []string
	for _, name := range s.configMgr.Get().Defaults.Providers {
		if slices.Contains(registered, name) {
			order = append(order, name)
		}
	}
	if len(order) == 0 {
		return registered
	}
	return order
}

// Start serves HTTP until the context is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.store.Ping(ctx); err != nil {
		s.setNotRunning()
		return fmt.Errorf("store not reachable: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr, "providers", s.registry.List())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

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

// shutdown drains HTTP requests, then closes the store if the server owns it.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.ownsStore {
		if err := s.store.Close(); err != nil {
			s.logger.Error("store close error", "error", err)
		}
	}

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

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Services returns the wired services.
func (s *Server) Services() *svcctx.Services {
	return s.services
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(svcctx.WithServices(r.Context(), s.services)))
	})
}

// logRequests logs each request at debug level, and failures at info.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		level := slog.LevelDebug
		if ww.Status() >= 400 {
			level = slog.LevelInfo
		}
		s.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
