// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/jackzampolin/takeoff/internal/analysis"
	"github.com/jackzampolin/takeoff/internal/config"
	"github.com/jackzampolin/takeoff/internal/home"
	"github.com/jackzampolin/takeoff/internal/jobs"
	"github.com/jackzampolin/takeoff/internal/pages"
	"github.com/jackzampolin/takeoff/internal/prompts"
	"github.com/jackzampolin/takeoff/internal/providers"
	"github.com/jackzampolin/takeoff/internal/store"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Store        *store.Store
	Registry     *providers.Registry
	Controller   *analysis.Controller
	Orchestrator *jobs.Orchestrator
	Prompts      *prompts.Registry
	Pages        *pages.Loader
	ConfigMgr    *config.Manager
	Home         *home.Dir
	Logger       *slog.Logger
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// StoreFrom extracts the SQLite store from context.
func StoreFrom(ctx context.Context) *store.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Store
	}
	return nil
}

// RegistryFrom extracts the provider registry from context.
func RegistryFrom(ctx context.Context) *providers.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Registry
	}
	return nil
}

// ControllerFrom extracts the analysis controller from context.
func ControllerFrom(ctx context.Context) *analysis.Controller {
	if s := ServicesFrom(ctx); s != nil {
		return s.Controller
	}
	return nil
}

// OrchestratorFrom extracts the job orchestrator from context.
func OrchestratorFrom(ctx context.Context) *jobs.Orchestrator {
	if s := ServicesFrom(ctx); s != nil {
		return s.Orchestrator
	}
	return nil
}

// PromptsFrom extracts the prompt registry from context.
func PromptsFrom(ctx context.Context) *prompts.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Prompts
	}
	return nil
}

// PagesFrom extracts the page loader from context.
func PagesFrom(ctx context.Context) *pages.Loader {
	if s := ServicesFrom(ctx); s != nil {
		return s.Pages
	}
	return nil
}

// ConfigFrom returns the current configuration, or nil.
func ConfigFrom(ctx context.Context) *config.Config {
	if s := ServicesFrom(ctx); s != nil && s.ConfigMgr != nil {
		return s.ConfigMgr.Get()
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil && s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}
