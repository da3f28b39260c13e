package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/takeoff/internal/api"
	"github.com/jackzampolin/takeoff/internal/providers"
	"github.com/jackzampolin/takeoff/internal/svcctx"
)

// ProviderInfo describes one registered LLM provider.
type ProviderInfo struct {
	Name      string                       `json:"name"`
	RateLimit *providers.RateLimiterStatus `json:"rateLimit,omitempty"`
}

// ListProvidersResponse lists providers and the configured fail-over order.
type ListProvidersResponse struct {
	Order     []string       `json:"order"`
	Providers []ProviderInfo `json:"providers"`
}

// ListProvidersEndpoint handles GET /api/providers.
type ListProvidersEndpoint struct{}

func (e *ListProvidersEndpoint) Route() (string, string, http.HandlerFunc) {
	return http.MethodGet, "/api/providers", e.handler
}

func (e *ListProvidersEndpoint) Public() bool { return false }

func (e *ListProvidersEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	if err := caller.RequirePrivileged(); err != nil {
		writeServiceError(w, r, err)
		return
	}
	reg := svcctx.RegistryFrom(r.Context())
	if reg == nil {
		writeError(w, http.StatusServiceUnavailable, "provider registry not initialized")
		return
	}

	resp := ListProvidersResponse{Order: []string{}, Providers: []ProviderInfo{}}
	if cfg := svcctx.ConfigFrom(r.Context()); cfg != nil && len(cfg.Defaults.Providers) > 0 {
		resp.Order = cfg.Defaults.Providers
	}
	for _, name := range reg.List() {
		info := ProviderInfo{Name: name}
		if l := reg.Limiter(name); l != nil {
			st := l.Status()
			info.RateLimit = &st
		}
		resp.Providers = append(resp.Providers, info)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *ListProvidersEndpoint) Command(client func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered LLM providers and their rate limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp ListProvidersResponse
			if err := client().Get(cmd.Context(), "/api/providers", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
