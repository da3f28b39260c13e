package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
)

// Registry holds all registered endpoints.
type Registry struct {
	endpoints []Endpoint
}

// NewRegistry creates a new endpoint registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds endpoints to the registry.
func (r *Registry) Register(eps ...Endpoint) {
	r.endpoints = append(r.endpoints, eps...)
}

// Endpoints returns all registered endpoints.
func (r *Registry) Endpoints() []Endpoint {
	return r.endpoints
}

// Mount registers every route on router. Non-public routes are wrapped in
// authn.
func (r *Registry) Mount(router chi.Router, authn func(http.Handler) http.Handler) {
	router.Group(func(pub chi.Router) {
		for _, ep := range r.endpoints {
			if ep.Public() {
				method, path, handler := ep.Route()
				pub.MethodFunc(method, path, handler)
			}
		}
	})
	router.Group(func(priv chi.Router) {
		if authn != nil {
			priv.Use(authn)
		}
		for _, ep := range r.endpoints {
			if !ep.Public() {
				method, path, handler := ep.Route()
				priv.MethodFunc(method, path, handler)
			}
		}
	})
}

// BuildCommands returns the "api" command tree. Commands are grouped by the
// first path segment after /api, so /api/jobs/{job_id} lands under
// "api jobs". A command named after its own group stays at the top level.
func (r *Registry) BuildCommands(client func() *Client) *cobra.Command {
	apiCmd := &cobra.Command{
		Use:   "api",
		Short: "Commands that call the running server",
		Long: `API commands call the running takeoff server via HTTP.

These commands require a running server (takeoff serve).
Use --server to point at another server and --token to authenticate.

Examples:
  takeoff api health
  takeoff api jobs create --document plans-1 --reference ./plans.pdf
  takeoff api jobs continue <job_id>
  takeoff api jobs drive <job_id>`,
	}

	groups := make(map[string]*cobra.Command)
	for _, ep := range r.endpoints {
		_, path, _ := ep.Route()
		cmd := ep.Command(client)
		group := commandGroup(path)
		if group == "" || cmd.Name() == group {
			apiCmd.AddCommand(cmd)
			continue
		}
		parent, ok := groups[group]
		if !ok {
			parent = &cobra.Command{Use: group, Short: "Manage " + group}
			groups[group] = parent
			apiCmd.AddCommand(parent)
		}
		parent.AddCommand(cmd)
	}

	return apiCmd
}

func commandGroup(path string) string {
	rest, ok := strings.CutPrefix(path, "/api/")
	if !ok {
		return ""
	}
	group, _, _ := strings.Cut(rest, "/")
	return group
}
