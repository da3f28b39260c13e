package endpoints

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/takeoff/internal/api"
	"github.com/jackzampolin/takeoff/internal/prompts"
	"github.com/jackzampolin/takeoff/internal/svcctx"
)

// ListPromptsEndpoint handles GET /api/prompts.
type ListPromptsEndpoint struct{}

func (e *ListPromptsEndpoint) Route() (string, string, http.HandlerFunc) {
	return http.MethodGet, "/api/prompts", e.handler
}

func (e *ListPromptsEndpoint) Public() bool { return false }

func (e *ListPromptsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	reg := svcctx.PromptsFrom(r.Context())
	if reg == nil {
		writeError(w, http.StatusServiceUnavailable, "prompt registry not initialized")
		return
	}
	writeJSON(w, http.StatusOK, reg.All())
}

func (e *ListPromptsEndpoint) Command(client func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the analysis prompt templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			var list []prompts.Prompt
			if err := client().Get(cmd.Context(), "/api/prompts", &list); err != nil {
				return err
			}
			return api.Output(list)
		},
	}
}

// GetPromptEndpoint handles GET /api/prompts/{key}.
type GetPromptEndpoint struct{}

func (e *GetPromptEndpoint) Route() (string, string, http.HandlerFunc) {
	return http.MethodGet, "/api/prompts/{key}", e.handler
}

func (e *GetPromptEndpoint) Public() bool { return false }

func (e *GetPromptEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	reg := svcctx.PromptsFrom(r.Context())
	if reg == nil {
		writeError(w, http.StatusServiceUnavailable, "prompt registry not initialized")
		return
	}
	p, err := reg.Get(chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (e *GetPromptEndpoint) Command(client func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Show a prompt template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p prompts.Prompt
			if err := client().Get(cmd.Context(), "/api/prompts/"+args[0], &p); err != nil {
				return err
			}
			return api.Output(p)
		},
	}
}
