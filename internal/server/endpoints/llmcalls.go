package endpoints

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/takeoff/internal/api"
	"github.com/jackzampolin/takeoff/internal/auth"
	"github.com/jackzampolin/takeoff/internal/llmcall"
	"github.com/jackzampolin/takeoff/internal/metrics"
	"github.com/jackzampolin/takeoff/internal/store"
)

// ListLLMCallsResponse wraps recorded LLM calls.
type ListLLMCallsResponse struct {
	Calls []llmcall.Call `json:"calls"`
}

// ListLLMCallsEndpoint handles GET /api/llmcalls. Callers see the calls of
// a job or document they own; unfiltered listings need the internal role.
type ListLLMCallsEndpoint struct{}

func (e *ListLLMCallsEndpoint) Route() (string, string, http.HandlerFunc) {
	return http.MethodGet, "/api/llmcalls", e.handler
}

func (e *ListLLMCallsEndpoint) Public() bool { return false }

func (e *ListLLMCallsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st, filter, ok := authorizedCallFilter(w, r)
	if !ok {
		return
	}
	calls, err := st.ListLLMCalls(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if calls == nil {
		calls = []llmcall.Call{}
	}
	writeJSON(w, http.StatusOK, ListLLMCallsResponse{Calls: calls})
}

func (e *ListLLMCallsEndpoint) Command(client func() *api.Client) *cobra.Command {
	var f callFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded LLM calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp ListLLMCallsResponse
			if err := client().Get(cmd.Context(), f.path("/api/llmcalls"), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	f.register(cmd)
	cmd.Flags().IntVar(&f.limit, "limit", 0, "Maximum calls to list (default 100)")
	return cmd
}

// LLMCallSummaryEndpoint handles GET /api/llmcalls/summary: cost, token and
// latency statistics over the calls the filter selects.
type LLMCallSummaryEndpoint struct{}

func (e *LLMCallSummaryEndpoint) Route() (string, string, http.HandlerFunc) {
	return http.MethodGet, "/api/llmcalls/summary", e.handler
}

func (e *LLMCallSummaryEndpoint) Public() bool { return false }

func (e *LLMCallSummaryEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st, filter, ok := authorizedCallFilter(w, r)
	if !ok {
		return
	}
	summary, err := metrics.NewQuery(st).Summary(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (e *LLMCallSummaryEndpoint) Command(client func() *api.Client) *cobra.Command {
	var f callFlags
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize LLM call cost, tokens and latency",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp metrics.Summary
			if err := client().Get(cmd.Context(), f.path("/api/llmcalls/summary"), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	f.register(cmd)
	return cmd
}

type callFlags struct {
	jobID, documentID, provider string
	limit                       int
}

func (f *callFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.jobID, "job", "", "Filter by job ID")
	cmd.Flags().StringVar(&f.documentID, "document", "", "Filter by document ID")
	cmd.Flags().StringVar(&f.provider, "provider", "", "Filter by provider")
}

func (f *callFlags) path(base string) string {
	q := url.Values{}
	for k, v := range map[string]string{"jobId": f.jobID, "documentId": f.documentID, "provider": f.provider} {
		if v != "" {
			q.Set(k, v)
		}
	}
	if f.limit > 0 {
		q.Set("limit", strconv.Itoa(f.limit))
	}
	if len(q) == 0 {
		return base
	}
	return base + "?" + q.Encode()
}

// authorizedCallFilter parses the call filter from the query string and
// checks the caller may see the calls it selects.
func authorizedCallFilter(w http.ResponseWriter, r *http.Request) (*store.Store, llmcall.QueryFilter, bool) {
	var filter llmcall.QueryFilter
	caller, ok := callerFrom(w, r)
	if !ok {
		return nil, filter, false
	}
	st, ok := storeFrom(w, r)
	if !ok {
		return nil, filter, false
	}
	ctx := r.Context()
	q := r.URL.Query()
	filter = llmcall.QueryFilter{
		DocumentID: q.Get("documentId"),
		JobID:      q.Get("jobId"),
		PromptKey:  q.Get("promptKey"),
		Provider:   q.Get("provider"),
	}
	if v := q.Get("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "success must be true or false")
			return nil, filter, false
		}
		filter.Success = &b
	}
	if v := q.Get("after"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after must be an RFC 3339 timestamp")
			return nil, filter, false
		}
		filter.After = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return nil, filter, false
		}
		filter.Limit = n
	}

	switch {
	case filter.JobID != "":
		o, ok := orchestratorFrom(w, r)
		if !ok {
			return nil, filter, false
		}
		if _, err := o.GetJobStatus(ctx, caller, filter.JobID); err != nil {
			writeServiceError(w, r, err)
			return nil, filter, false
		}
	case filter.DocumentID != "":
		doc, err := st.GetDocument(ctx, filter.DocumentID)
		if err == nil {
			err = caller.RequireOwner(doc.OwnerID)
		}
		if err != nil {
			writeServiceError(w, r, err)
			return nil, filter, false
		}
	case caller.Role != auth.RoleInternal:
		writeServiceError(w, r, auth.ErrForbidden)
		return nil, filter, false
	}
	return st, filter, true
}
