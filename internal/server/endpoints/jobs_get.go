package endpoints

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/takeoff/internal/api"
	"github.com/jackzampolin/takeoff/internal/types"
)

// GetJobEndpoint handles GET /api/jobs/{job_id}.
type GetJobEndpoint struct{}

func (e *GetJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return http.MethodGet, "/api/jobs/{job_id}", e.handler
}

func (e *GetJobEndpoint) Public() bool { return false }

func (e *GetJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	o, ok := orchestratorFrom(w, r)
	if !ok {
		return
	}
	job, err := o.GetJobStatus(r.Context(), caller, chi.URLParam(r, "job_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (e *GetJobEndpoint) Command(client func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job_id>",
		Short: "Get a job's status and progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var job types.Job
			if err := client().Get(cmd.Context(), "/api/jobs/"+args[0], &job); err != nil {
				return err
			}
			return api.Output(job)
		},
	}
}

// ListJobsResponse wraps a job listing.
type ListJobsResponse struct {
	Jobs []types.Job `json:"jobs"`
}

// ListJobsEndpoint handles GET /api/jobs.
type ListJobsEndpoint struct{}

func (e *ListJobsEndpoint) Route() (string, string, http.HandlerFunc) {
	return http.MethodGet, "/api/jobs", e.handler
}

func (e *ListJobsEndpoint) Public() bool { return false }

func (e *ListJobsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	o, ok := orchestratorFrom(w, r)
	if !ok {
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	list, err := o.ListJobs(r.Context(), caller, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []types.Job{}
	}
	writeJSON(w, http.StatusOK, ListJobsResponse{Jobs: list})
}

func (e *ListJobsEndpoint) Command(client func() *api.Client) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your most recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp ListJobsResponse
			if err := client().Get(cmd.Context(), "/api/jobs?limit="+strconv.Itoa(limit), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum jobs to list")
	return cmd
}

// ListBatchesEndpoint handles GET /api/jobs/{job_id}/batches.
type ListBatchesEndpoint struct{}

func (e *ListBatchesEndpoint) Route() (string, string, http.HandlerFunc) {
	return http.MethodGet, "/api/jobs/{job_id}/batches", e.handler
}

func (e *ListBatchesEndpoint) Public() bool { return false }

func (e *ListBatchesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	o, ok := orchestratorFrom(w, r)
	if !ok {
		return
	}
	batches, err := o.ListBatches(r.Context(), caller, chi.URLParam(r, "job_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batches)
}

func (e *ListBatchesEndpoint) Command(client func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "batches <job_id>",
		Short: "List a job's batches and their status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var batches []types.Batch
			if err := client().Get(cmd.Context(), "/api/jobs/"+args[0]+"/batches", &batches); err != nil {
				return err
			}
			return api.Output(batches)
		},
	}
}
