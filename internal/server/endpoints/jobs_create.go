package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/takeoff/internal/api"
	"github.com/jackzampolin/takeoff/internal/jobs"
	"github.com/jackzampolin/takeoff/internal/types"
)

// CreateJobEndpoint handles POST /api/jobs.
type CreateJobEndpoint struct{}

func (e *CreateJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return http.MethodPost, "/api/jobs", e.handler
}

func (e *CreateJobEndpoint) Public() bool { return false }

// handler creates a batch job. Validation failures return 400 with the
// offending field; a page range beyond the ceiling also carries the jobId
// of the job recorded as failed.
func (e *CreateJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	o, ok := orchestratorFrom(w, r)
	if !ok {
		return
	}
	var req jobs.CreateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	resp, err := o.Create(r.Context(), caller, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (e *CreateJobEndpoint) Command(client func() *api.Client) *cobra.Command {
	var (
		req        jobs.CreateRequest
		start, end int
		batchSize  int
		providers  []string
		model      string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a batch takeoff job",
		Long: `Create a batch job over a document's pages.

The job is split into batches of --batch-size pages. Advance it with
"takeoff api jobs continue <job_id>" or "takeoff api jobs drive <job_id>".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if start > 0 || end > 0 {
				start = max(start, 1)
				req.PageRange = &types.PageRange{Start: start, End: end}
			}
			if batchSize > 0 {
				req.BatchConfig = &jobs.BatchConfig{PagesPerBatch: batchSize}
			}
			if len(providers) > 0 || model != "" {
				req.ModelPolicy = &types.ModelPolicy{Providers: providers, Model: model}
			}
			var resp jobs.CreateResponse
			if err := client().Post(cmd.Context(), "/api/jobs", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&req.JobID, "id", "", "Job ID (default: generated)")
	cmd.Flags().StringVar(&req.DocumentID, "document", "", "Document ID (required)")
	cmd.Flags().StringVar(&req.DocumentReference, "reference", "", "PDF or page image directory (default: the registered document's)")
	cmd.Flags().StringVar(&req.Mode, "mode", "", "Analysis mode: takeoff, quality or full")
	cmd.Flags().IntVar(&start, "start", 0, "First page (default 1)")
	cmd.Flags().IntVar(&end, "end", 0, "Last page (default: last page of the document)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Pages per batch (default from config)")
	cmd.Flags().StringSliceVar(&providers, "providers", nil, "Provider fail-over order")
	cmd.Flags().StringVar(&model, "model", "", "Model override")
	cmd.MarkFlagRequired("document")
	return cmd
}
