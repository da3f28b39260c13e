package endpoints

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/takeoff/internal/api"
	"github.com/jackzampolin/takeoff/internal/jobs"
)

// ContinueJobRequest is the body of a continuation call. Zero values select
// the configured defaults.
type ContinueJobRequest struct {
	MaxBatches int   `json:"maxBatches,omitempty"`
	TimeoutMs  int64 `json:"timeoutMs,omitempty"`
}

// ContinueJobEndpoint handles POST /api/jobs/{job_id}/continue.
type ContinueJobEndpoint struct{}

func (e *ContinueJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return http.MethodPost, "/api/jobs/{job_id}/continue", e.handler
}

func (e *ContinueJobEndpoint) Public() bool { return false }

func (e *ContinueJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	o, ok := orchestratorFrom(w, r)
	if !ok {
		return
	}
	var req ContinueJobRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.MaxBatches < 0 || req.TimeoutMs < 0 {
		writeJSON(w, http.StatusBadRequest, ValidationErrorResponse{
			Error: "maxBatches and timeoutMs must not be negative",
		})
		return
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	res, err := o.ProcessBatches(r.Context(), caller, chi.URLParam(r, "job_id"), req.MaxBatches, timeout)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *ContinueJobEndpoint) Command(client func() *api.Client) *cobra.Command {
	var req ContinueJobRequest
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "continue <job_id>",
		Short: "Process the next batches of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.TimeoutMs = timeout.Milliseconds()
			var res jobs.ContinueResult
			if err := client().Post(cmd.Context(), "/api/jobs/"+args[0]+"/continue", req, &res); err != nil {
				return err
			}
			return api.Output(res)
		},
	}
	cmd.Flags().IntVar(&req.MaxBatches, "max-batches", 0, "Batches to process in this call (default from config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Do not start a new batch after this long (default from config)")
	return cmd
}

// DriveCommand returns "jobs drive", which repeats continuation calls until
// the job has no batches left. It replaces an external scheduler for local
// use.
func DriveCommand(client func() *api.Client) *cobra.Command {
	var (
		req      ContinueJobRequest
		timeout  time.Duration
		interval time.Duration
		maxCalls int
	)
	cmd := &cobra.Command{
		Use:   "drive <job_id>",
		Short: "Continue a job until every batch is processed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c := client()
			req.TimeoutMs = timeout.Milliseconds()
			path := "/api/jobs/" + args[0] + "/continue"

			for call := 1; maxCalls <= 0 || call <= maxCalls; call++ {
				var res jobs.ContinueResult
				if err := c.Post(ctx, path, req, &res); err != nil {
					return fmt.Errorf("continuation %d: %w", call, err)
				}
				if err := api.Output(res); err != nil {
					return err
				}
				if res.Remaining == 0 || res.Status.Terminal() {
					return nil
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(interval):
				}
			}
			return fmt.Errorf("job %s still has batches after %d calls", args[0], maxCalls)
		},
	}
	cmd.Flags().IntVar(&req.MaxBatches, "max-batches", 0, "Batches per call (default from config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Per-call time budget (default from config)")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Pause between calls")
	cmd.Flags().IntVar(&maxCalls, "max-calls", 0, "Stop after this many calls (0 = no limit)")
	return cmd
}
