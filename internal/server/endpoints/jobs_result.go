package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/takeoff/internal/api"
	"github.com/jackzampolin/takeoff/internal/export"
	"github.com/jackzampolin/takeoff/internal/extract"
	"github.com/jackzampolin/takeoff/internal/jobs"
	"github.com/jackzampolin/takeoff/internal/svcctx"
)

// MergeJobEndpoint handles POST /api/jobs/{job_id}/merge. It retries a
// merge that failed during the last continuation.
type MergeJobEndpoint struct{}

func (e *MergeJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return http.MethodPost, "/api/jobs/{job_id}/merge", e.handler
}

func (e *MergeJobEndpoint) Public() bool { return false }

func (e *MergeJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	o, ok := orchestratorFrom(w, r)
	if !ok {
		return
	}
	res, err := o.MergeJobResults(r.Context(), caller, chi.URLParam(r, "job_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *MergeJobEndpoint) Command(client func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "merge <job_id>",
		Short: "Merge a finished job's batch results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res jobs.MergeResult
			if err := client().Post(cmd.Context(), "/api/jobs/"+args[0]+"/merge", nil, &res); err != nil {
				return err
			}
			return api.Output(res)
		},
	}
}

// JobResultEndpoint handles GET /api/jobs/{job_id}/result.
type JobResultEndpoint struct{}

func (e *JobResultEndpoint) Route() (string, string, http.HandlerFunc) {
	return http.MethodGet, "/api/jobs/{job_id}/result", e.handler
}

func (e *JobResultEndpoint) Public() bool { return false }

func (e *JobResultEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	o, ok := orchestratorFrom(w, r)
	if !ok {
		return
	}
	raw, err := o.GetJobResult(r.Context(), caller, chi.URLParam(r, "job_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

func (e *JobResultEndpoint) Command(client func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "result <job_id>",
		Short: "Get a job's merged takeoff payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload extract.AnalysisPayload
			if err := client().Get(cmd.Context(), "/api/jobs/"+args[0]+"/result", &payload); err != nil {
				return err
			}
			return api.Output(payload)
		},
	}
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportJobEndpoint handles GET /api/jobs/{job_id}/export, returning the
// merged payload as an XLSX workbook. A copy is kept in the exports
// directory of the takeoff home.
type ExportJobEndpoint struct{}

func (e *ExportJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return http.MethodGet, "/api/jobs/{job_id}/export", e.handler
}

func (e *ExportJobEndpoint) Public() bool { return false }

func (e *ExportJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	o, ok := orchestratorFrom(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	logger := svcctx.LoggerFrom(ctx)

	job, err := o.GetJobStatus(ctx, caller, chi.URLParam(r, "job_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	raw, err := o.GetJobResult(ctx, caller, job.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var payload extract.AnalysisPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		writeServiceError(w, r, fmt.Errorf("decoding job result: %w", err))
		return
	}
	payload.Normalize()

	meta := export.Meta{JobID: job.ID, DocumentID: job.DocumentID}
	if st := svcctx.StoreFrom(ctx); st != nil {
		if doc, err := st.GetDocument(ctx, job.DocumentID); err == nil {
			meta.Title = doc.Title
		}
	}
	data, err := export.Workbook(meta, payload, logger)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if h := svcctx.HomeFrom(ctx); h != nil {
		path := h.ExportPath(job.ID)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			logger.Warn("failed to keep export copy", "path", path, "error", err)
		}
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="takeoff_%s.xlsx"`, job.ID))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (e *ExportJobEndpoint) Command(client func() *api.Client) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <job_id>",
		Short: "Download a job's takeoff as an XLSX workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := client().Download(cmd.Context(), "/api/jobs/"+args[0]+"/export")
			if err != nil {
				return err
			}
			path := out
			if path == "" {
				path = fmt.Sprintf("takeoff_%s.xlsx", args[0])
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}
			abs, _ := filepath.Abs(path)
			return api.Output(map[string]any{"path": abs, "bytes": len(data)})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default takeoff_<job_id>.xlsx)")
	return cmd
}
