package endpoints

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/takeoff/internal/analysis"
	"github.com/jackzampolin/takeoff/internal/api"
	"github.com/jackzampolin/takeoff/internal/extract"
	"github.com/jackzampolin/takeoff/internal/store"
	"github.com/jackzampolin/takeoff/internal/svcctx"
	"github.com/jackzampolin/takeoff/internal/types"
)

// AnalyzeRequest is a single-shot analysis. Page images are sent inline
// (base64 in JSON), or loaded from the document reference when Pages is set.
type AnalyzeRequest struct {
	DocumentID        string             `json:"documentId"`
	PageImages        [][]byte           `json:"pageImages,omitempty"`
	DocumentReference string             `json:"documentReference,omitempty"`
	Pages             []int              `json:"pages,omitempty"`
	Mode              string             `json:"mode,omitempty"`
	ModelPolicy       *types.ModelPolicy `json:"modelPolicy,omitempty"`
}

// AnalyzeMeta describes how an analysis result was produced.
type AnalyzeMeta struct {
	Provider   string `json:"provider"`
	Attempts   int    `json:"attempts"`
	Repaired   bool   `json:"repaired"`
	Notes      string `json:"notes,omitempty"`
	ItemsCount int    `json:"itemsCount"`
	Threshold  int    `json:"threshold"`
	Reason     string `json:"reason,omitempty"`
	AnalysisID string `json:"analysisId,omitempty"`
}

// AnalyzeResponse is the payload plus its meta block.
type AnalyzeResponse struct {
	Items           []extract.Item          `json:"items"`
	QualityAnalysis extract.QualityAnalysis `json:"quality_analysis"`
	Meta            AnalyzeMeta             `json:"meta"`
}

// AnalyzeEndpoint handles POST /api/analyze, running the analysis
// controller directly without a job.
type AnalyzeEndpoint struct{}

func (e *AnalyzeEndpoint) Route() (string, string, http.HandlerFunc) {
	return http.MethodPost, "/api/analyze", e.handler
}

func (e *AnalyzeEndpoint) Public() bool { return false }

func (e *AnalyzeEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	if err := caller.RequirePrivileged(); err != nil {
		writeServiceError(w, r, err)
		return
	}
	ctx := r.Context()
	ctrl := svcctx.ControllerFrom(ctx)
	if ctrl == nil {
		writeError(w, http.StatusServiceUnavailable, "analysis controller not initialized")
		return
	}
	var req AnalyzeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.DocumentID == "" {
		writeJSON(w, http.StatusBadRequest, ValidationErrorResponse{Error: "documentId: is required", Field: "documentId"})
		return
	}
	mode, ok := types.ParseJobMode(req.Mode)
	if !ok {
		writeJSON(w, http.StatusBadRequest, ValidationErrorResponse{
			Error: fmt.Sprintf("mode: unknown mode %q", req.Mode), Field: "mode",
		})
		return
	}

	if st := svcctx.StoreFrom(ctx); st != nil {
		doc, err := st.GetDocument(ctx, req.DocumentID)
		switch {
		case err == nil:
			if err := caller.RequireOwner(doc.OwnerID); err != nil {
				writeServiceError(w, r, err)
				return
			}
			if req.DocumentReference == "" {
				req.DocumentReference = doc.Reference
			}
		case !errors.Is(err, store.ErrNotFound):
			writeServiceError(w, r, err)
			return
		}
	}

	images := req.PageImages
	if len(images) == 0 && len(req.Pages) > 0 && req.DocumentReference != "" {
		if cfg := svcctx.ConfigFrom(ctx); cfg != nil && len(req.Pages) > cfg.Limits.MaxPages {
			writeJSON(w, http.StatusBadRequest, ValidationErrorResponse{
				Error: fmt.Sprintf("pages: at most %d pages per analysis", cfg.Limits.MaxPages), Field: "pages",
			})
			return
		}
		loader := svcctx.PagesFrom(ctx)
		if loader == nil {
			writeError(w, http.StatusServiceUnavailable, "page loader not initialized")
			return
		}
		loaded, err := loader.Load(ctx, req.DocumentReference, req.Pages)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ValidationErrorResponse{Error: "pages: " + err.Error(), Field: "pages"})
			return
		}
		images = loaded
	}

	areq := analysis.Request{
		DocumentID: req.DocumentID,
		Mode:       mode,
		Pages:      req.Pages,
		Images:     images,
	}
	if req.ModelPolicy != nil {
		areq.Policy = *req.ModelPolicy
	}
	out, err := ctrl.Analyze(ctx, areq)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, AnalyzeResponse{
		Items:           out.Payload.Items,
		QualityAnalysis: out.Payload.QualityAnalysis,
		Meta: AnalyzeMeta{
			Provider:   out.Provider,
			Attempts:   out.Attempts,
			Repaired:   out.Repaired,
			Notes:      out.Notes,
			ItemsCount: out.ItemCount(),
			Threshold:  out.Threshold,
			Reason:     out.Reason,
			AnalysisID: out.AnalysisID,
		},
	})
}

func (e *AnalyzeEndpoint) Command(client func() *api.Client) *cobra.Command {
	var req AnalyzeRequest
	cmd := &cobra.Command{
		Use:   "analyze [image...]",
		Short: "Run a single-shot analysis on page images",
		Long: `Run one analysis without creating a job.

Pass page image files as arguments, or --pages to load pages from the
document reference (or the registered document's reference).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", path, err)
				}
				req.PageImages = append(req.PageImages, data)
			}
			var resp AnalyzeResponse
			if err := client().Post(cmd.Context(), "/api/analyze", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&req.DocumentID, "document", "", "Document ID (required)")
	cmd.Flags().StringVar(&req.DocumentReference, "reference", "", "PDF or page image directory to load --pages from")
	cmd.Flags().IntSliceVar(&req.Pages, "pages", nil, "Page numbers to analyze")
	cmd.Flags().StringVar(&req.Mode, "mode", "", "Analysis mode: takeoff, quality or full")
	cmd.MarkFlagRequired("document")
	return cmd
}
