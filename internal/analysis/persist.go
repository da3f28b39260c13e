package analysis

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/jackzampolin/takeoff/internal/extract"
	"github.com/jackzampolin/takeoff/internal/types"
)

// DefaultConfidence is assumed for items without a confidence value.
const DefaultConfidence = 0.8

// ErrNoUsableItems is returned when the retained result holds no items.
var ErrNoUsableItems = errors.New("analysis produced no usable items")

// Store persists analysis results.
type Store interface {
	SaveAnalysis(ctx context.Context, a *types.AnalysisRecord, items []extract.Item) error
	SaveIssues(ctx context.Context, issues []types.Issue) error
	UpdateDocumentStatus(ctx context.Context, id string, st types.DocumentStatus) error
}

// Persist writes an outcome: the analysis record with its items, issues
// derived from the risk flags and the document status. Items without an id
// get a generated one. Write failures are logged and do not fail the call;
// only an outcome without items returns an error (ErrNoUsableItems), after
// marking the document failed.
func (c *Controller) Persist(ctx context.Context, documentID, jobID string, out *Outcome) (*types.AnalysisRecord, error) {
	if out.ItemCount() == 0 {
		c.markFailed(ctx, documentID)
		return nil, ErrNoUsableItems
	}

	out.Payload.Items = withIDs(out.Payload.Items)
	out.Payload.Normalize()
	payload, err := json.Marshal(out.Payload)
	if err != nil {
		c.logger.Error("failed to encode analysis payload", "document_id", documentID, "error", err)
	}

	rec := &types.AnalysisRecord{
		ID:             uuid.New().String(),
		DocumentID:     documentID,
		JobID:          jobID,
		Provider:       out.Provider,
		Attempts:       out.Attempts,
		ItemCount:      out.ItemCount(),
		MeanConfidence: MeanConfidence(out.Payload.Items),
		Repaired:       out.Repaired,
		Notes:          out.Notes,
		Reason:         out.Reason,
		Payload:        payload,
		CreatedAt:      types.Timestamp(),
	}
	out.AnalysisID = rec.ID

	issues := Issues(documentID, rec.ID, out.Payload.QualityAnalysis.RiskFlags)
	if c.cfg.Store == nil {
		return rec, nil
	}

	if err := c.cfg.Store.SaveAnalysis(ctx, rec, out.Payload.Items); err != nil {
		c.logger.Error("failed to save analysis", "analysis_id", rec.ID, "document_id", documentID, "error", err)
	}
	if len(issues) > 0 {
		if err := c.cfg.Store.SaveIssues(ctx, issues); err != nil {
			c.logger.Error("failed to save issues", "analysis_id", rec.ID, "count", len(issues), "error", err)
		}
	}
	if err := c.cfg.Store.UpdateDocumentStatus(ctx, documentID, types.DocumentStatus{
		Status:     types.AnalysisCompleted,
		AnalysisID: rec.ID,
		IssueCount: len(issues),
	}); err != nil {
		c.logger.Warn("failed to update document status", "document_id", documentID, "error", err)
	}

	c.logger.Info("analysis persisted",
		"analysis_id", rec.ID,
		"document_id", documentID,
		"items", rec.ItemCount,
		"issues", len(issues),
		"mean_confidence", rec.MeanConfidence)
	return rec, nil
}

func (c *Controller) markFailed(ctx context.Context, documentID string) {
	if c.cfg.Store == nil || documentID == "" {
		return
	}
	if err := c.cfg.Store.UpdateDocumentStatus(ctx, documentID, types.DocumentStatus{Status: types.AnalysisFailed}); err != nil {
		c.logger.Warn("failed to mark document failed", "document_id", documentID, "error", err)
	}
}

// MeanConfidence averages item confidences, counting a missing value as
// DefaultConfidence. It returns 0 for no items.
func MeanConfidence(items []extract.Item) float64 {
	if len(items) == 0 {
		return 0
	}
	var sum float64
	for _, it := range items {
		conf, ok := it.Confidence()
		if !ok {
			conf = DefaultConfidence
		}
		sum += conf
	}
	return sum / float64(len(items))
}

// Issues maps every risk flag to an issue record bucketed by severity. A
// flag without a description is described by its category, or failing that
// by its JSON.
func Issues(documentID, analysisID string, flags []extract.RiskFlag) []types.Issue {
	now := types.Timestamp()
	var out []types.Issue
	for _, f := range flags {
		issue := types.Issue{
			ID:          uuid.New().String(),
			DocumentID:  documentID,
			AnalysisID:  analysisID,
			Severity:    types.ParseSeverity(f.Severity()),
			Category:    f.Category(),
			Description: flagDescription(f),
			CreatedAt:   now,
		}
		if p, ok := f.Page(); ok {
			issue.Page = &p
		}
		out = append(out, issue)
	}
	return out
}

func flagDescription(f extract.RiskFlag) string {
	if d := f.Description(); d != "" {
		return d
	}
	if c := f.Category(); c != "" {
		return c
	}
	b, err := json.Marshal(f)
	if err != nil {
		return "unspecified risk"
	}
	return string(b)
}

func withIDs(items []extract.Item) []extract.Item {
	out := make([]extract.Item, len(items))
	for i, it := range items {
		if it.ID() != "" {
			out[i] = it
			continue
		}
		clone := it.Clone()
		clone["id"] = uuid.New().String()
		out[i] = clone
	}
	return out
}
