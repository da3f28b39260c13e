package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jackzampolin/takeoff/internal/analysis"
	"github.com/jackzampolin/takeoff/internal/auth"
	"github.com/jackzampolin/takeoff/internal/extract"
	"github.com/jackzampolin/takeoff/internal/types"
)

// MergeResult summarizes a merged job.
type MergeResult struct {
	JobID      string                  `json:"jobId"`
	AnalysisID string                  `json:"analysisId,omitempty"`
	ItemCount  int                     `json:"itemCount"`
	Payload    extract.AnalysisPayload `json:"payload"`
}

// MergeJobResults merges the payloads of a fully processed job into the job
// result and persists it as the document's analysis. It can be repeated
// without reprocessing batches. Failures are recorded on the job.
func (o *Orchestrator) MergeJobResults(ctx context.Context, caller auth.Caller, jobID string) (*MergeResult, error) {
	if err := caller.RequirePrivileged(); err != nil {
		return nil, err
	}
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if err := caller.RequireOwner(job.OwnerID); err != nil {
		return nil, err
	}
	return o.mergeJob(ctx, job)
}

// merge runs a merge on behalf of a continuation; errors are only logged.
func (o *Orchestrator) merge(ctx context.Context, jobID string) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		o.logger.Error("merge failed", "job_id", jobID, "error", err)
		return
	}
	if _, err := o.mergeJob(ctx, job); err != nil {
		o.logger.Error("merge failed", "job_id", jobID, "error", err)
	}
}

func (o *Orchestrator) mergeJob(ctx context.Context, job *types.Job) (*MergeResult, error) {
	if job.Remaining() > 0 {
		return nil, fmt.Errorf("%w: %d of %d batches remaining", ErrNotReady, job.Remaining(), job.TotalBatches)
	}
	res, err := o.buildMerge(ctx, job)
	if err != nil {
		if serr := o.store.SetMergeError(context.WithoutCancel(ctx), job.ID, err.Error()); serr != nil {
			o.logger.Error("failed to record merge error", "job_id", job.ID, "error", serr)
		}
		return nil, err
	}
	return res, nil
}

func (o *Orchestrator) buildMerge(ctx context.Context, job *types.Job) (*MergeResult, error) {
	batches, err := o.store.ListBatches(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("listing batches: %w", err)
	}

	var parts []extract.AnalysisPayload
	var providers []string
	attempts := 0
	repaired := false
	for _, b := range batches {
		if b.Status != types.BatchDone || len(b.Payload) == 0 {
			continue
		}
		var p extract.AnalysisPayload
		if err := json.Unmarshal(b.Payload, &p); err != nil {
			return nil, fmt.Errorf("decoding batch %d payload: %w", b.Index, err)
		}
		p.QualityAnalysis.AuditTrail.ChunksCovered = 1
		p.QualityAnalysis.AuditTrail.PagesCovered = b.PageEnd - b.PageStart + 1
		parts = append(parts, p)
		attempts += b.Attempts
		repaired = repaired || b.Repaired
		if b.Provider != "" && !slices.Contains(providers, b.Provider) {
			providers = append(providers, b.Provider)
		}
	}

	merged := Merge(parts)
	out := &analysis.Outcome{
		Payload:  merged,
		Provider: strings.Join(providers, ","),
		Attempts: attempts,
		Repaired: repaired,
		Notes:    fmt.Sprintf("merged %d of %d batches", len(parts), len(batches)),
	}

	analysisID := ""
	rec, err := o.cfg.Analyzer.Persist(ctx, job.DocumentID, job.ID, out)
	switch {
	case errors.Is(err, analysis.ErrNoUsableItems):
		o.logger.Warn("merged job result has no items", "job_id", job.ID)
	case err != nil:
		return nil, fmt.Errorf("persisting merged analysis: %w", err)
	case rec != nil:
		analysisID = rec.ID
	}

	payload, err := json.Marshal(out.Payload)
	if err != nil {
		return nil, fmt.Errorf("encoding merged payload: %w", err)
	}
	if err := o.store.SaveJobResult(context.WithoutCancel(ctx), job.ID, analysisID, payload); err != nil {
		return nil, fmt.Errorf("saving job result: %w", err)
	}

	o.logger.Info("job merged",
		"job_id", job.ID,
		"analysis_id", analysisID,
		"batches", len(parts),
		"items", len(out.Payload.Items))
	return &MergeResult{
		JobID:      job.ID,
		AnalysisID: analysisID,
		ItemCount:  len(out.Payload.Items),
		Payload:    out.Payload,
	}, nil
}

// Merge combines batch payloads in order. Items are deduplicated by their
// canonical JSON; ids are only unique within one batch, so two items sharing
// an id but differing elsewhere are both kept. Quality findings are unioned,
// completeness notes joined and the audit trail summed.
func Merge(parts []extract.AnalysisPayload) extract.AnalysisPayload {
	var out extract.AnalysisPayload
	seenItems := make(map[string]bool)
	q := &out.QualityAnalysis
	var notes []string

	for _, p := range parts {
		for _, it := range p.Items {
			key := canonical(it)
			if seenItems[key] {
				continue
			}
			seenItems[key] = true
			out.Items = append(out.Items, it)
		}

		pq := p.QualityAnalysis
		q.Completeness.MissingDisciplines = union(q.Completeness.MissingDisciplines, pq.Completeness.MissingDisciplines)
		q.Completeness.MissingSheets = union(q.Completeness.MissingSheets, pq.Completeness.MissingSheets)
		q.Consistency.Conflicts = union(q.Consistency.Conflicts, pq.Consistency.Conflicts)
		q.Consistency.UnitMismatches = union(q.Consistency.UnitMismatches, pq.Consistency.UnitMismatches)
		q.Consistency.ScaleIssues = union(q.Consistency.ScaleIssues, pq.Consistency.ScaleIssues)
		q.RiskFlags = unionFlags(q.RiskFlags, pq.RiskFlags)
		if n := strings.TrimSpace(pq.Completeness.Notes); n != "" && !slices.Contains(notes, n) {
			notes = append(notes, n)
		}
		q.AuditTrail.ChunksCovered += pq.AuditTrail.ChunksCovered
		q.AuditTrail.PagesCovered += pq.AuditTrail.PagesCovered
	}

	q.Completeness.Notes = strings.Join(notes, "; ")
	q.AuditTrail.Method = extract.MethodMerged
	out.Normalize()
	return out
}

// canonical encodes v with sorted map keys.
func canonical(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func union(dst, src []any) []any {
	seen := make(map[string]bool, len(dst))
	for _, v := range dst {
		seen[canonical(v)] = true
	}
	for _, v := range src {
		k := canonical(v)
		if !seen[k] {
			seen[k] = true
			dst = append(dst, v)
		}
	}
	return dst
}

func unionFlags(dst, src []extract.RiskFlag) []extract.RiskFlag {
	seen := make(map[string]bool, len(dst))
	for _, f := range dst {
		seen[canonical(f)] = true
	}
	for _, f := range src {
		k := canonical(f)
		if !seen[k] {
			seen[k] = true
			dst = append(dst, f)
		}
	}
	return dst
}
