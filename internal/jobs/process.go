package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackzampolin/takeoff/internal/analysis"
	"github.com/jackzampolin/takeoff/internal/auth"
	"github.com/jackzampolin/takeoff/internal/types"
)

// maxClaimConflicts bounds claim retries when another continuation wins the
// same batch.
const maxClaimConflicts = 3

// ContinueResult reports the work done by one continuation call.
type ContinueResult struct {
	JobID           string          `json:"jobId"`
	Processed       int             `json:"processed"`
	Remaining       int             `json:"remaining"`
	Status          types.JobStatus `json:"status"`
	ProgressPercent int             `json:"progressPercent"`
	Merged          bool            `json:"merged"`
	Message         string          `json:"message"`
}

// ProcessBatches advances a job by up to maxBatches batches, not starting a
// new batch once timeout has elapsed. The first batch always runs. When no
// batches remain the job becomes terminal and the merge runs; a completed
// job whose merge failed earlier is merged again. Zero values select the
// configured defaults.
func (o *Orchestrator) ProcessBatches(ctx context.Context, caller auth.Caller, jobID string, maxBatches int, timeout time.Duration) (*ContinueResult, error) {
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
	if maxBatches <= 0 {
		maxBatches = o.cfg.DefaultMaxBatches
	}
	if timeout <= 0 {
		timeout = o.cfg.DefaultTimeout
	}
	logger := o.logger.With("job_id", job.ID)

	if job.Status.Terminal() {
		if job.Status == types.JobCompleted && !job.Merged {
			o.merge(ctx, job.ID)
			if j, err := o.store.GetJob(ctx, jobID); err == nil {
				job = j
			}
		}
		return result(job, 0, fmt.Sprintf("job already %s", job.Status)), nil
	}

	if job.Status == types.JobQueued {
		started, err := o.store.StartJob(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		if started {
			logger.Info("job started", "batches", job.TotalBatches)
		}
	}

	deadline := time.Now().Add(timeout)
	processed, conflicts := 0, 0
	stop := ""
	for processed < maxBatches {
		if processed > 0 && !time.Now().Before(deadline) {
			stop = "time budget reached"
			break
		}
		b, err := o.store.ClaimBatch(ctx, job.ID, o.cfg.BatchLease)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if conflicts++; conflicts <= maxClaimConflicts {
				continue
			}
			return nil, fmt.Errorf("failed to claim batch: %w", err)
		}
		if b == nil {
			break
		}
		updated, err := o.runBatch(ctx, job, b)
		if err != nil {
			return nil, err
		}
		job = updated
		processed++
	}

	job, err = o.store.GetJob(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload job %s: %w", jobID, err)
	}
	if job.Remaining() == 0 && job.Status == types.JobRunning {
		job, err = o.finish(ctx, job)
		if err != nil {
			return nil, err
		}
	}

	msg := stop
	switch {
	case job.Status.Terminal():
		msg = fmt.Sprintf("job %s", job.Status)
	case msg == "" && processed < maxBatches:
		msg = "no batches available; remaining batches are claimed by another continuation"
	case msg == "":
		msg = "batch limit reached"
	}
	logger.Info("job continued",
		"processed", processed,
		"remaining", job.Remaining(),
		"status", job.Status,
		"progress", job.ProgressPercent)
	return result(job, processed, msg), nil
}

// runBatch analyzes one claimed batch and records its outcome. A batch whose
// analysis was cut short by ctx is left claimed for lease reclaim.
func (o *Orchestrator) runBatch(ctx context.Context, job *types.Job, b *types.Batch) (*types.Job, error) {
	logger := o.logger.With("job_id", job.ID, "batch", b.Index, "pages", fmt.Sprintf("%d-%d", b.PageStart, b.PageEnd))
	start := time.Now()

	out, err := o.analyzeBatch(ctx, job, b)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		b.Status = types.BatchFailed
		b.Error = err.Error()
		logger.Warn("batch failed", "error", err)
	} else {
		payload, merr := json.Marshal(out.Payload)
		if merr != nil {
			return nil, fmt.Errorf("encoding batch payload: %w", merr)
		}
		b.Status = types.BatchDone
		b.Payload = payload
		b.Attempts = out.Attempts
		b.Provider = out.Provider
		b.ItemCount = out.ItemCount()
		b.Repaired = out.Repaired
		b.Notes = joinNotes(out.Notes, out.Reason)
		logger.Info("batch done",
			"items", b.ItemCount,
			"attempts", b.Attempts,
			"provider", b.Provider,
			"duration", time.Since(start).Round(time.Millisecond))
	}

	// The outcome is recorded even if the caller goes away now.
	updated, err := o.store.CompleteBatch(context.WithoutCancel(ctx), b)
	if err != nil {
		return nil, fmt.Errorf("failed to record batch %d: %w", b.Index, err)
	}
	return updated, nil
}

func (o *Orchestrator) analyzeBatch(ctx context.Context, job *types.Job, b *types.Batch) (*analysis.Outcome, error) {
	pages := b.Pages()
	images, err := o.cfg.Pages.Load(ctx, job.DocumentReference, pages)
	if err != nil {
		return nil, fmt.Errorf("loading pages: %w", err)
	}
	index := b.Index
	return o.cfg.Analyzer.Run(ctx, analysis.Request{
		DocumentID: job.DocumentID,
		JobID:      job.ID,
		BatchIndex: &index,
		Mode:       job.Mode,
		Pages:      pages,
		Images:     images,
		Policy:     job.ModelPolicy,
	})
}

// finish moves a fully processed job to its terminal status. Only the caller
// whose transition succeeds runs the merge.
func (o *Orchestrator) finish(ctx context.Context, job *types.Job) (*types.Job, error) {
	batches, err := o.store.ListBatches(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	status := types.JobFailed
	for _, b := range batches {
		if b.Status == types.BatchDone {
			status = types.JobCompleted
			break
		}
	}

	won, err := o.store.FinishJob(ctx, job.ID, status)
	if err != nil {
		return nil, err
	}
	if won {
		o.logger.Info("job finished", "job_id", job.ID, "status", status, "errors", len(job.Errors))
		if status == types.JobCompleted {
			o.merge(ctx, job.ID)
		}
	}
	return o.store.GetJob(ctx, job.ID)
}

func result(job *types.Job, processed int, msg string) *ContinueResult {
	return &ContinueResult{
		JobID:           job.ID,
		Processed:       processed,
		Remaining:       job.Remaining(),
		Status:          job.Status,
		ProgressPercent: job.ProgressPercent,
		Merged:          job.Merged,
		Message:         msg,
	}
}

func joinNotes(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "; " + b
	}
}
