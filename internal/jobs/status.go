package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackzampolin/takeoff/internal/auth"
	"github.com/jackzampolin/takeoff/internal/types"
)

// GetJobStatus returns a snapshot of a job the caller owns.
func (o *Orchestrator) GetJobStatus(ctx context.Context, caller auth.Caller, jobID string) (*types.Job, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if err := caller.RequireOwner(job.OwnerID); err != nil {
		return nil, err
	}
	return job, nil
}

// ListJobs returns the caller's most recent jobs.
func (o *Orchestrator) ListJobs(ctx context.Context, caller auth.Caller, limit int) ([]types.Job, error) {
	owner := caller.ID
	if caller.Role == auth.RoleInternal {
		owner = ""
	}
	return o.store.ListJobs(ctx, owner, limit)
}

// ListBatches returns the batches of a job the caller owns, without their
// payloads.
func (o *Orchestrator) ListBatches(ctx context.Context, caller auth.Caller, jobID string) ([]types.Batch, error) {
	if _, err := o.GetJobStatus(ctx, caller, jobID); err != nil {
		return nil, err
	}
	batches, err := o.store.ListBatches(ctx, jobID)
	if err != nil {
		return nil, err
	}
	for i := range batches {
		batches[i].Payload = nil
	}
	return batches, nil
}

// GetJobResult returns the merged payload of a job the caller owns. A job
// with unprocessed batches returns ErrNotReady.
func (o *Orchestrator) GetJobResult(ctx context.Context, caller auth.Caller, jobID string) (json.RawMessage, error) {
	job, err := o.GetJobStatus(ctx, caller, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Merged && job.Remaining() > 0 {
		return nil, fmt.Errorf("%w: %d of %d batches remaining", ErrNotReady, job.Remaining(), job.TotalBatches)
	}
	return o.store.GetJobResult(ctx, jobID)
}
