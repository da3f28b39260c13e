package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jackzampolin/takeoff/internal/auth"
	"github.com/jackzampolin/takeoff/internal/types"
)

// ValidationError reports invalid job input. JobID is set when the job was
// recorded as failed.
type ValidationError struct {
	Field   string
	Message string
	JobID   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// BatchConfig overrides batching for one job.
type BatchConfig struct {
	PagesPerBatch int `json:"pagesPerBatch,omitempty"`
}

// CreateRequest is the input to Create.
type CreateRequest struct {
	JobID             string             `json:"jobId,omitempty"`
	DocumentID        string             `json:"documentId"`
	DocumentReference string             `json:"documentReference"`
	ModelPolicy       *types.ModelPolicy `json:"modelPolicy,omitempty"`
	BatchConfig       *BatchConfig       `json:"batchConfig,omitempty"`
	PageRange         *types.PageRange   `json:"pageRange,omitempty"`
	Mode              string             `json:"mode,omitempty"`
}

// CreateResponse summarizes a created job.
type CreateResponse struct {
	JobID            string          `json:"jobId"`
	Status           types.JobStatus `json:"status"`
	TotalBatches     int             `json:"totalBatches"`
	TotalPages       int             `json:"totalPages"`
	EstimatedMinutes int             `json:"estimatedMinutes"`
}

// Create validates a job request, enforces the caller's limits and stores
// the job with its batches. A page range beyond the page ceiling stores the
// job as failed and returns a *ValidationError.
func (o *Orchestrator) Create(ctx context.Context, caller auth.Caller, req CreateRequest) (*CreateResponse, error) {
	if err := caller.RequirePrivileged(); err != nil {
		return nil, err
	}

	mode, ok := types.ParseJobMode(req.Mode)
	if !ok {
		return nil, &ValidationError{Field: "mode", Message: fmt.Sprintf("unknown mode %q", req.Mode)}
	}
	req.DocumentID = strings.TrimSpace(req.DocumentID)
	if req.DocumentID == "" {
		return nil, &ValidationError{Field: "documentId", Message: "is required"}
	}
	if err := o.resolveDocument(ctx, caller, &req); err != nil {
		return nil, err
	}
	if req.DocumentReference == "" {
		return nil, &ValidationError{Field: "documentReference", Message: "is required"}
	}
	if req.PageRange != nil && (req.PageRange.Start < 1 || req.PageRange.End < req.PageRange.Start) {
		return nil, &ValidationError{Field: "pageRange", Message: "must satisfy 1 <= start <= end"}
	}
	batchSize := o.cfg.PagesPerBatch
	if req.BatchConfig != nil && req.BatchConfig.PagesPerBatch != 0 {
		if req.BatchConfig.PagesPerBatch < 0 {
			return nil, &ValidationError{Field: "batchConfig.pagesPerBatch", Message: "must be positive"}
		}
		batchSize = min(req.BatchConfig.PagesPerBatch, o.cfg.MaxPages)
	}

	active, err := o.store.CountActiveJobs(ctx, caller.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count active jobs: %w", err)
	}
	if active >= o.cfg.MaxActiveJobs {
		return nil, fmt.Errorf("%w: %d of %d active jobs", ErrJobLimitExceeded, active, o.cfg.MaxActiveJobs)
	}

	pageRange, err := o.pageRange(ctx, req)
	if err != nil {
		return nil, err
	}

	job := &types.Job{
		ID:                req.JobID,
		DocumentID:        req.DocumentID,
		DocumentReference: req.DocumentReference,
		OwnerID:           caller.ID,
		Status:            types.JobQueued,
		Mode:              mode,
		PageRange:         pageRange,
		BatchSize:         batchSize,
		TotalPages:        pageRange.Count(),
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if req.ModelPolicy != nil {
		job.ModelPolicy = *req.ModelPolicy
	}
	job.TotalBatches = types.BatchCount(pageRange, batchSize)

	if pageRange.End > o.cfg.MaxPages {
		verr := &ValidationError{
			Field:   "pageRange.end",
			Message: fmt.Sprintf("page %d exceeds the limit of %d pages", pageRange.End, o.cfg.MaxPages),
			JobID:   job.ID,
		}
		job.Status = types.JobFailed
		job.Errors = []string{verr.Error()}
		if err := o.store.CreateJob(ctx, job, nil); err != nil {
			o.logger.Error("failed to record rejected job", "job_id", job.ID, "error", err)
		}
		o.logger.Warn("job rejected", "job_id", job.ID, "owner_id", caller.ID, "reason", verr.Message)
		return nil, verr
	}

	batches := types.SplitBatches(job.ID, pageRange, batchSize)
	if err := o.store.CreateJob(ctx, job, batches); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	o.logger.Info("job created",
		"job_id", job.ID,
		"document_id", job.DocumentID,
		"owner_id", job.OwnerID,
		"mode", job.Mode,
		"pages", job.TotalPages,
		"batches", job.TotalBatches)

	return &CreateResponse{
		JobID:            job.ID,
		Status:           job.Status,
		TotalBatches:     job.TotalBatches,
		TotalPages:       job.TotalPages,
		EstimatedMinutes: o.EstimatedMinutes(job.TotalBatches),
	}, nil
}

// EstimatedMinutes estimates the processing time of batches, rounded up.
func (o *Orchestrator) EstimatedMinutes(batches int) int {
	secs := batches * o.cfg.EstimatedSecondsPerBatch
	return (secs + 59) / 60
}

// resolveDocument fills the reference from a registered document and checks
// the caller may use it. Unregistered documents are allowed.
func (o *Orchestrator) resolveDocument(ctx context.Context, caller auth.Caller, req *CreateRequest) error {
	if o.cfg.Documents == nil {
		return nil
	}
	doc, err := o.cfg.Documents.GetDocument(ctx, req.DocumentID)
	if err != nil || doc == nil {
		return nil
	}
	if err := caller.RequireOwner(doc.OwnerID); err != nil {
		return err
	}
	if req.DocumentReference == "" {
		req.DocumentReference = doc.Reference
	}
	return nil
}

func (o *Orchestrator) pageRange(ctx context.Context, req CreateRequest) (types.PageRange, error) {
	if req.PageRange != nil {
		return *req.PageRange, nil
	}
	if o.cfg.Pages == nil {
		return types.PageRange{}, &ValidationError{Field: "pageRange", Message: "is required"}
	}
	n, err := o.cfg.Pages.PageCount(ctx, req.DocumentReference)
	if err != nil {
		return types.PageRange{}, &ValidationError{Field: "documentReference", Message: err.Error()}
	}
	if n == 0 {
		return types.PageRange{}, &ValidationError{Field: "documentReference", Message: "document has no pages"}
	}
	return types.PageRange{Start: 1, End: n}, nil
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
