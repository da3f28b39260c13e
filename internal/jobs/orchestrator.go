// Package jobs runs multi-page analysis jobs as a resumable sequence of
// batches.
//
// A job is created with its batches persisted up front. Each continuation
// call claims pending batches in page order, runs the analysis controller
// on each batch's pages and records the outcome, stopping at a batch count
// or a soft time budget. All progress lives in the store, so any process
// can continue a job after a crash. When the last batch is recorded the job
// becomes terminal and exactly one caller merges the batch payloads into the
// job result.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackzampolin/takeoff/internal/analysis"
	"github.com/jackzampolin/takeoff/internal/types"
)

// Defaults
const (
	DefaultMaxActiveJobs            = 3
	DefaultMaxPages                 = 500
	DefaultPagesPerBatch            = 5
	DefaultEstimatedSecondsPerBatch = 90
	DefaultBatchLease               = 15 * time.Minute
	DefaultMaxBatches               = 3
	DefaultContinueTimeout          = 240 * time.Second
)

var (
	// ErrJobLimitExceeded is returned when the caller already holds the
	// maximum number of active jobs.
	ErrJobLimitExceeded = errors.New("active job limit exceeded")
	// ErrNotReady is returned when merging a job with unprocessed batches.
	ErrNotReady = errors.New("job has unprocessed batches")
)

// Store is the job persistence the orchestrator needs.
type Store interface {
	CreateJob(ctx context.Context, j *types.Job, batches []types.Batch) error
	GetJob(ctx context.Context, id string) (*types.Job, error)
	ListJobs(ctx context.Context, ownerID string, limit int) ([]types.Job, error)
	CountActiveJobs(ctx context.Context, ownerID string) (int, error)
	StartJob(ctx context.Context, id string) (bool, error)
	FinishJob(ctx context.Context, id string, status types.JobStatus) (bool, error)
	ClaimBatch(ctx context.Context, jobID string, lease time.Duration) (*types.Batch, error)
	CompleteBatch(ctx context.Context, b *types.Batch) (*types.Job, error)
	ListBatches(ctx context.Context, jobID string) ([]types.Batch, error)
	SaveJobResult(ctx context.Context, jobID, analysisID string, payload []byte) error
	SetMergeError(ctx context.Context, jobID, msg string) error
	GetJobResult(ctx context.Context, jobID string) (json.RawMessage, error)
}

// Documents looks up registered documents.
type Documents interface {
	GetDocument(ctx context.Context, id string) (*types.Document, error)
}

// Analyzer runs and persists page-set analyses.
type Analyzer interface {
	Run(ctx context.Context, req analysis.Request) (*analysis.Outcome, error)
	Persist(ctx context.Context, documentID, jobID string, out *analysis.Outcome) (*types.AnalysisRecord, error)
}

// PageLoader counts and loads the pages behind a document reference.
type PageLoader interface {
	PageCount(ctx context.Context, ref string) (int, error)
	Load(ctx context.Context, ref string, pages []int) ([][]byte, error)
}

// Config configures an Orchestrator.
type Config struct {
	Store     Store
	Documents Documents // Optional
	Analyzer  Analyzer
	Pages     PageLoader
	Logger    *slog.Logger

	MaxActiveJobs            int
	MaxPages                 int
	PagesPerBatch            int
	EstimatedSecondsPerBatch int
	BatchLease               time.Duration
	DefaultMaxBatches        int
	DefaultTimeout           time.Duration
}

// Orchestrator creates and advances batch jobs.
type Orchestrator struct {
	cfg    Config
	store  Store
	logger *slog.Logger
}

// New creates an orchestrator, applying defaults for unset limits.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxActiveJobs <= 0 {
		cfg.MaxActiveJobs = DefaultMaxActiveJobs
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.PagesPerBatch <= 0 {
		cfg.PagesPerBatch = DefaultPagesPerBatch
	}
	if cfg.EstimatedSecondsPerBatch <= 0 {
		cfg.EstimatedSecondsPerBatch = DefaultEstimatedSecondsPerBatch
	}
	if cfg.BatchLease <= 0 {
		cfg.BatchLease = DefaultBatchLease
	}
	if cfg.DefaultMaxBatches <= 0 {
		cfg.DefaultMaxBatches = DefaultMaxBatches
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultContinueTimeout
	}
	return &Orchestrator{cfg: cfg, store: cfg.Store, logger: cfg.Logger}
}
