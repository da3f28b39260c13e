package types

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a batch job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Active reports whether the job counts against the caller's job limit.
func (s JobStatus) Active() bool {
	return s == JobQueued || s == JobRunning
}

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransition reports whether a job may move from s to next. Transitions
// are monotonic: queued -> running -> completed|failed, and queued -> failed.
// Staying in the same state is allowed.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case JobQueued:
		return next == JobRunning || next == JobFailed
	case JobRunning:
		return next == JobCompleted || next == JobFailed
	default:
		return false
	}
}

// JobMode selects the prompt family used for each batch.
type JobMode string

const (
	ModeTakeoff JobMode = "takeoff"
	ModeQuality JobMode = "quality"
	ModeFull    JobMode = "full"
)

// ParseJobMode returns the mode for s. An empty string selects ModeTakeoff.
func ParseJobMode(s string) (JobMode, bool) {
	switch JobMode(s) {
	case "":
		return ModeTakeoff, true
	case ModeTakeoff, ModeQuality, ModeFull:
		return JobMode(s), true
	default:
		return "", false
	}
}

// PageRange is an inclusive, 1-based range of document pages.
type PageRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Count returns the number of pages in the range.
func (r PageRange) Count() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// ModelPolicy narrows which providers and model a job uses.
type ModelPolicy struct {
	Providers   []string `json:"providers,omitempty"` // Fail-over order; empty uses the configured default
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// Job is a persisted multi-page analysis job advanced by continuation calls.
type Job struct {
	ID                string      `json:"jobId"`
	DocumentID        string      `json:"documentId"`
	DocumentReference string      `json:"documentReference"`
	OwnerID           string      `json:"ownerId"`
	Status            JobStatus   `json:"status"`
	Mode              JobMode     `json:"mode"`
	ModelPolicy       ModelPolicy `json:"modelPolicy"`
	PageRange         PageRange   `json:"pageRange"`
	BatchSize         int         `json:"batchSize"`
	TotalPages        int         `json:"totalPages"`
	TotalBatches      int         `json:"totalBatches"`
	ProcessedBatches  int         `json:"processedBatches"`
	ProgressPercent   int         `json:"progressPercent"`
	Errors            []string    `json:"errors"`
	Merged            bool        `json:"merged"`
	MergeError        string      `json:"mergeError,omitempty"`
	AnalysisID        string      `json:"analysisId,omitempty"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
	StartedAt         *time.Time  `json:"startedAt,omitempty"`
	CompletedAt       *time.Time  `json:"completedAt,omitempty"`
}

// Remaining returns the number of batches not yet processed.
func (j *Job) Remaining() int {
	return max(j.TotalBatches-j.ProcessedBatches, 0)
}

// UpdateProgress recomputes ProgressPercent from the batch counters.
func (j *Job) UpdateProgress() {
	if j.TotalBatches <= 0 {
		j.ProgressPercent = 0
		return
	}
	j.ProgressPercent = min(j.ProcessedBatches*100/j.TotalBatches, 100)
}

// BatchStatus is the processing state of one batch.
type BatchStatus string

const (
	BatchPending BatchStatus = "pending"
	BatchRunning BatchStatus = "running"
	BatchDone    BatchStatus = "done"
	BatchFailed  BatchStatus = "failed"
)

// Batch is a contiguous page subset of a job.
type Batch struct {
	JobID     string          `json:"jobId"`
	Index     int             `json:"index"`
	PageStart int             `json:"pageStart"`
	PageEnd   int             `json:"pageEnd"`
	Status    BatchStatus     `json:"status"`
	Attempts  int             `json:"attempts"`
	Provider  string          `json:"provider,omitempty"`
	ItemCount int             `json:"itemCount"`
	Repaired  bool            `json:"repaired"`
	Notes     string          `json:"notes,omitempty"`
	Error     string          `json:"error,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"` // Serialized extract.AnalysisPayload
	ClaimedAt *time.Time      `json:"claimedAt,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Pages returns the page numbers covered by the batch.
func (b *Batch) Pages() []int {
	pages := make([]int, 0, max(b.PageEnd-b.PageStart+1, 0))
	for p := b.PageStart; p <= b.PageEnd; p++ {
		pages = append(pages, p)
	}
	return pages
}

// BatchCount returns how many batches SplitBatches would produce.
func BatchCount(r PageRange, size int) int {
	if size <= 0 {
		size = 1
	}
	n := r.Count()
	return n/size + min(n%size, 1)
}

// SplitBatches divides r into batches of at most size pages, in page order.
func SplitBatches(jobID string, r PageRange, size int) []Batch {
	if size <= 0 {
		size = 1
	}
	var batches []Batch
	for start, i := r.Start, 0; start <= r.End; start, i = start+size, i+1 {
		batches = append(batches, Batch{
			JobID:     jobID,
			Index:     i,
			PageStart: start,
			PageEnd:   min(start+size-1, r.End),
			Status:    BatchPending,
		})
	}
	return batches
}
