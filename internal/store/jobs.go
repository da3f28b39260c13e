package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackzampolin/takeoff/internal/types"
)

const jobColumns = `id, document_id, document_reference, owner_id, status, mode, model_policy,
	page_start, page_end, batch_size, total_pages, total_batches, processed_batches,
	progress_percent, errors, merged, merge_error, analysis_id,
	created_at, updated_at, started_at, completed_at`

const batchColumns = `job_id, idx, page_start, page_end, status, attempts, provider,
	item_count, repaired, notes, error, payload, claimed_at, updated_at`

// CreateJob inserts a job together with its batches.
func (s *Store) CreateJob(ctx context.Context, j *types.Job, batches []types.Batch) error {
	now := types.Timestamp()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	if j.Errors == nil {
		j.Errors = []string{}
	}
	policy, err := json.Marshal(j.ModelPolicy)
	if err != nil {
		return fmt.Errorf("encoding model policy: %w", err)
	}
	errs, err := json.Marshal(j.Errors)
	if err != nil {
		return fmt.Errorf("encoding job errors: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO jobs (`+jobColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			j.ID, j.DocumentID, j.DocumentReference, j.OwnerID, string(j.Status), string(j.Mode), string(policy),
			j.PageRange.Start, j.PageRange.End, j.BatchSize, j.TotalPages, j.TotalBatches, j.ProcessedBatches,
			j.ProgressPercent, string(errs), j.Merged, j.MergeError, j.AnalysisID,
			formatTime(j.CreatedAt), formatTime(j.UpdatedAt), nullTime(j.StartedAt), nullTime(j.CompletedAt),
		); err != nil {
			return fmt.Errorf("inserting job %s: %w", j.ID, err)
		}
		for i := range batches {
			b := &batches[i]
			b.UpdatedAt = now
			if b.Status == "" {
				b.Status = types.BatchPending
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO batches (job_id, idx, page_start, page_end, status, updated_at)
				VALUES (?, ?, ?, ?, ?, ?)`,
				j.ID, b.Index, b.PageStart, b.PageEnd, string(b.Status), formatTime(now),
			); err != nil {
				return fmt.Errorf("inserting batch %d of job %s: %w", b.Index, j.ID, err)
			}
		}
		return nil
	})
}

// GetJob returns a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*types.Job, error) {
	return getJob(ctx, s.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getJob(ctx context.Context, q queryRower, id string) (*types.Job, error) {
	row := q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading job %s: %w", id, err)
	}
	return j, nil
}

// ListJobs returns a caller's jobs, newest first. An empty ownerID lists all jobs.
func (s *Store) ListJobs(ctx context.Context, ownerID string, limit int) ([]types.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs
		WHERE (? = '' OR owner_id = ?)
		ORDER BY created_at DESC LIMIT ?`, ownerID, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []types.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// CountActiveJobs returns how many of the owner's jobs are queued or running.
func (s *Store) CountActiveJobs(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs
		WHERE owner_id = ? AND status IN (?, ?)`,
		ownerID, string(types.JobQueued), string(types.JobRunning),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting active jobs: %w", err)
	}
	return n, nil
}

// StartJob moves a queued job to running. It reports false when the job was
// not queued.
func (s *Store) StartJob(ctx context.Context, id string) (bool, error) {
	now := formatTime(types.Timestamp())
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(types.JobRunning), now, now, id, string(types.JobQueued))
	if err != nil {
		return false, fmt.Errorf("starting job %s: %w", id, err)
	}
	n, err := affected(res)
	return n == 1, err
}

// FinishJob moves a running job to a terminal status. Exactly one caller
// observes true for a given job.
func (s *Store) FinishJob(ctx context.Context, id string, status types.JobStatus) (bool, error) {
	if !types.JobRunning.CanTransition(status) || !status.Terminal() {
		return false, fmt.Errorf("invalid terminal status %q", status)
	}
	now := formatTime(types.Timestamp())
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(status), now, now, id, string(types.JobRunning))
	if err != nil {
		return false, fmt.Errorf("finishing job %s: %w", id, err)
	}
	n, err := affected(res)
	return n == 1, err
}

// ClaimBatch marks the next pending batch of a job as running and returns it.
// Batches left running longer than lease are reclaimed. Returns nil when no
// batch is available.
func (s *Store) ClaimBatch(ctx context.Context, jobID string, lease time.Duration) (*types.Batch, error) {
	now := types.Timestamp()
	cutoff := formatTime(now.Add(-lease))

	var claimed *types.Batch
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches
			WHERE job_id = ? AND (status = ? OR (status = ? AND claimed_at < ?))
			ORDER BY idx ASC LIMIT 1`,
			jobID, string(types.BatchPending), string(types.BatchRunning), cutoff)
		b, err := scanBatch(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("selecting batch: %w", err)
		}

		res, err := tx.ExecContext(ctx, `UPDATE batches SET status = ?, claimed_at = ?, updated_at = ?
			WHERE job_id = ? AND idx = ? AND status = ? AND COALESCE(claimed_at, '') = ?`,
			string(types.BatchRunning), formatTime(now), formatTime(now),
			jobID, b.Index, string(b.Status), claimedKey(b.ClaimedAt))
		if err != nil {
			return fmt.Errorf("claiming batch %d: %w", b.Index, err)
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrConflict
		}
		b.Status = types.BatchRunning
		b.ClaimedAt = &now
		b.UpdatedAt = now
		claimed = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func claimedKey(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// CompleteBatch stores the outcome of a claimed batch and recomputes the
// job's progress. Failed batches count as processed and append their error
// to the job. Returns the updated job, or ErrConflict when the batch is no
// longer claimed.
func (s *Store) CompleteBatch(ctx context.Context, b *types.Batch) (*types.Job, error) {
	if b.Status != types.BatchDone && b.Status != types.BatchFailed {
		return nil, fmt.Errorf("batch status %q is not terminal", b.Status)
	}
	now := types.Timestamp()
	b.UpdatedAt = now

	var job *types.Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE batches SET
				status = ?, attempts = ?, provider = ?, item_count = ?, repaired = ?,
				notes = ?, error = ?, payload = ?, updated_at = ?
			WHERE job_id = ? AND idx = ? AND status = ?`,
			string(b.Status), b.Attempts, b.Provider, b.ItemCount, b.Repaired,
			b.Notes, b.Error, nullString(b.Payload), formatTime(now),
			b.JobID, b.Index, string(types.BatchRunning))
		if err != nil {
			return fmt.Errorf("updating batch %d: %w", b.Index, err)
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrConflict
		}

		j, err := getJob(ctx, tx, b.JobID)
		if err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM batches
			WHERE job_id = ? AND status IN (?, ?)`,
			b.JobID, string(types.BatchDone), string(types.BatchFailed),
		).Scan(&j.ProcessedBatches); err != nil {
			return fmt.Errorf("counting processed batches: %w", err)
		}
		j.UpdateProgress()
		if b.Status == types.BatchFailed {
			j.Errors = append(j.Errors, fmt.Sprintf("batch %d (pages %d-%d): %s", b.Index, b.PageStart, b.PageEnd, b.Error))
		}
		errs, err := json.Marshal(j.Errors)
		if err != nil {
			return fmt.Errorf("encoding job errors: %w", err)
		}
		j.UpdatedAt = now
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET processed_batches = ?, progress_percent = ?, errors = ?, updated_at = ?
			WHERE id = ?`,
			j.ProcessedBatches, j.ProgressPercent, string(errs), formatTime(now), j.ID); err != nil {
			return fmt.Errorf("updating job progress: %w", err)
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListBatches returns a job's batches in page order.
func (s *Store) ListBatches(ctx context.Context, jobID string) ([]types.Batch, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+batchColumns+` FROM batches
		WHERE job_id = ? ORDER BY idx ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("listing batches: %w", err)
	}
	defer rows.Close()

	var batches []types.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning batch: %w", err)
		}
		batches = append(batches, *b)
	}
	return batches, rows.Err()
}

// SaveJobResult stores the merged job payload and marks the job merged.
func (s *Store) SaveJobResult(ctx context.Context, jobID, analysisID string, payload []byte) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET merged = 1, merge_error = '', analysis_id = ?, result = ?, updated_at = ?
		WHERE id = ?`,
		analysisID, nullString(payload), formatTime(types.Timestamp()), jobID)
	if err != nil {
		return fmt.Errorf("saving job result %s: %w", jobID, err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetMergeError records a failed merge so it can be retried later.
func (s *Store) SetMergeError(ctx context.Context, jobID, msg string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET merge_error = ?, updated_at = ? WHERE id = ?`,
		msg, formatTime(types.Timestamp()), jobID)
	if err != nil {
		return fmt.Errorf("saving merge error %s: %w", jobID, err)
	}
	return nil
}

// GetJobResult returns the merged payload of a job, or ErrNotFound when the
// job has not been merged.
func (s *Store) GetJobResult(ctx context.Context, jobID string) (json.RawMessage, error) {
	var result sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT result FROM jobs WHERE id = ?`, jobID).Scan(&result)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !result.Valid) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading job result %s: %w", jobID, err)
	}
	return json.RawMessage(result.String), nil
}

func scanJob(row rowScanner) (*types.Job, error) {
	var j types.Job
	var status, mode, policy, errs, createdAt, updatedAt string
	var startedAt, completedAt sql.NullString
	if err := row.Scan(&j.ID, &j.DocumentID, &j.DocumentReference, &j.OwnerID, &status, &mode, &policy,
		&j.PageRange.Start, &j.PageRange.End, &j.BatchSize, &j.TotalPages, &j.TotalBatches, &j.ProcessedBatches,
		&j.ProgressPercent, &errs, &j.Merged, &j.MergeError, &j.AnalysisID,
		&createdAt, &updatedAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	j.Status = types.JobStatus(status)
	j.Mode = types.JobMode(mode)
	if err := json.Unmarshal([]byte(policy), &j.ModelPolicy); err != nil {
		return nil, fmt.Errorf("decoding model policy: %w", err)
	}
	if err := json.Unmarshal([]byte(errs), &j.Errors); err != nil {
		return nil, fmt.Errorf("decoding job errors: %w", err)
	}
	if j.Errors == nil {
		j.Errors = []string{}
	}

	var err error
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if j.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, err
	}
	if j.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	return &j, nil
}

func scanBatch(row rowScanner) (*types.Batch, error) {
	var b types.Batch
	var status, updatedAt string
	var payload, claimedAt sql.NullString
	if err := row.Scan(&b.JobID, &b.Index, &b.PageStart, &b.PageEnd, &status, &b.Attempts, &b.Provider,
		&b.ItemCount, &b.Repaired, &b.Notes, &b.Error, &payload, &claimedAt, &updatedAt); err != nil {
		return nil, err
	}
	b.Status = types.BatchStatus(status)
	if payload.Valid {
		b.Payload = json.RawMessage(payload.String)
	}

	var err error
	if b.ClaimedAt, err = parseNullTime(claimedAt); err != nil {
		return nil, err
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}
