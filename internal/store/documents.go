package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackzampolin/takeoff/internal/types"
)

const documentColumns = `id, owner_id, title, reference, page_count, analysis_status,
	has_issues, issue_count, last_analysis_id, analyzed_at, created_at, updated_at`

// CreateDocument inserts a document. CreatedAt and UpdatedAt are set when zero.
func (s *Store) CreateDocument(ctx context.Context, d *types.Document) error {
	now := types.Timestamp()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	if d.AnalysisStatus == "" {
		d.AnalysisStatus = types.AnalysisPending
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.OwnerID, d.Title, d.Reference, d.PageCount, string(d.AnalysisStatus),
		d.HasIssues, d.IssueCount, d.LastAnalysisID, nullTime(d.AnalyzedAt),
		formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting document %s: %w", d.ID, err)
	}
	return nil
}

// GetDocument returns a document by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (*types.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading document %s: %w", id, err)
	}
	return d, nil
}

// UpdateDocumentStatus applies the status flags of a finished analysis.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id string, st types.DocumentStatus) error {
	now := types.Timestamp()
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET
			analysis_status = ?,
			has_issues = ?,
			issue_count = ?,
			last_analysis_id = CASE WHEN ? = '' THEN last_analysis_id ELSE ? END,
			analyzed_at = ?,
			updated_at = ?
		WHERE id = ?`,
		string(st.Status), st.IssueCount > 0, st.IssueCount,
		st.AnalysisID, st.AnalysisID,
		formatTime(now), formatTime(now), id,
	)
	if err != nil {
		return fmt.Errorf("updating document %s: %w", id, err)
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

func scanDocument(row rowScanner) (*types.Document, error) {
	var d types.Document
	var status, createdAt, updatedAt string
	var analyzedAt sql.NullString
	if err := row.Scan(&d.ID, &d.OwnerID, &d.Title, &d.Reference, &d.PageCount, &status,
		&d.HasIssues, &d.IssueCount, &d.LastAnalysisID, &analyzedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	d.AnalysisStatus = types.AnalysisStatus(status)

	var err error
	if d.AnalyzedAt, err = parseNullTime(analyzedAt); err != nil {
		return nil, err
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}
