package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackzampolin/takeoff/internal/extract"
	"github.com/jackzampolin/takeoff/internal/types"
)

const analysisColumns = `id, document_id, job_id, provider, attempts, item_count,
	mean_confidence, repaired, notes, reason, payload, created_at`

// SaveAnalysis inserts an analysis record and its items in one transaction.
func (s *Store) SaveAnalysis(ctx context.Context, a *types.AnalysisRecord, items []extract.Item) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = types.Timestamp()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO analyses (`+analysisColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.DocumentID, a.JobID, a.Provider, a.Attempts, a.ItemCount,
			a.MeanConfidence, a.Repaired, a.Notes, a.Reason, nullString(a.Payload), formatTime(a.CreatedAt),
		); err != nil {
			return fmt.Errorf("inserting analysis %s: %w", a.ID, err)
		}

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO analysis_items (analysis_id, position, item_id, data)
			VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing item insert: %w", err)
		}
		defer stmt.Close()

		for i, item := range items {
			data, err := json.Marshal(item)
			if err != nil {
				return fmt.Errorf("encoding item %d: %w", i, err)
			}
			if _, err := stmt.ExecContext(ctx, a.ID, i, item.ID(), string(data)); err != nil {
				return fmt.Errorf("inserting item %d: %w", i, err)
			}
		}
		return nil
	})
}

// GetAnalysis returns an analysis record by ID.
func (s *Store) GetAnalysis(ctx context.Context, id string) (*types.AnalysisRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE id = ?`, id)
	var a types.AnalysisRecord
	var payload sql.NullString
	var createdAt string
	err := row.Scan(&a.ID, &a.DocumentID, &a.JobID, &a.Provider, &a.Attempts, &a.ItemCount,
		&a.MeanConfidence, &a.Repaired, &a.Notes, &a.Reason, &payload, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading analysis %s: %w", id, err)
	}
	if payload.Valid {
		a.Payload = json.RawMessage(payload.String)
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAnalysisItems returns the items of an analysis in stored order.
func (s *Store) ListAnalysisItems(ctx context.Context, analysisID string) ([]extract.Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM analysis_items
		WHERE analysis_id = ? ORDER BY position ASC`, analysisID)
	if err != nil {
		return nil, fmt.Errorf("listing analysis items: %w", err)
	}
	defer rows.Close()

	items := []extract.Item{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		var item extract.Item
		if err := json.Unmarshal([]byte(data), &item); err != nil {
			return nil, fmt.Errorf("decoding item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// SaveIssues inserts normalized quality issues.
func (s *Store) SaveIssues(ctx context.Context, issues []types.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO issues
			(id, document_id, analysis_id, severity, category, description, page, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing issue insert: %w", err)
		}
		defer stmt.Close()

		for i := range issues {
			is := &issues[i]
			if is.CreatedAt.IsZero() {
				is.CreatedAt = types.Timestamp()
			}
			var page any
			if is.Page != nil {
				page = *is.Page
			}
			if _, err := stmt.ExecContext(ctx, is.ID, is.DocumentID, is.AnalysisID, string(is.Severity),
				is.Category, is.Description, page, formatTime(is.CreatedAt)); err != nil {
				return fmt.Errorf("inserting issue %s: %w", is.ID, err)
			}
		}
		return nil
	})
}

// ListIssues returns a document's issues, most severe first.
func (s *Store) ListIssues(ctx context.Context, documentID string) ([]types.Issue, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, document_id, analysis_id, severity, category, description, page, created_at
		FROM issues WHERE document_id = ?
		ORDER BY CASE severity
			WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 WHEN 'low' THEN 3 ELSE 4
		END, created_at ASC, id ASC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("listing issues: %w", err)
	}
	defer rows.Close()

	var issues []types.Issue
	for rows.Next() {
		var is types.Issue
		var severity, createdAt string
		var page sql.NullInt64
		if err := rows.Scan(&is.ID, &is.DocumentID, &is.AnalysisID, &severity, &is.Category,
			&is.Description, &page, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning issue: %w", err)
		}
		is.Severity = types.Severity(severity)
		if page.Valid {
			p := int(page.Int64)
			is.Page = &p
		}
		if is.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		issues = append(issues, is)
	}
	return issues, rows.Err()
}
