package types

import "time"

// AnalysisStatus tracks the latest analysis outcome of a document.
type AnalysisStatus string

const (
	AnalysisPending   AnalysisStatus = "pending"
	AnalysisCompleted AnalysisStatus = "completed"
	AnalysisFailed    AnalysisStatus = "failed"
)

// Document is a plan set registered for analysis. Reference locates the page
// source: a PDF file or a directory of page images.
type Document struct {
	ID             string         `json:"documentId"`
	OwnerID        string         `json:"ownerId"`
	Title          string         `json:"title,omitempty"`
	Reference      string         `json:"documentReference"`
	PageCount      int            `json:"pageCount"`
	AnalysisStatus AnalysisStatus `json:"analysisStatus"`
	HasIssues      bool           `json:"hasIssues"`
	IssueCount     int            `json:"issueCount"`
	LastAnalysisID string         `json:"lastAnalysisId,omitempty"`
	AnalyzedAt     *time.Time     `json:"analyzedAt,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// DocumentStatus is the status-flag update applied after an analysis.
type DocumentStatus struct {
	Status     AnalysisStatus
	AnalysisID string
	IssueCount int
}
