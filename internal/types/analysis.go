package types

import (
	"encoding/json"
	"strings"
	"time"
)

// AnalysisRecord is a persisted analysis result with its aggregate summary.
type AnalysisRecord struct {
	ID             string          `json:"analysisId"`
	DocumentID     string          `json:"documentId"`
	JobID          string          `json:"jobId,omitempty"`
	Provider       string          `json:"provider,omitempty"`
	Attempts       int             `json:"attempts"`
	ItemCount      int             `json:"itemCount"`
	MeanConfidence float64         `json:"meanConfidence"`
	Repaired       bool            `json:"repaired"`
	Notes          string          `json:"notes,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Severity buckets a quality issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// ParseSeverity converts a model-provided severity to a bucket.
// Unrecognized values map to SeverityMedium.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical", "blocker":
		return SeverityCritical
	case "high", "major", "error":
		return SeverityHigh
	case "low", "minor":
		return SeverityLow
	case "info", "informational", "note":
		return SeverityInfo
	default:
		return SeverityMedium
	}
}

// Issue is a normalized quality finding derived from a risk flag.
type Issue struct {
	ID          string    `json:"issueId"`
	DocumentID  string    `json:"documentId"`
	AnalysisID  string    `json:"analysisId"`
	Severity    Severity  `json:"severity"`
	Category    string    `json:"category,omitempty"`
	Description string    `json:"description"`
	Page        *int      `json:"page,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
