// Package extract recovers structured takeoff payloads from raw LLM output.
//
// Model responses routinely arrive wrapped in prose or code fences, carry
// trailing commas, use single quotes, or are truncated mid-object. Extract
// walks a fixed ladder of recovery stages and always returns a usable
// result: it never errors and never panics.
package extract

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Item is one extracted takeoff line item. Only object-shaped array
// elements become items; unknown fields are preserved verbatim.
type Item map[string]any

// ID returns the item identifier, or "" when the model supplied none.
func (it Item) ID() string { return text(it["id"]) }

// Category returns the trade or discipline category.
func (it Item) Category() string { return text(it["category"]) }

// Description returns the free-text description.
func (it Item) Description() string { return text(it["description"]) }

// Unit returns the unit of measure.
func (it Item) Unit() string { return text(it["unit"]) }

// Location returns the sheet location hint.
func (it Item) Location() string { return text(it["location"]) }

// Quantity returns the measured quantity if present and numeric.
func (it Item) Quantity() (float64, bool) { return number(it["quantity"]) }

// UnitCost returns the unit cost if present and numeric.
func (it Item) UnitCost() (float64, bool) { return number(it["unit_cost"]) }

// TotalCost returns the total cost if present and numeric.
func (it Item) TotalCost() (float64, bool) { return number(it["total_cost"]) }

// Confidence returns the model's confidence for the item.
func (it Item) Confidence() (float64, bool) { return number(it["confidence"]) }

// Page returns the plan sheet page the item was read from.
func (it Item) Page() (int, bool) {
	f, ok := number(it["page"])
	if !ok {
		return 0, false
	}
	return int(f), true
}

// Clone returns a shallow copy of the item.
func (it Item) Clone() Item {
	out := make(Item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

// RiskFlag is a single risk finding. Known fields are severity, category,
// description and page; anything else is kept as-is.
type RiskFlag map[string]any

// Severity returns the raw severity label.
func (f RiskFlag) Severity() string { return text(f["severity"]) }

// Category returns the finding category.
func (f RiskFlag) Category() string { return text(f["category"]) }

// Description returns the finding text, falling back to "message".
func (f RiskFlag) Description() string {
	if d := text(f["description"]); d != "" {
		return d
	}
	return text(f["message"])
}

// Page returns the page the finding refers to.
func (f RiskFlag) Page() (int, bool) {
	v, ok := number(f["page"])
	if !ok {
		return 0, false
	}
	return int(v), true
}

// Completeness lists what the model believes is missing from the set.
type Completeness struct {
	MissingDisciplines []any  `json:"missing_disciplines"`
	MissingSheets      []any  `json:"missing_sheets"`
	Notes              string `json:"notes"`
}

// Consistency lists cross-sheet disagreements.
type Consistency struct {
	Conflicts      []any `json:"conflicts"`
	UnitMismatches []any `json:"unit_mismatches"`
	ScaleIssues    []any `json:"scale_issues"`
}

// AuditTrail records what input the analysis covered.
type AuditTrail struct {
	ChunksCovered int    `json:"chunks_covered"`
	PagesCovered  int    `json:"pages_covered"`
	Method        string `json:"method"`
}

// QualityAnalysis is the quality block attached to every payload. All four
// sections are always present.
type QualityAnalysis struct {
	Completeness Completeness `json:"completeness"`
	Consistency  Consistency  `json:"consistency"`
	RiskFlags    []RiskFlag   `json:"risk_flags"`
	AuditTrail   AuditTrail   `json:"audit_trail"`
}

// AnalysisPayload is the structured result of analyzing a set of pages.
type AnalysisPayload struct {
	Items           []Item          `json:"items"`
	QualityAnalysis QualityAnalysis `json:"quality_analysis"`
}

// ExtractionResult is what Extract returns. Repaired is false only when the
// cleaned input parsed directly.
type ExtractionResult struct {
	AnalysisPayload
	Repaired bool   `json:"repaired"`
	Notes    string `json:"notes,omitempty"`
}

// Normalize replaces nil lists with empty ones so the payload always
// serializes with arrays rather than nulls.
func (p *AnalysisPayload) Normalize() {
	if p.Items == nil {
		p.Items = []Item{}
	}
	p.QualityAnalysis.Normalize()
}

// Normalize replaces nil lists with empty ones.
func (q *QualityAnalysis) Normalize() {
	q.Completeness.MissingDisciplines = nonNil(q.Completeness.MissingDisciplines)
	q.Completeness.MissingSheets = nonNil(q.Completeness.MissingSheets)
	q.Consistency.Conflicts = nonNil(q.Consistency.Conflicts)
	q.Consistency.UnitMismatches = nonNil(q.Consistency.UnitMismatches)
	q.Consistency.ScaleIssues = nonNil(q.Consistency.ScaleIssues)
	if q.RiskFlags == nil {
		q.RiskFlags = []RiskFlag{}
	}
}

// FallbackQuality returns a quality block with every section present and
// empty, carrying note as the completeness notes.
func FallbackQuality(note string) QualityAnalysis {
	q := QualityAnalysis{
		Completeness: Completeness{Notes: note},
		AuditTrail:   AuditTrail{Method: MethodFallback},
	}
	q.Normalize()
	return q
}

// Audit trail methods.
const (
	MethodFallback = "fallback"
	MethodMerged   = "batch_merge"
)

func nonNil(v []any) []any {
	if v == nil {
		return []any{}
	}
	return v
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(t), "%")), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
