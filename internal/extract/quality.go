package extract

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const qualitySchemaJSON = `{
  "type": "object",
  "required": ["completeness", "consistency", "risk_flags", "audit_trail"],
  "properties": {
    "completeness": {
      "type": "object",
      "required": ["missing_disciplines", "missing_sheets", "notes"],
      "properties": {
        "missing_disciplines": {"type": "array"},
        "missing_sheets": {"type": "array"},
        "notes": {"type": "string"}
      }
    },
    "consistency": {
      "type": "object",
      "required": ["conflicts", "unit_mismatches", "scale_issues"],
      "properties": {
        "conflicts": {"type": "array"},
        "unit_mismatches": {"type": "array"},
        "scale_issues": {"type": "array"}
      }
    },
    "risk_flags": {"type": "array", "items": {"type": "object"}},
    "audit_trail": {
      "type": "object",
      "required": ["chunks_covered", "pages_covered", "method"],
      "properties": {
        "chunks_covered": {"type": "integer"},
        "pages_covered": {"type": "integer"},
        "method": {"type": "string"}
      }
    }
  }
}`

// Sub-section keys looked up when quality_analysis has to be assembled
// piece by piece.
var qualitySections = []string{"completeness", "consistency", "risk_flags", "audit_trail"}

var qualitySchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("quality_analysis.json", strings.NewReader(qualitySchemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile("quality_analysis.json")
})

// decodeQuality converts a decoded quality_analysis value into the typed
// shape. Values matching the schema decode exactly; anything else is
// coerced section by section. exact reports which path was taken.
func decodeQuality(v any) (q QualityAnalysis, exact bool) {
	if schema, err := qualitySchema(); err == nil && schema.Validate(v) == nil {
		if b, err := json.Marshal(v); err == nil && json.Unmarshal(b, &q) == nil {
			q.Normalize()
			return q, true
		}
	}
	m := asMap(v)
	for _, key := range qualitySections {
		if _, ok := m[key]; ok {
			return coerceQuality(m), false
		}
	}
	return FallbackQuality("quality analysis empty"), false
}

func coerceQuality(m map[string]any) QualityAnalysis {
	comp := asMap(m["completeness"])
	cons := asMap(m["consistency"])
	audit := asMap(m["audit_trail"])

	q := QualityAnalysis{
		Completeness: Completeness{
			MissingDisciplines: asList(comp["missing_disciplines"]),
			MissingSheets:      asList(comp["missing_sheets"]),
			Notes:              text(comp["notes"]),
		},
		Consistency: Consistency{
			Conflicts:      asList(cons["conflicts"]),
			UnitMismatches: asList(cons["unit_mismatches"]),
			ScaleIssues:    asList(cons["scale_issues"]),
		},
		AuditTrail: AuditTrail{
			ChunksCovered: asCount(audit["chunks_covered"]),
			PagesCovered:  asCount(audit["pages_covered"]),
			Method:        text(audit["method"]),
		},
	}
	for _, f := range asList(m["risk_flags"]) {
		switch t := f.(type) {
		case map[string]any:
			q.RiskFlags = append(q.RiskFlags, RiskFlag(t))
		case nil:
		default:
			q.RiskFlags = append(q.RiskFlags, RiskFlag{"description": text(t)})
		}
	}
	q.Normalize()
	return q
}

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func asList(v any) []any {
	switch t := v.(type) {
	case nil:
		return []any{}
	case []any:
		return t
	default:
		return []any{t}
	}
}

// asCount reads an integer count. Lists count their elements.
func asCount(v any) int {
	switch t := v.(type) {
	case []any:
		return len(t)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0
		}
		return n
	default:
		f, ok := number(t)
		if !ok {
			return 0
		}
		return int(f)
	}
}
