package jobs

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jackzampolin/takeoff/internal/extract"
)

func TestMerge(t *testing.T) {
	first := extract.AnalysisPayload{
		Items: []extract.Item{
			{"id": "door-1", "description": "door", "quantity": 2.0},
			{"description": "window", "quantity": 4.0},
		},
		QualityAnalysis: extract.QualityAnalysis{
			Completeness: extract.Completeness{MissingSheets: []any{"A-201"}, Notes: "architectural only"},
			Consistency:  extract.Consistency{Conflicts: []any{"grid B dimension"}},
			RiskFlags:    []extract.RiskFlag{{"severity": "high", "description": "no scale"}},
			AuditTrail:   extract.AuditTrail{ChunksCovered: 1, PagesCovered: 5, Method: "vision"},
		},
	}
	second := extract.AnalysisPayload{
		Items: []extract.Item{
			{"quantity": 2.0, "id": "door-1", "description": "door"},
			{"quantity": 4.0, "description": "window"},
			{"description": "stair", "quantity": 1.0},
		},
		QualityAnalysis: extract.QualityAnalysis{
			Completeness: extract.Completeness{MissingSheets: []any{"A-201", "S-101"}, Notes: "architectural only"},
			Consistency:  extract.Consistency{UnitMismatches: []any{map[string]any{"item": "slab", "units": []any{"SF", "CY"}}}},
			RiskFlags: []extract.RiskFlag{
				{"description": "no scale", "severity": "high"},
				{"severity": "low", "description": "faded stamp"},
			},
			AuditTrail: extract.AuditTrail{ChunksCovered: 1, PagesCovered: 3},
		},
	}

	got := Merge([]extract.AnalysisPayload{first, second})

	wantItems := []extract.Item{
		{"id": "door-1", "description": "door", "quantity": 2.0},
		{"description": "window", "quantity": 4.0},
		{"description": "stair", "quantity": 1.0},
	}
	if diff := cmp.Diff(wantItems, got.Items); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}

	want := extract.QualityAnalysis{
		Completeness: extract.Completeness{
			MissingDisciplines: []any{},
			MissingSheets:      []any{"A-201", "S-101"},
			Notes:              "architectural only",
		},
		Consistency: extract.Consistency{
			Conflicts:      []any{"grid B dimension"},
			UnitMismatches: []any{map[string]any{"item": "slab", "units": []any{"SF", "CY"}}},
			ScaleIssues:    []any{},
		},
		RiskFlags: []extract.RiskFlag{
			{"severity": "high", "description": "no scale"},
			{"severity": "low", "description": "faded stamp"},
		},
		AuditTrail: extract.AuditTrail{ChunksCovered: 2, PagesCovered: 8, Method: extract.MethodMerged},
	}
	if diff := cmp.Diff(want, got.QualityAnalysis); diff != "" {
		t.Errorf("quality mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_CollidingIDs(t *testing.T) {
	batch1 := extract.AnalysisPayload{Items: []extract.Item{
		{"id": "1", "description": "door"},
		{"id": "2", "description": "window"},
	}}
	batch2 := extract.AnalysisPayload{Items: []extract.Item{
		{"id": "1", "description": "footing"},
		{"id": "2", "description": "beam"},
		{"id": "2", "description": "window"},
	}}

	got := Merge([]extract.AnalysisPayload{batch1, batch2})
	want := []extract.Item{
		{"id": "1", "description": "door"},
		{"id": "2", "description": "window"},
		{"id": "1", "description": "footing"},
		{"id": "2", "description": "beam"},
	}
	if diff := cmp.Diff(want, got.Items); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_Empty(t *testing.T) {
	got := Merge(nil)
	if got.Items == nil || len(got.Items) != 0 {
		t.Errorf("Items = %#v, want empty slice", got.Items)
	}
	if got.QualityAnalysis.RiskFlags == nil || got.QualityAnalysis.AuditTrail.Method != extract.MethodMerged {
		t.Errorf("quality = %+v", got.QualityAnalysis)
	}
}
