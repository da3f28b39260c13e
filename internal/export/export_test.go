package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"

	"github.com/jackzampolin/takeoff/internal/extract"
)

func TestWorkbook(t *testing.T) {
	payload := extract.AnalysisPayload{
		Items: []extract.Item{
			{"id": "d1", "category": "Doors", "description": "hollow metal door", "quantity": 4.0, "unit": "EA", "unit_cost": 25.0, "page": 2.0},
			{"description": "slab on grade", "quantity": 120.0, "unit": "SF", "total_cost": 100.0, "confidence": 0.5, "grid": "B/3"},
		},
		QualityAnalysis: extract.QualityAnalysis{
			Completeness: extract.Completeness{MissingSheets: []any{"E-101"}, Notes: "no electrical set"},
			Consistency:  extract.Consistency{Conflicts: []any{map[string]any{"between": "A-101/S-101"}}},
			RiskFlags:    []extract.RiskFlag{{"severity": "high", "category": "structural", "description": "beam undersized", "page": 3.0}},
			AuditTrail:   extract.AuditTrail{ChunksCovered: 2, PagesCovered: 10, Method: extract.MethodMerged},
		},
	}

	data, err := Workbook(Meta{JobID: "job-1", DocumentID: "doc-1", Generated: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}, payload, nil)
	if err != nil {
		t.Fatalf("Workbook() error = %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()

	if diff := cmp.Diff([]string{SheetSummary, SheetTakeoff, SheetQuality}, f.GetSheetList()); diff != "" {
		t.Errorf("sheets mismatch (-want +got):\n%s", diff)
	}

	rows, err := f.GetRows(SheetTakeoff)
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{
		takeoffHeaders,
		{"1", "d1", "Doors", "hollow metal door", "4", "EA", "25", "100", "", "2"},
		{"2", "", "", "slab on grade", "120", "SF", "", "100", "0.5", "", "", `{"grid":"B/3"}`},
		{"", "", "", "Total", "", "", "", "200"},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("takeoff rows mismatch (-want +got):\n%s", diff)
	}

	quality, err := f.GetRows(SheetQuality)
	if err != nil {
		t.Fatal(err)
	}
	wantQuality := [][]string{
		{"Section", "Severity", "Category", "Description", "Page"},
		{"risk_flag", "high", "structural", "beam undersized", "3"},
		{"missing_sheet", "", "", "E-101"},
		{"conflict", "", "", `{"between":"A-101/S-101"}`},
		{"notes", "", "", "no electrical set"},
	}
	if diff := cmp.Diff(wantQuality, quality); diff != "" {
		t.Errorf("quality rows mismatch (-want +got):\n%s", diff)
	}

	items, _ := f.GetCellValue(SheetSummary, "B5")
	total, _ := f.GetCellValue(SheetSummary, "B6")
	method, _ := f.GetCellValue(SheetSummary, "B10")
	if items != "2" || total != "200" || method != extract.MethodMerged {
		t.Errorf("summary = items %q total %q method %q", items, total, method)
	}
}

func TestWorkbook_Empty(t *testing.T) {
	payload := extract.AnalysisPayload{QualityAnalysis: extract.FallbackQuality("")}
	data, err := Workbook(Meta{}, payload, nil)
	if err != nil {
		t.Fatal(err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, _ := f.GetRows(SheetTakeoff)
	if len(rows) != 2 {
		t.Errorf("rows = %d, want header and total", len(rows))
	}
}
