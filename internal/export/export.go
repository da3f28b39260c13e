// Package export renders analysis payloads as XLSX workbooks.
package export

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/jackzampolin/takeoff/internal/extract"
)

// Sheet names
const (
	SheetSummary = "Summary"
	SheetTakeoff = "Takeoff"
	SheetQuality = "Quality"
)

var takeoffHeaders = []string{
	"#", "ID", "Category", "Description", "Quantity", "Unit",
	"Unit Cost", "Total Cost", "Confidence", "Page", "Location", "Other",
}

// knownFields are written to their own columns; anything else goes to Other.
var knownFields = map[string]bool{
	"id": true, "category": true, "description": true, "quantity": true, "unit": true,
	"unit_cost": true, "total_cost": true, "confidence": true, "page": true, "location": true,
}

// Meta describes where a payload came from.
type Meta struct {
	JobID      string
	DocumentID string
	Title      string
	Generated  time.Time
}

// Workbook renders payload as an XLSX workbook with summary, takeoff and
// quality sheets.
func Workbook(meta Meta, payload extract.AnalysisPayload, logger *slog.Logger) ([]byte, error) {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()
	if meta.Generated.IsZero() {
		meta.Generated = time.Now().UTC()
	}

	f := excelize.NewFile()
	defer f.Close()

	// NewFile starts with "Sheet1"; rename it rather than leave it empty.
	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, fmt.Errorf("renaming sheet: %w", err)
	}
	for _, name := range []string{SheetTakeoff, SheetQuality} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("creating sheet %s: %w", name, err)
		}
	}

	total, err := writeTakeoff(f, payload.Items)
	if err != nil {
		return nil, err
	}
	findings, err := writeQuality(f, payload.QualityAnalysis)
	if err != nil {
		return nil, err
	}
	if err := writeSummary(f, meta, payload, total, findings); err != nil {
		return nil, err
	}

	if idx, err := f.GetSheetIndex(SheetTakeoff); err == nil && idx >= 0 {
		f.SetActiveSheet(idx)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	logger.Info("takeoff workbook written",
		"job_id", meta.JobID,
		"items", len(payload.Items),
		"findings", findings,
		"elapsed_ms", time.Since(start).Milliseconds())
	return buf.Bytes(), nil
}

func writeTakeoff(f *excelize.File, items []extract.Item) (float64, error) {
	if err := writeRow(f, SheetTakeoff, 1, toAny(takeoffHeaders)); err != nil {
		return 0, err
	}
	var total float64
	for i, it := range items {
		row := []any{i + 1, it.ID(), it.Category(), it.Description(), "", it.Unit(), "", "", "", "", it.Location(), other(it)}
		if q, ok := it.Quantity(); ok {
			row[4] = q
		}
		unitCost, hasUnit := it.UnitCost()
		if hasUnit {
			row[6] = unitCost
		}
		if tc, ok := lineTotal(it); ok {
			row[7] = tc
			total += tc
		}
		if c, ok := it.Confidence(); ok {
			row[8] = c
		}
		if p, ok := it.Page(); ok {
			row[9] = p
		}
		if err := writeRow(f, SheetTakeoff, i+2, row); err != nil {
			return 0, err
		}
	}
	totalRow := len(items) + 2
	if err := writeRow(f, SheetTakeoff, totalRow, []any{"", "", "", "Total", "", "", "", total}); err != nil {
		return 0, err
	}

	_ = f.SetColWidth(SheetTakeoff, "A", "A", 6)
	_ = f.SetColWidth(SheetTakeoff, "B", "C", 20)
	_ = f.SetColWidth(SheetTakeoff, "D", "D", 48)
	_ = f.SetColWidth(SheetTakeoff, "E", "J", 12)
	_ = f.SetColWidth(SheetTakeoff, "K", "K", 28)
	_ = f.SetColWidth(SheetTakeoff, "L", "L", 40)
	_ = f.SetPanes(SheetTakeoff, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
	return total, nil
}

// lineTotal returns total_cost, or quantity × unit_cost when only those are
// present.
func lineTotal(it extract.Item) (float64, bool) {
	if tc, ok := it.TotalCost(); ok {
		return tc, true
	}
	q, qok := it.Quantity()
	uc, uok := it.UnitCost()
	if qok && uok {
		return q * uc, true
	}
	return 0, false
}

func writeQuality(f *excelize.File, q extract.QualityAnalysis) (int, error) {
	if err := writeRow(f, SheetQuality, 1, []any{"Section", "Severity", "Category", "Description", "Page"}); err != nil {
		return 0, err
	}
	row := 2
	add := func(values ...any) error {
		err := writeRow(f, SheetQuality, row, values)
		row++
		return err
	}

	for _, flag := range q.RiskFlags {
		page := any("")
		if p, ok := flag.Page(); ok {
			page = p
		}
		if err := add("risk_flag", flag.Severity(), flag.Category(), flag.Description(), page); err != nil {
			return 0, err
		}
	}
	sections := []struct {
		name    string
		entries []any
	}{
		{"missing_discipline", q.Completeness.MissingDisciplines},
		{"missing_sheet", q.Completeness.MissingSheets},
		{"conflict", q.Consistency.Conflicts},
		{"unit_mismatch", q.Consistency.UnitMismatches},
		{"scale_issue", q.Consistency.ScaleIssues},
	}
	for _, s := range sections {
		for _, e := range s.entries {
			if err := add(s.name, "", "", describe(e), ""); err != nil {
				return 0, err
			}
		}
	}
	if q.Completeness.Notes != "" {
		if err := add("notes", "", "", q.Completeness.Notes, ""); err != nil {
			return 0, err
		}
	}

	_ = f.SetColWidth(SheetQuality, "A", "A", 20)
	_ = f.SetColWidth(SheetQuality, "B", "C", 14)
	_ = f.SetColWidth(SheetQuality, "D", "D", 80)
	return row - 2, nil
}

func writeSummary(f *excelize.File, meta Meta, p extract.AnalysisPayload, total float64, findings int) error {
	audit := p.QualityAnalysis.AuditTrail
	rows := [][]any{
		{"Job", meta.JobID},
		{"Document", meta.DocumentID},
		{"Title", meta.Title},
		{"Generated", meta.Generated.Format(time.RFC3339)},
		{"Items", len(p.Items)},
		{"Total Cost", total},
		{"Quality Findings", findings},
		{"Chunks Covered", audit.ChunksCovered},
		{"Pages Covered", audit.PagesCovered},
		{"Method", audit.Method},
	}
	for i, r := range rows {
		if err := writeRow(f, SheetSummary, i+1, r); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(SheetSummary, "A", "A", 20)
	_ = f.SetColWidth(SheetSummary, "B", "B", 48)
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("writing %s row %d: %w", sheet, row, err)
	}
	return nil
}

// other returns the fields without a dedicated column as compact JSON.
func other(it extract.Item) string {
	keys := make([]string, 0, len(it))
	for k := range it {
		if !knownFields[k] {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	extra := make(map[string]any, len(keys))
	for _, k := range keys {
		extra[k] = it[k]
	}
	b, err := json.Marshal(extra)
	if err != nil {
		return ""
	}
	return string(b)
}

func describe(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
