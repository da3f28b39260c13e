package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Extract recovers an analysis payload from raw model output. Stages run in
// order and the first that yields a payload wins:
//
//  1. direct parse of the raw text, then clean (BOM, zero-width
//     characters, code fences)
//  2. direct parse of an object with an items array
//  3. prose removal: first '{' through last '}'
//  4. structural repair, re-parsing after each repair class
//  5. manual extraction of individual item objects and quality sections
//  6. empty fallback
//
// The result is a pure function of raw.
func Extract(raw string) ExtractionResult {
	if p, kind, note := decodePayload(strings.TrimSpace(raw)); kind == kindObject {
		return result(p, false, note)
	}

	cleaned := Clean(raw)
	if cleaned == "" {
		return fallback("empty response")
	}

	// 2: direct parse.
	if p, kind, note := decodePayload(cleaned); kind == kindObject {
		return result(p, false, note)
	} else if kind == kindArray {
		return result(p, true, joinNotes("top-level item array", note))
	}

	// 3: prose removal.
	candidate := cleaned
	if sliced := sliceObject(cleaned); sliced != "" {
		if sliced != cleaned {
			if p, kind, note := decodePayload(sliced); kind == kindObject {
				return result(p, true, joinNotes("removed surrounding prose", note))
			}
		}
		candidate = sliced
	}

	// 4: structural repair.
	var applied []string
	for _, r := range repairs {
		next, changed := r.apply(candidate)
		if !changed {
			continue
		}
		candidate = next
		applied = append(applied, r.name)
		if p, kind, note := decodePayload(candidate); kind != kindNone {
			return result(p, true, joinNotes("repaired "+strings.Join(applied, ", "), note))
		}
	}

	// 5: manual extraction.
	if p, ok, note := scanPayload(cleaned); ok {
		return result(p, true, note)
	}

	// 6: fallback.
	return fallback("no structured content recovered")
}

type payloadKind int

const (
	kindNone payloadKind = iota
	kindObject
	kindArray
)

// decodePayload parses s as a whole document. An object needs an items
// array; a top-level array is taken as the item list.
func decodePayload(s string) (AnalysisPayload, payloadKind, string) {
	var doc any
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		return AnalysisPayload{}, kindNone, ""
	}
	switch t := doc.(type) {
	case map[string]any:
		list, ok := t["items"].([]any)
		if !ok {
			return AnalysisPayload{}, kindNone, ""
		}
		items, dropped := toItems(list)
		p := AnalysisPayload{Items: items}
		var notes []string
		if dropped > 0 {
			notes = append(notes, fmt.Sprintf("dropped %d non-object items", dropped))
		}
		qa, present := t["quality_analysis"]
		switch {
		case !present || qa == nil:
			p.QualityAnalysis = FallbackQuality("quality analysis not provided")
			notes = append(notes, "quality_analysis missing")
		default:
			q, exact := decodeQuality(qa)
			p.QualityAnalysis = q
			if !exact {
				notes = append(notes, "quality_analysis normalized")
			}
		}
		return p, kindObject, strings.Join(notes, "; ")
	case []any:
		items, dropped := toItems(t)
		if len(items) == 0 {
			return AnalysisPayload{}, kindNone, ""
		}
		p := AnalysisPayload{Items: items, QualityAnalysis: FallbackQuality("quality analysis not provided")}
		note := ""
		if dropped > 0 {
			note = fmt.Sprintf("dropped %d non-object items", dropped)
		}
		return p, kindArray, note
	}
	return AnalysisPayload{}, kindNone, ""
}

// scanPayload pulls items and quality sections out of text that does not
// parse as a whole.
func scanPayload(s string) (AnalysisPayload, bool, string) {
	prepared := s
	for _, r := range repairs[:3] {
		prepared, _ = r.apply(prepared)
	}

	var notes []string
	found := false
	p := AnalysisPayload{Items: []Item{}}

	var fragments []string
	if at := findKey(prepared, "items", 0); at >= 0 {
		if j := skipSpace(prepared, at); j < len(prepared) && prepared[j] == '[' {
			fragments = arrayObjects(prepared, j)
			found = true
		}
	} else if j := skipSpace(prepared, 0); j < len(prepared) && prepared[j] == '[' {
		fragments = arrayObjects(prepared, j)
		found = true
	}
	for _, frag := range fragments {
		if m, ok := parseFragment(frag).(map[string]any); ok {
			p.Items = append(p.Items, Item(m))
		}
	}
	if found {
		notes = append(notes, fmt.Sprintf("partial extraction kept %d of %d item objects", len(p.Items), len(fragments)))
	}

	q, qNote, ok := scanQuality(prepared)
	if ok {
		found = true
		p.QualityAnalysis = q
		notes = append(notes, qNote)
	} else {
		p.QualityAnalysis = FallbackQuality("quality analysis not recovered")
	}
	return p, found, strings.Join(notes, "; ")
}

func scanQuality(s string) (QualityAnalysis, string, bool) {
	from := 0
	if at := findKey(s, "quality_analysis", 0); at >= 0 {
		if raw, ok := valueAt(s, at); ok {
			if m, ok := parseFragment(raw).(map[string]any); ok {
				q, _ := decodeQuality(m)
				return q, "quality_analysis recovered", true
			}
		}
		from = at
	}

	parts := map[string]any{}
	for _, key := range qualitySections {
		at := findKey(s, key, from)
		if at < 0 {
			continue
		}
		raw, ok := valueAt(s, at)
		if !ok {
			continue
		}
		if v := parseFragment(raw); v != nil {
			parts[key] = v
		}
	}
	if len(parts) == 0 {
		return QualityAnalysis{}, "", false
	}
	return coerceQuality(parts), fmt.Sprintf("quality_analysis assembled from %d of %d sections", len(parts), len(qualitySections)), true
}

// parseFragment parses a standalone JSON value, applying the structural
// repairs when it does not parse as-is. It returns nil on failure.
func parseFragment(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	if err := json.Unmarshal([]byte(repairAll(raw)), &v); err == nil {
		return v
	}
	return nil
}

func toItems(list []any) ([]Item, int) {
	items := make([]Item, 0, len(list))
	dropped := 0
	for _, el := range list {
		m, ok := el.(map[string]any)
		if !ok {
			dropped++
			continue
		}
		items = append(items, Item(m))
	}
	return items, dropped
}

func result(p AnalysisPayload, repaired bool, notes string) ExtractionResult {
	p.Normalize()
	return ExtractionResult{AnalysisPayload: p, Repaired: repaired, Notes: notes}
}

func fallback(note string) ExtractionResult {
	return result(AnalysisPayload{QualityAnalysis: FallbackQuality(note)}, true, note)
}

func joinNotes(notes ...string) string {
	var out []string
	for _, n := range notes {
		if n != "" {
			out = append(out, n)
		}
	}
	return strings.Join(out, "; ")
}
