package extract

import "testing"

func TestRepairs(t *testing.T) {
	tests := []struct {
		name        string
		fn          func(string) (string, bool)
		in          string
		want        string
		wantChanged bool
	}{
		{"trailing comma in array", removeTrailingCommas, `[1,2,]`, `[1,2]`, true},
		{"trailing comma in object", removeTrailingCommas, "{\"a\":1 ,\n}", "{\"a\":1 \n}", true},
		{"comma inside string kept", removeTrailingCommas, `{"a":",]"}`, `{"a":",]"}`, false},
		{"missing comma before object", insertMissingCommas, `[{"a":1} {"b":2}]`, `[{"a":1}, {"b":2}]`, true},
		{"missing comma before key", insertMissingCommas, `{"a":{"x":1}"b":2}`, `{"a":{"x":1},"b":2}`, true},
		{"closer inside string ignored", insertMissingCommas, `{"a":"}{"}`, `{"a":"}{"}`, false},
		{"single quotes", normalizeSingleQuotes, `{'a':'b c'}`, `{"a":"b c"}`, true},
		{"apostrophe inside string kept", normalizeSingleQuotes, `{"a":"it's"}`, `{"a":"it's"}`, false},
		{"embedded double quote skipped", normalizeSingleQuotes, `{'a':'5" slab'}`, `{"a":'5" slab'}`, true},
		{"append missing closers", rebalance, `{"a":[1,2`, `{"a":[1,2]}`, true},
		{"drop excess closers", rebalance, `{"a":1}}]`, `{"a":1}`, true},
		{"close skipped opener", rebalance, `{"a":[1}`, `{"a":[1]}`, true},
		{"trailing comma exposed by closing", rebalance, `{"items":[{"a":1},`, `{"items":[{"a":1}]}`, true},
		{"balanced input untouched", rebalance, `{"a":"]}"}`, `{"a":"]}"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := tt.fn(tt.in)
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
			if changed != tt.wantChanged {
				t.Errorf("changed = %v, want %v", changed, tt.wantChanged)
			}
		})
	}
}

func TestFindKey(t *testing.T) {
	s := `{"note":"\"items\": fake","items": [1]}`
	at := findKey(s, "items", 0)
	if at < 0 {
		t.Fatal("key not found")
	}
	if got := s[skipSpace(s, at)]; got != '[' {
		t.Errorf("value starts with %q, want '['", got)
	}
	if findKey(s, "missing", 0) != -1 {
		t.Error("found a key that does not exist")
	}
}

func TestArrayObjects(t *testing.T) {
	s := `[{"a":"}"}, 3, "x", [1,{"n":1}], {"b":{"c":[]}}, {"d":`
	got := arrayObjects(s, 0)
	want := []string{`{"a":"}"}`, `{"b":{"c":[]}}`, `{"d":`}
	if len(got) != len(want) {
		t.Fatalf("got %d objects %q, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("object %d = %s, want %s", i, got[i], want[i])
		}
	}

	t.Run("unclosed nested object stops at the array closer", func(t *testing.T) {
		s := `[{"a":{"x":1},{"b":2}],"quality_analysis":{"notes":"n"}}`
		got := arrayObjects(s, 0)
		want := []string{`{"a":{"x":1},{"b":2}`}
		if len(got) != 1 || got[0] != want[0] {
			t.Errorf("got %q, want %q", got, want)
		}
	})
}

func TestBalancedEnd(t *testing.T) {
	tests := []struct {
		in           string
		wantEnd      int
		wantComplete bool
	}{
		{`{"a":[1,{"b":"]}"}]} tail`, 20, true},
		{`{"a":[1,2}`, 9, false},
		{`[{"a":1]`, 7, false},
		{`{"a":{"b":1}`, 12, false},
	}
	for _, tt := range tests {
		end, complete := balancedEnd(tt.in, 0)
		if end != tt.wantEnd || complete != tt.wantComplete {
			t.Errorf("balancedEnd(%s) = %d, %v, want %d, %v", tt.in, end, complete, tt.wantEnd, tt.wantComplete)
		}
	}
}

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `  {"a":1}  `, `{"a":1}`},
		{"fenced with tag", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced without tag", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around fence", "Result:\n```json\n{\"a\":1}\n```\nThanks", `{"a":1}`},
		{"unclosed fence", "```json\n{\"a\":1", `{"a":1`},
		{"inline fence", "```json{\"a\":1}```", `{"a":1}`},
		{"fence after prose on the same line", "Here you go: ```json\n{\"a\":1}\n```", `{"a":1}`},
		{"backticks inside a string value", "{\"a\":\"see ```A-101``` detail\"}", "{\"a\":\"see ```A-101``` detail\"}"},
		{"backticks inside a fenced string value", "```json\n{\"a\":\"x ``` y\"}\n```", "{\"a\":\"x ``` y\"}"},
		{"zero-width outside strings", "\ufeff{\u200b\"a\":1}\u2060", `{"a":1}`},
		{"zero-width inside strings kept", "\ufeff{\"a\":\"b\u200bc\"}", "{\"a\":\"b\u200bc\"}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.in); got != tt.want {
				t.Errorf("Clean() = %q, want %q", got, tt.want)
			}
		})
	}
}
