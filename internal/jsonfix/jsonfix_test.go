package jsonfix

import (
	"encoding/json"
	"testing"
)

func TestRepair(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"valid", `{"a": 1}`},
		{"fenced", "```json\n{\"a\": 1}\n```"},
		{"leading prose", `Sure! Here is the script: {"a": 1} Let me know if you need more.`},
		{"trailing commas", `{"items": [1, 2, 3,], "name": "test",}`},
		{"stray letter between objects", `{"chapters": [{"id": 1} e {"id": 2}]}`},
		{"missing comma between objects", `{"chapters": [{"id": 1} {"id": 2}]}`},
		{"smart quotes", "{\u201ctitle\u201d: \u201cTest\u201d}"},
		{"bare keys", `{title: "x", nested: {id: 2}}`},
		{"raw newline in string", "{\"body\": \"line one\nline two\"}"},
		{"bom", "\ufeff{\"a\": 1}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Repair(tt.in)
			var v any
			if err := json.Unmarshal([]byte(out), &v); err != nil {
				t.Fatalf("Repair(%q) = %q, still invalid: %v", tt.in, out, err)
			}
		})
	}
}

func TestRepair_KeepsColonsInsideStrings(t *testing.T) {
	out := Repair(`{title: "Note: keep this", n: 1,}`)
	var v struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("invalid output %q: %v", out, err)
	}
	if v.Title != "Note: keep this" {
		t.Errorf("Title = %q", v.Title)
	}
}

func TestRepair_HopelessInputStaysInvalid(t *testing.T) {
	if json.Valid([]byte(Repair("no json here at all"))) {
		t.Error("prose should not become valid JSON")
	}
}
