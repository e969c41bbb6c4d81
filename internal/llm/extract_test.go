package llm

import (
	"encoding/json"
	"reflect"
	"testing"

	"tehais/internal/model"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  any
	}{
		{
			name:  "fenced object",
			input: "```json\n{\"a\":1}\n```",
			want:  map[string]any{"a": float64(1)},
		},
		{
			name:  "fence tag is case insensitive",
			input: "```JSON\n[1, 2]\n```",
			want:  []any{float64(1), float64(2)},
		},
		{
			name:  "bare fence",
			input: "```\n{\"ok\":true}\n```",
			want:  map[string]any{"ok": true},
		},
		{
			name:  "object embedded in prose",
			input: "Sure! Here you go: {\"a\":1} Hope that helps.",
			want:  map[string]any{"a": float64(1)},
		},
		{
			name:  "array embedded in prose",
			input: "Ranked:\n[{\"candidate_id\":\"u1\",\"score\":0.9}]\nDone.",
			want:  []any{map[string]any{"candidate_id": "u1", "score": 0.9}},
		},
		{
			name:  "array span fails then object span",
			input: "note [see below] {\"a\":1}",
			want:  map[string]any{"a": float64(1)},
		},
		{
			name:  "unparseable",
			input: "I cannot comply with this request.",
			want:  map[string]any{"raw_text": "I cannot comply with this request."},
		},
		{
			name:  "truncated json",
			input: "```json\n{\"a\": [1, 2\n```",
			want:  map[string]any{"raw_text": "{\"a\": [1, 2"},
		},
		{
			name:  "empty",
			input: "   ",
			want:  map[string]any{"raw_text": ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractJSON(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractJSON() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestExtractJSON_RoundTrip(t *testing.T) {
	values := []any{
		map[string]any{"a": float64(1), "b": "two", "c": []any{true, nil}},
		[]any{map[string]any{"id": "x"}, map[string]any{"id": "y"}},
		map[string]any{},
		[]any{},
		map[string]any{"nested": map[string]any{"list": []any{float64(1), "[", "}"}}},
	}

	for _, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if got := ExtractJSON(string(data)); !reflect.DeepEqual(got, v) {
			t.Errorf("ExtractJSON(%s) = %#v", data, got)
		}
	}
}

func TestIsRawText(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		want   string
		wantOK bool
	}{
		{"wrapper", map[string]any{"raw_text": "hello"}, "hello", true},
		{"extra keys", map[string]any{"raw_text": "hello", "a": 1}, "", false},
		{"non-string", map[string]any{"raw_text": 1}, "", false},
		{"array", []any{"raw_text"}, "", false},
		{"nil", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := IsRawText(tt.value)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("IsRawText() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	value := ExtractJSON(`{"requirements": [401, "402"], "suggested_type": "Startup", "reasoning": "fits"}`)

	var got model.PostTagSuggestion
	if err := Decode(value, &got); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !reflect.DeepEqual([]int(got.Requirements), []int{401, 402}) {
		t.Errorf("Requirements = %v", got.Requirements)
	}
	if got.SuggestedType != "Startup" {
		t.Errorf("SuggestedType = %q", got.SuggestedType)
	}
}

func TestDecodeList(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  int
	}{
		{"bare array", ExtractJSON(`[{"candidate_id":"a"},{"candidate_id":"b"}]`), 2},
		{"wrapped under candidates", ExtractJSON(`{"candidates":[{"candidate_id":"a"}]}`), 1},
		{"wrapped under results", ExtractJSON(`{"results":[{"candidate_id":"a"},{"candidate_id":"b"},{"candidate_id":"c"}]}`), 3},
		{"raw text", map[string]any{"raw_text": "nope"}, 0},
		{"object without list", ExtractJSON(`{"message":"none"}`), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []model.RankedCandidate
			if err := DecodeList(tt.value, &got, "candidates", "results"); err != nil {
				t.Fatalf("DecodeList() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
		})
	}
}
