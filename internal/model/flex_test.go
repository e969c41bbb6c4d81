package model

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestStringArray_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		want    StringArray
		wantErr bool
	}{
		{name: "Array of strings", json: `["foo", "bar"]`, want: StringArray{"foo", "bar"}},
		{name: "Single string", json: `"baz"`, want: StringArray{"baz"}},
		{name: "Empty array", json: `[]`, want: StringArray{}},
		{name: "Invalid type (number)", json: `123`, wantErr: true},
		{name: "Invalid type (object)", json: `{"a": 1}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sa StringArray
			err := json.Unmarshal([]byte(tt.json), &sa)
			if (err != nil) != tt.wantErr {
				t.Errorf("UnmarshalJSON() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && !reflect.DeepEqual(sa, tt.want) {
				t.Errorf("UnmarshalJSON() got = %v, want %v", sa, tt.want)
			}
		})
	}
}

func TestFlexInt_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		want    FlexInt
		wantErr bool
	}{
		{name: "Integer", json: `306`, want: 306},
		{name: "Integral float", json: `306.0`, want: 306},
		{name: "Numeric string", json: `"318"`, want: 318},
		{name: "Padded numeric string", json: `" 42 "`, want: 42},
		{name: "Fraction", json: `1.5`, wantErr: true},
		{name: "Word", json: `"python"`, wantErr: true},
		{name: "Bool", json: `true`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got FlexInt
			err := json.Unmarshal([]byte(tt.json), &got)
			if (err != nil) != tt.wantErr {
				t.Fatalf("UnmarshalJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("UnmarshalJSON() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIntList_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		want    IntList
		wantErr bool
	}{
		{name: "Mixed array", json: `[401, "402", 403.0]`, want: IntList{401, 402, 403}},
		{name: "Single value", json: `"7"`, want: IntList{7}},
		{name: "Empty array", json: `[]`, want: IntList{}},
		{name: "Null", json: `null`, want: nil},
		{name: "Object", json: `{"id": 1}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got IntList
			err := json.Unmarshal([]byte(tt.json), &got)
			if (err != nil) != tt.wantErr {
				t.Fatalf("UnmarshalJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("UnmarshalJSON() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRankedCandidate_Unmarshal(t *testing.T) {
	jsonStr := `{"candidate_id": 12345, "score": "0.85", "reason": "Strong Go background"}`

	var rc RankedCandidate
	if err := json.Unmarshal([]byte(jsonStr), &rc); err != nil {
		t.Fatalf("Failed to unmarshal RankedCandidate: %v", err)
	}
	if rc.CandidateID != "12345" {
		t.Errorf("CandidateID = %q, want %q", rc.CandidateID, "12345")
	}
	if rc.Score != 0.85 {
		t.Errorf("Score = %v, want 0.85", rc.Score)
	}
}

func TestUserTagSuggestion_RawTextFallback(t *testing.T) {
	var s UserTagSuggestion
	if err := json.Unmarshal([]byte(`{"raw_text": "I cannot comply with this request."}`), &s); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if s.RawText != "I cannot comply with this request." {
		t.Errorf("RawText = %q", s.RawText)
	}
	if len(s.SkillTags) != 0 || s.MajorID != nil {
		t.Errorf("expected empty suggestion, got %+v", s)
	}
}

func TestUser_TagIDs(t *testing.T) {
	u := User{
		SkillTags: []SkillTag{{TagID: 306}, {TagID: 318}},
		DevTags:   []int{401},
	}
	want := []int{306, 318, 401}
	if got := u.TagIDs(); !reflect.DeepEqual(got, want) {
		t.Errorf("TagIDs() = %v, want %v", got, want)
	}
}
