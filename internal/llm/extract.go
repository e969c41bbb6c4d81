package llm

import (
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
)

// RawTextKey is the single key of the wrapper ExtractJSON returns when no
// JSON value can be recovered.
const RawTextKey = "raw_text"

var fencePattern = regexp.MustCompile("(?i)```(?:json)?\\s*")

// ExtractJSON recovers a JSON value from model output. It tries, in order:
// the fence-stripped text, the widest [...] span, the widest {...} span.
// It never fails.
func ExtractJSON(raw string) any {
	cleaned := strings.TrimSpace(fencePattern.ReplaceAllString(raw, ""))

	var value any
	if err := json.Unmarshal([]byte(cleaned), &value); err == nil {
		return value
	}
	if value, ok := parseSpan(cleaned, "[", "]"); ok {
		return value
	}
	if value, ok := parseSpan(cleaned, "{", "}"); ok {
		return value
	}

	log.Printf("[LLM] JSON抽出失敗、生テキストを返します (%d文字)", len(cleaned))
	return map[string]any{RawTextKey: cleaned}
}

// parseSpan parses the substring from the first left to the last right.
func parseSpan(s, left, right string) (any, bool) {
	start := strings.Index(s, left)
	if start == -1 {
		return nil, false
	}
	end := strings.LastIndex(s, right)
	if end < start {
		return nil, false
	}

	var value any
	if err := json.Unmarshal([]byte(s[start:end+1]), &value); err != nil {
		return nil, false
	}
	return value, true
}

// IsRawText reports whether v is the ExtractJSON fallback wrapper.
func IsRawText(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return "", false
	}
	raw, ok := m[RawTextKey].(string)
	return raw, ok
}

// Decode converts a generically decoded value into out.
func Decode(v any, out any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("re-encode: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode into %T: %w", out, err)
	}
	return nil
}

// DecodeList decodes a list response into out (a pointer to a slice).
// Models sometimes wrap the array in an object, so the first array found
// under one of keys is accepted too. A raw_text wrapper or an object without
// such a key leaves out untouched.
func DecodeList(v any, out any, keys ...string) error {
	switch t := v.(type) {
	case []any:
		return Decode(t, out)
	case map[string]any:
		for _, key := range keys {
			if list, ok := t[key].([]any); ok {
				return Decode(list, out)
			}
		}
		return nil
	default:
		return nil
	}
}
