package proposal

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

var errNoStructuredContent = errors.New("no structured content in model output")

// parseStructured extracts a JSON object from model output. Strict decoding
// is tried first; otherwise the outermost {...} span is located, which also
// covers fenced code blocks and surrounding prose.
func parseStructured(text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errNoStructuredContent
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(text), &data); err == nil {
		return data, nil
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, errNoStructuredContent
	}
	candidate := text[start : end+1]
	if !gjson.Valid(candidate) {
		return nil, errNoStructuredContent
	}
	obj, ok := gjson.Parse(candidate).Value().(map[string]any)
	if !ok {
		return nil, errNoStructuredContent
	}
	return obj, nil
}

// summaryOf returns a short text rendering of a structured result.
func summaryOf(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	for _, path := range []string{"summary", "text", "overview"} {
		if v := gjson.GetBytes(raw, path); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return string(raw)
}
