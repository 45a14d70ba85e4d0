package agents

import (
	"encoding/json"
	"strings"
)

// extractJSON pulls the first JSON object or array out of model output,
// tolerating markdown fences and surrounding prose.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)

	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		rest = strings.TrimPrefix(rest, "JSON")
		if j := strings.Index(rest, "```"); j >= 0 {
			s = strings.TrimSpace(rest[:j])
		} else {
			s = strings.TrimSpace(rest)
		}
	}

	objStart := strings.Index(s, "{")
	arrStart := strings.Index(s, "[")
	start := objStart
	end := strings.LastIndex(s, "}")
	if arrStart >= 0 && (objStart < 0 || arrStart < objStart) {
		start = arrStart
		end = strings.LastIndex(s, "]")
	}
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

// decodeJSON is extractJSON + unmarshal in one step.
func decodeJSON(s string, out any) error {
	return json.Unmarshal([]byte(extractJSON(s)), out)
}
