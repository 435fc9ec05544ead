package enrich

import (
	"encoding/json"
	"strings"
)

// parseLooseJSON extracts a JSON object from model output that may be
// wrapped in markdown fences or prose. Returns nil when no object parses;
// callers then fall back to the raw text.
func parseLooseJSON(s string) map[string]any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	// Strip ```json ... ``` fences.
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(s[start:end+1]), &parsed); err != nil {
		return nil
	}
	return parsed
}

// StringValue pulls a string field out of parsed provider output.
func StringValue(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// StringList pulls a list of strings out of parsed provider output,
// tolerating both []string and []any shapes.
func StringList(m map[string]any, key string) []string {
	if m == nil {
		return nil
	}
	switch v := m[key].(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return []string{s}
		}
		return nil
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	}
	return nil
}
