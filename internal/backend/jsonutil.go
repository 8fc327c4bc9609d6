package backend

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON strips markdown fences and surrounding prose from an LLM
// answer and returns the outermost JSON object or array.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return s
	}
	return s[start : end+1]
}

// DecodeJSON decodes an LLM answer into v.
func DecodeJSON(answer string, v interface{}) error {
	if err := json.Unmarshal([]byte(ExtractJSON(answer)), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
