package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// decodeJSON parses an LLM response into out, tolerating markdown code
// fences around the JSON. LLM output is untrusted: anything that does
// not decode into the expected schema is an error, never a panic.
func decodeJSON(response string, out any) error {
	cleaned := stripFences(response)
	if cleaned == "" {
		return fmt.Errorf("empty LLM response")
	}

	dec := json.NewDecoder(strings.NewReader(cleaned))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("LLM response is not valid JSON: %w", err)
	}
	return nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if i := strings.Index(s, "\n"); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	// Some models prepend prose; cut to the first brace or bracket.
	if i := strings.IndexAny(s, "{["); i > 0 {
		s = s[i:]
	}
	return strings.TrimSpace(s)
}
