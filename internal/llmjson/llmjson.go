// Package llmjson extracts JSON payloads from free-form model output.
package llmjson

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// Clean strips markdown fences and surrounding prose, returning the text
// between the first '{' and the last '}'.
func Clean(text string) string {
	text = strings.TrimSpace(text)

	for _, fence := range []string{"```json", "```JSON", "```"} {
		if strings.HasPrefix(text, fence) {
			text = strings.TrimPrefix(text, fence)
			if idx := strings.LastIndex(text, "```"); idx >= 0 {
				text = text[:idx]
			}
			break
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// Decode cleans text and unmarshals the object into v.
func Decode(text string, v any) error {
	cleaned := Clean(text)
	if !strings.HasPrefix(cleaned, "{") {
		return eris.New("llmjson: no JSON object in response")
	}
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return eris.Wrap(err, "llmjson: decode")
	}
	return nil
}
