package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseFields extracts the single JSON object from model output.
// Markdown fences are stripped first; the object is located by its
// brace boundaries so trailing chatter does not break parsing.
func parseFields(text string) (*Fields, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return nil, fmt.Errorf("no JSON object in response")
	}
	end := strings.LastIndex(text, "}")
	if end == -1 || end < start {
		return nil, fmt.Errorf("unbalanced JSON object in response")
	}
	text = text[start : end+1]

	var fields Fields
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return nil, fmt.Errorf("unmarshaling fields: %w", err)
	}

	fields.Merchant = strings.TrimSpace(fields.Merchant)
	if fields.Merchant == "" {
		fields.Merchant = "Unknown"
	}
	return &fields, nil
}
