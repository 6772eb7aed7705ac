package market

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseOutcomes decodes a JSON-encoded outcome list such as ["Yes", "No"].
//
// Text that does not decode is treated as a single outcome; the decode error
// is returned alongside so callers can log it.
func ParseOutcomes(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var outcomes []string
	if err := json.Unmarshal([]byte(raw), &outcomes); err != nil {
		return []string{raw}, fmt.Errorf("parse outcomes: %w", err)
	}
	return outcomes, nil
}
