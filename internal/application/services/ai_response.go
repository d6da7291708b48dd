package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/smartqrhealth/backend/internal/domain/entities"
)

// rawParameter accepts numeric or string values as the model emits both.
type rawParameter struct {
	Name        string          `json:"name"`
	Value       json.RawMessage `json:"value"`
	Unit        string          `json:"unit"`
	NormalRange string          `json:"normalRange"`
	Status      string          `json:"status"`
}

func stripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// decodeJSONObject decodes model output that must be exactly one JSON object.
func decodeJSONObject(content string, out interface{}) ([]byte, error) {
	body := []byte(stripCodeFences(content))
	if len(body) == 0 || body[0] != '{' {
		return nil, fmt.Errorf("model response is not a JSON object")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(out); err != nil {
		return nil, fmt.Errorf("failed to parse model response: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("model response has trailing content")
	}
	return body, nil
}

func parseParameters(raw []rawParameter) ([]entities.Parameter, error) {
	params := make([]entities.Parameter, 0, len(raw))
	for i, rp := range raw {
		name := strings.TrimSpace(rp.Name)
		if name == "" {
			return nil, fmt.Errorf("parameter %d has no name", i)
		}
		status := entities.ParameterStatus(strings.ToUpper(strings.TrimSpace(rp.Status)))
		if !status.Valid() {
			return nil, fmt.Errorf("parameter %q has invalid status %q", name, rp.Status)
		}
		params = append(params, entities.Parameter{
			Name:        name,
			Value:       parameterValue(rp.Value),
			Unit:        strings.TrimSpace(rp.Unit),
			NormalRange: strings.TrimSpace(rp.NormalRange),
			Status:      status,
		})
	}
	return params, nil
}

func parameterValue(raw json.RawMessage) string {
	v := strings.TrimSpace(string(raw))
	if v == "" || v == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return strings.TrimSpace(str)
	}
	return v
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// cleanProfileList drops blank entries and the "none" placeholder staff type in.
func cleanProfileList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || strings.EqualFold(item, "none") {
			continue
		}
		out = append(out, item)
	}
	return out
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
