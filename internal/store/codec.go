package store

import (
	"encoding/json"
	"fmt"
)

// Encode converts a JSON-tagged struct into document data.
func Encode(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}

	return data, nil
}

// Decode converts document data into a JSON-tagged struct.
func Decode(doc *Document, v any) error {
	if doc == nil {
		return ErrNotFound
	}

	raw, err := json.Marshal(doc.Data)
	if err != nil {
		return fmt.Errorf("failed to decode document %s: %w", doc.Path, err)
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode document %s: %w", doc.Path, err)
	}

	return nil
}

// CloneData deep-copies JSON-compatible document data.
func CloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneData(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}
