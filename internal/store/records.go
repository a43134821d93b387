package store

import (
	"encoding/json"
	"fmt"

	"github.com/wolfman30/patient-capture/internal/patient"
)

var listKeys = []string{"patients", "data", "items", "results"}

// DecodeRecords parses a patient log. Besides the array the monitor writes it
// accepts an object wrapping the array under a common key and a single
// patient object. Every entry goes through the normalizer, so older logs with
// camelCase keys load too.
func DecodeRecords(raw []byte, n *patient.Normalizer) ([]patient.Record, error) {
	if n == nil {
		n = patient.NewNormalizer()
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("store: decode patient log: %w", err)
	}

	var items []any
	switch v := doc.(type) {
	case []any:
		items = v
	case map[string]any:
		for _, k := range listKeys {
			if list, ok := v[k].([]any); ok {
				items = list
				break
			}
		}
		if items == nil {
			items = []any{v}
		}
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("store: decode patient log: unexpected %T", doc)
	}

	out := make([]patient.Record, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, n.Normalize(m))
	}
	return out, nil
}
