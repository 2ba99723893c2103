package tracking

import (
	"encoding/json"
	"fmt"
	"sort"
)

// FlattenParams turns a nested document into dotted parameter keys. Lists
// are kept as their JSON encoding.
func FlattenParams(doc map[string]any) (map[string]string, error) {
	out := make(map[string]string)
	if err := flatten("", doc, out); err != nil {
		return nil, err
	}
	return out, nil
}

func flatten(prefix string, v any, out map[string]string) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if err := flatten(key, t[k], out); err != nil {
				return err
			}
		}
		return nil
	case []any:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("param %s: %w", prefix, err)
		}
		out[prefix] = string(raw)
	case nil:
		out[prefix] = "null"
	case string:
		out[prefix] = t
	default:
		out[prefix] = fmt.Sprint(t)
	}
	return nil
}
