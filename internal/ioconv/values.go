package ioconv

import (
	"fmt"
	"sort"
)

// ValueSchema names a representation of execute input values.
type ValueSchema string

const (
	// SchemaOld is the flat listing [{"id": ..., "value"|"href": ...}],
	// with one entry per array item.
	SchemaOld ValueSchema = "old"
	// SchemaOGC is the OGC API mapping {id: value | {"href": ...} | [...]}.
	SchemaOGC ValueSchema = "ogc"
)

// ConvertInputValues converts execute input values to the given schema.
// Values already in that schema are returned normalized.
//
// One conversion is knowingly lossy: an OGC array of references carrying a
// shared type on the array itself ({"href": [...], "type": T}) expands to
// one old-style entry per reference, and converting those back produces a
// plain array of individually typed references, not the shared form.
func ConvertInputValues(values any, to ValueSchema) (any, error) {
	switch to {
	case SchemaOld:
		switch v := values.(type) {
		case []any:
			return v, nil
		case []map[string]any:
			out := make([]any, len(v))
			for i, m := range v {
				out[i] = m
			}
			return out, nil
		case map[string]any:
			return ogcToOld(v), nil
		case nil:
			return []any{}, nil
		}
	case SchemaOGC:
		switch v := values.(type) {
		case map[string]any:
			return v, nil
		case []map[string]any:
			list := make([]any, len(v))
			for i, m := range v {
				list[i] = m
			}
			return oldToOGC(list)
		case []any:
			return oldToOGC(v)
		case nil:
			return map[string]any{}, nil
		}
	default:
		return nil, fmt.Errorf("unknown input value schema %q", to)
	}
	return nil, fmt.Errorf("cannot convert input values of type %T", values)
}

func ogcToOld(values map[string]any) []any {
	ids := make([]string, 0, len(values))
	for id := range values {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []any
	for _, id := range ids {
		for _, item := range expandOGCValue(values[id]) {
			entry := map[string]any{"id": id}
			if m, ok := item.(map[string]any); ok && (m["href"] != nil || m["value"] != nil) {
				for k, v := range m {
					entry[k] = v
				}
			} else {
				entry["value"] = item
			}
			out = append(out, entry)
		}
	}
	return out
}

// expandOGCValue splits one OGC input value into its items.
func expandOGCValue(v any) []any {
	switch val := v.(type) {
	case []any:
		return val
	case map[string]any:
		hrefs, ok := val["href"].([]any)
		if !ok {
			return []any{val}
		}
		items := make([]any, 0, len(hrefs))
		for _, h := range hrefs {
			item := map[string]any{"href": h}
			for k, shared := range val {
				if k != "href" {
					item[k] = shared
				}
			}
			items = append(items, item)
		}
		return items
	}
	return []any{v}
}

func oldToOGC(entries []any) (map[string]any, error) {
	grouped := make(map[string][]any)
	var order []string
	for i, raw := range entries {
		entry, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("input %d is not an object", i)
		}
		id, _ := entry["id"].(string)
		if id == "" {
			return nil, fmt.Errorf("input %d has no id", i)
		}
		if _, seen := grouped[id]; !seen {
			order = append(order, id)
		}

		var value any
		if _, isRef := entry["href"]; isRef {
			ref := make(map[string]any, len(entry)-1)
			for k, v := range entry {
				if k != "id" {
					ref[k] = v
				}
			}
			value = ref
		} else {
			value = entry["value"]
		}
		grouped[id] = append(grouped[id], value)
	}

	out := make(map[string]any, len(grouped))
	for _, id := range order {
		if items := grouped[id]; len(items) == 1 {
			out[id] = items[0]
		} else {
			out[id] = items
		}
	}
	return out, nil
}
