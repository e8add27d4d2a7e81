// Package cwl holds loosely typed helpers over CWL application packages.
// Packages are kept as raw maps so they can be stored and forwarded to
// remote providers unchanged.
package cwl

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document represents a raw CWL document (single or $graph packed).
type Document map[string]any

// Parse decodes a CWL document from YAML or JSON.
func Parse(data []byte) (Document, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse cwl: %w", err)
	}
	m, ok := normalize(raw).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parse cwl: document is not a mapping")
	}
	return Document(m), nil
}

// normalize converts yaml-decoded values to JSON-compatible ones so the
// document survives a round trip through encoding/json.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	}
	return v
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	data, err := json.Marshal(d)
	if err != nil {
		return Document(normalize(map[string]any(d)).(map[string]any))
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return Document(normalize(map[string]any(d)).(map[string]any))
	}
	return Document(out)
}

// Class returns the CWL class (Workflow, CommandLineTool, ExpressionTool).
func (d Document) Class() string {
	if v, ok := d["class"].(string); ok {
		return v
	}
	return ""
}

// ID returns the document's id field without any leading '#'.
func (d Document) ID() string {
	if v, ok := d["id"].(string); ok {
		return strings.TrimPrefix(v, "#")
	}
	return ""
}

// CWLVersion returns the cwlVersion field.
func (d Document) CWLVersion() string {
	if v, ok := d["cwlVersion"].(string); ok {
		return v
	}
	return ""
}

// IsWorkflow reports whether the document is a Workflow.
func (d Document) IsWorkflow() bool {
	return d.Class() == "Workflow"
}

// IsGraph returns true if this is a $graph packed document.
func (d Document) IsGraph() bool {
	_, ok := d["$graph"]
	return ok
}

// Graph returns the $graph entries if this is a packed document.
func (d Document) Graph() []Document {
	g, ok := d["$graph"].([]any)
	if !ok {
		return nil
	}
	var docs []Document
	for _, entry := range g {
		if m, ok := entry.(map[string]any); ok {
			docs = append(docs, Document(m))
		}
	}
	return docs
}

// Main returns the #main entry of a packed document, or d itself.
func (d Document) Main() Document {
	if !d.IsGraph() {
		return d
	}
	graph := d.Graph()
	for _, entry := range graph {
		if entry.ID() == "main" {
			return entry
		}
	}
	if len(graph) > 0 {
		return graph[0]
	}
	return d
}

// Requirement looks up a requirement or hint by class. Both the list form
// ([{class: X, ...}]) and the map form ({X: {...}}) are understood, and
// requirements take precedence over hints.
func (d Document) Requirement(class string) (map[string]any, bool) {
	for _, key := range []string{"requirements", "hints"} {
		if req, ok := findRequirement(d[key], class); ok {
			return req, true
		}
	}
	return nil, false
}

func findRequirement(v any, class string) (map[string]any, bool) {
	switch reqs := v.(type) {
	case []any:
		for _, r := range reqs {
			m, ok := r.(map[string]any)
			if ok && m["class"] == class {
				return m, true
			}
		}
	case map[string]any:
		if m, ok := reqs[class].(map[string]any); ok {
			out := make(map[string]any, len(m)+1)
			for k, v := range m {
				out[k] = v
			}
			out["class"] = class
			return out, true
		}
		if _, ok := reqs[class]; ok {
			return map[string]any{"class": class}, true
		}
	}
	return nil, false
}

// Inputs returns the document inputs as id-bearing maps in a stable order.
func (d Document) Inputs() []map[string]any {
	return params(d["inputs"])
}

// Outputs returns the document outputs as id-bearing maps in a stable order.
func (d Document) Outputs() []map[string]any {
	return params(d["outputs"])
}

// params normalises the list form and the map form (including the
// "id: Type" shorthand) of CWL input/output parameters.
func params(v any) []map[string]any {
	var out []map[string]any
	switch ps := v.(type) {
	case []any:
		for _, p := range ps {
			m, ok := p.(map[string]any)
			if !ok {
				continue
			}
			cp := copyMap(m)
			if id, ok := cp["id"].(string); ok {
				cp["id"] = ShortID(id)
			}
			out = append(out, cp)
		}
	case map[string]any:
		keys := make([]string, 0, len(ps))
		for k := range ps {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			var cp map[string]any
			switch p := ps[k].(type) {
			case map[string]any:
				cp = copyMap(p)
			default:
				cp = map[string]any{"type": p}
			}
			cp["id"] = k
			out = append(out, cp)
		}
	}
	return out
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ShortID strips '#', file prefixes and step scoping from a CWL id.
func ShortID(id string) string {
	id = strings.TrimPrefix(id, "#")
	if i := strings.LastIndex(id, "#"); i >= 0 {
		id = id[i+1:]
	}
	if i := strings.LastIndex(id, "/"); i >= 0 {
		id = id[i+1:]
	}
	return id
}

// Secrets returns the parameter ids listed by the SecretsRequirement
// (or its cwltool:Secrets spelling).
func (d Document) Secrets() []string {
	for _, class := range []string{"SecretsRequirement", "cwltool:Secrets", "Secrets"} {
		req, ok := d.Requirement(class)
		if !ok {
			continue
		}
		var ids []string
		if list, ok := req["secrets"].([]any); ok {
			for _, item := range list {
				if s, ok := item.(string); ok {
					ids = append(ids, ShortID(s))
				}
			}
		}
		return ids
	}
	return nil
}
