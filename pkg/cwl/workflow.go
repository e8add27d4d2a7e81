package cwl

import (
	"fmt"
	"sort"
	"strings"
)

// Step is a CWL workflow step.
type Step struct {
	ID            string
	Run           any // process reference (string) or inline Document
	In            []StepInput
	Out           []string
	Scatter       []string
	ScatterMethod string
}

// StepInput is a normalized CWL step input.
// Handles both shorthand ("message: msg") and expanded form.
type StepInput struct {
	ID        string
	Sources   []string
	Default   any
	ValueFrom string

	// Merge is set when the source is written as a list: the step then
	// receives a list even for a single source. LinkMerge is the declared
	// merge method (merge_nested by default).
	Merge     bool
	LinkMerge string
}

// RunID returns the process identifier referenced by the step, or "" for
// inline packages. "echo.cwl", "#echo" and "https://host/processes/echo"
// all yield "echo".
func (s Step) RunID() string {
	ref, ok := s.Run.(string)
	if !ok {
		return ""
	}
	ref = strings.TrimPrefix(ref, "#")
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		ref = ref[i+1:]
	}
	return strings.TrimSuffix(ref, ".cwl")
}

// RunDocument returns the inline package of the step, if any.
func (s Step) RunDocument() (Document, bool) {
	switch r := s.Run.(type) {
	case map[string]any:
		return Document(r), true
	case Document:
		return r, true
	}
	return nil, false
}

// WorkflowSteps returns the steps of a Workflow document sorted by id.
func (d Document) WorkflowSteps() ([]Step, error) {
	raw, ok := d["steps"]
	if !ok {
		return nil, nil
	}
	var entries []map[string]any
	switch s := raw.(type) {
	case []any:
		for _, item := range s {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("step entry is not a mapping")
			}
			entries = append(entries, m)
		}
	case map[string]any:
		for id, item := range s {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("step %q is not a mapping", id)
			}
			cp := copyMap(m)
			cp["id"] = id
			entries = append(entries, cp)
		}
	default:
		return nil, fmt.Errorf("steps must be a list or a mapping")
	}

	steps := make([]Step, 0, len(entries))
	for _, m := range entries {
		st, err := parseStep(m)
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].ID < steps[j].ID })
	return steps, nil
}

func parseStep(m map[string]any) (Step, error) {
	id, _ := m["id"].(string)
	id = ShortID(id)
	if id == "" {
		return Step{}, fmt.Errorf("step without id")
	}
	st := Step{ID: id, Run: m["run"]}
	if st.Run == nil {
		return Step{}, fmt.Errorf("step %q: missing run", id)
	}

	switch in := m["in"].(type) {
	case map[string]any:
		keys := make([]string, 0, len(in))
		for k := range in {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			st.In = append(st.In, parseStepInput(k, in[k]))
		}
	case []any:
		for _, item := range in {
			em, ok := item.(map[string]any)
			if !ok {
				continue
			}
			inID, _ := em["id"].(string)
			st.In = append(st.In, parseStepInput(ShortID(inID), em))
		}
	}

	switch out := m["out"].(type) {
	case []any:
		for _, o := range out {
			switch ov := o.(type) {
			case string:
				st.Out = append(st.Out, ShortID(ov))
			case map[string]any:
				if oid, ok := ov["id"].(string); ok {
					st.Out = append(st.Out, ShortID(oid))
				}
			}
		}
	}

	st.Scatter = stringList(m["scatter"])
	for i := range st.Scatter {
		st.Scatter[i] = ShortID(st.Scatter[i])
	}
	st.ScatterMethod, _ = m["scatterMethod"].(string)
	return st, nil
}

func parseStepInput(id string, v any) StepInput {
	si := StepInput{ID: id}
	switch val := v.(type) {
	case string:
		si.Sources = []string{trimSource(val)}
	case []any:
		for _, s := range stringList(val) {
			si.Sources = append(si.Sources, trimSource(s))
		}
		si.Merge = true
	case map[string]any:
		for _, s := range stringList(val["source"]) {
			si.Sources = append(si.Sources, trimSource(s))
		}
		_, si.Merge = val["source"].([]any)
		si.LinkMerge, _ = val["linkMerge"].(string)
		si.Default = val["default"]
		si.ValueFrom, _ = val["valueFrom"].(string)
	}
	return si
}

func trimSource(s string) string {
	return strings.TrimPrefix(s, "#")
}

func stringList(v any) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return val
	}
	return nil
}

// OutputSources maps each workflow output id to its outputSource list.
func (d Document) OutputSources() map[string][]string {
	out := make(map[string][]string)
	for _, o := range d.Outputs() {
		id, _ := o["id"].(string)
		for _, s := range stringList(o["outputSource"]) {
			out[id] = append(out[id], trimSource(s))
		}
	}
	return out
}
