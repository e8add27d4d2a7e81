package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/me/weaver/internal/ioconv"
	"github.com/me/weaver/pkg/cwl"
	"github.com/me/weaver/pkg/model"
)

// maxSecretFileSize bounds the size of a secret output file whose content
// is registered for redaction.
const maxSecretFileSize = 64 << 10

// flattenOutputs moves every produced file found in a sub-directory of dir
// up into dir itself, so that the next step receives the staged path
// rather than the path relative to the execution's working directory.
func flattenOutputs(dir string, outputs map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(outputs))
	taken := make(map[string]bool)
	for _, id := range sortedKeys(outputs) {
		v, err := flattenValue(dir, outputs[id], taken)
		if err != nil {
			return nil, fmt.Errorf("stage output %s: %w", id, err)
		}
		out[id] = v
	}
	return out, nil
}

func flattenValue(dir string, v any, taken map[string]bool) (any, error) {
	if list, ok := v.([]any); ok {
		out := make([]any, 0, len(list))
		for _, item := range list {
			flat, err := flattenValue(dir, item, taken)
			if err != nil {
				return nil, err
			}
			out = append(out, flat)
		}
		return out, nil
	}
	f, ok := cwl.AsFile(v)
	if !ok || f.Path == "" {
		return v, nil
	}
	dir = filepath.Clean(dir)
	rel, err := filepath.Rel(dir, f.Path)
	if err != nil || strings.HasPrefix(rel, "..") || filepath.Dir(rel) == "." {
		return v, nil
	}

	name := filepath.Base(f.Path)
	dest := filepath.Join(dir, name)
	for i := 1; taken[dest] || fileExists(dest); i++ {
		ext := filepath.Ext(name)
		dest = filepath.Join(dir, fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), i, ext))
	}
	if err := os.Rename(f.Path, dest); err != nil {
		return nil, err
	}
	taken[dest] = true

	staged := cwl.FileFromPath(dest, f.Format).Map()
	if m, ok := v.(map[string]any); ok {
		for _, k := range []string{"checksum", "size", "secondaryFiles"} {
			if val, ok := m[k]; ok {
				staged[k] = val
			}
		}
	}
	return staged, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// walkFiles calls fn for every CWL File held by v.
func walkFiles(v any, fn func(cwl.File)) {
	switch val := v.(type) {
	case map[string]any:
		if f, ok := cwl.AsFile(val); ok {
			fn(f)
			return
		}
		for _, item := range val {
			walkFiles(item, fn)
		}
	case []any:
		for _, item := range val {
			walkFiles(item, fn)
		}
	}
}

// registerSecretOutputs adds the values of outputs the package flags as
// secret to the job redactor. Files are registered by content.
func (r *jobRun) registerSecretOutputs(doc cwl.Document, outputs map[string]any) {
	for _, id := range doc.Secrets() {
		v, ok := outputs[id]
		if !ok {
			continue
		}
		if s, ok := scalarString(v); ok {
			r.redactor.Add(s)
			continue
		}
		walkFiles(v, func(f cwl.File) {
			info, err := os.Stat(f.Path)
			if err != nil || info.Size() > maxSecretFileSize {
				return
			}
			if data, err := os.ReadFile(f.Path); err == nil {
				r.redactor.Add(strings.TrimSpace(string(data)))
			}
		})
	}
}

// cwlInputs converts execute inputs to CWL job values: references become
// File objects and qualified literals their bare value.
func cwlInputs(p *model.Process, inputs map[string]any) map[string]any {
	out := make(map[string]any, len(inputs))
	for id, v := range inputs {
		io := p.Input(id)
		val := cwlValue(io, v)
		if io != nil && io.IsArray() {
			if _, isList := val.([]any); !isList && val != nil {
				val = []any{val}
			}
		}
		out[id] = val
	}
	return out
}

func cwlValue(io *model.ProcessIO, v any) any {
	switch val := v.(type) {
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			out = append(out, cwlValue(io, item))
		}
		return out
	case map[string]any:
		if _, ok := val["class"]; ok {
			return val
		}
		if href, ok := val["href"].(string); ok {
			return referenceFile(io, href, referenceMediaType(val))
		}
		if inner, ok := val["value"]; ok {
			return cwlValue(io, inner)
		}
		return val
	case string:
		if io != nil && io.Kind == model.IOComplex && looksLikeReference(val) {
			return referenceFile(io, val, "")
		}
	}
	return v
}

func referenceMediaType(m map[string]any) string {
	if t, ok := m["type"].(string); ok {
		return t
	}
	switch f := m["format"].(type) {
	case map[string]any:
		mt, _ := f["mediaType"].(string)
		return mt
	case string:
		return f
	}
	return ""
}

func referenceFile(io *model.ProcessIO, href, mediaType string) map[string]any {
	if mediaType == "" && io != nil && io.Complex != nil {
		mediaType = io.Complex.DefaultFormat().MediaType
	}
	f := cwl.File{Location: href}
	if mediaType != "" {
		f.Format, _ = ioconv.FormatForMediaType(mediaType)
	}
	if p, ok := cwl.LocalPath(href); ok {
		f.Path = p
	}
	_, loc := cwl.ParseLocationScheme(href)
	f.Basename = filepath.Base(loc)
	return f.Map()
}

func looksLikeReference(s string) bool {
	scheme, _ := cwl.ParseLocationScheme(s)
	return scheme != "" || filepath.IsAbs(s)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
