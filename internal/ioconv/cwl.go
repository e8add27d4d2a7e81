package ioconv

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/me/weaver/pkg/cwl"
	"github.com/me/weaver/pkg/model"
)

// Annotations carrying cardinality that CWL types cannot express.
const (
	annotationMinOccurs = "weaver:minOccurs"
	annotationMaxOccurs = "weaver:maxOccurs"
)

// cwlType is a CWL type reduced to one base type and a cardinality.
type cwlType struct {
	base    string
	symbols []any
	min     int
	max     int
}

func (t cwlType) sameBase(o cwlType) bool {
	return t.base == o.base && reflect.DeepEqual(t.symbols, o.symbols)
}

// parseCWLType resolves the shorthand, object, union and enum forms of a
// CWL type. Unions of more than one base type are rejected.
func parseCWLType(id string, t any) (cwlType, error) {
	switch v := t.(type) {
	case string:
		s := v
		info := cwlType{min: 1, max: 1}
		if strings.HasSuffix(s, "?") {
			info.min = 0
			s = strings.TrimSuffix(s, "?")
		}
		if strings.HasSuffix(s, "[]") {
			info.max = model.Unbounded
			s = strings.TrimSuffix(s, "[]")
		}
		if s == "enum" {
			s = "string"
		}
		info.base = s
		return info, nil

	case map[string]any:
		switch inner := v["type"].(type) {
		case string:
			switch inner {
			case "array":
				items, err := parseCWLType(id, v["items"])
				if err != nil {
					return cwlType{}, err
				}
				if items.max != 1 {
					return cwlType{}, &model.PackageTypeError{IO: id, Reason: "nested arrays are not supported"}
				}
				return cwlType{base: items.base, symbols: items.symbols, min: 1, max: model.Unbounded}, nil
			case "enum":
				raw, _ := v["symbols"].([]any)
				symbols := make([]any, 0, len(raw))
				for _, s := range raw {
					if str, ok := s.(string); ok {
						symbols = append(symbols, cwl.ShortID(str))
					} else {
						symbols = append(symbols, s)
					}
				}
				return cwlType{base: "string", symbols: symbols, min: 1, max: 1}, nil
			case "record":
				return cwlType{}, &model.PackageTypeError{IO: id, Reason: "record types are not supported"}
			default:
				return parseCWLType(id, inner)
			}
		case []any:
			return parseCWLType(id, inner)
		}
		return cwlType{}, &model.PackageTypeError{IO: id, Reason: fmt.Sprintf("unsupported type object %v", v)}

	case []any:
		var nonNull []any
		for _, item := range v {
			if item != "null" {
				nonNull = append(nonNull, item)
			}
		}
		optional := len(nonNull) < len(v)
		var info cwlType
		switch len(nonNull) {
		case 0:
			return cwlType{}, &model.PackageTypeError{IO: id, Reason: "type union has no base type"}
		case 1:
			parsed, err := parseCWLType(id, nonNull[0])
			if err != nil {
				return cwlType{}, err
			}
			info = parsed
		case 2:
			a, err := parseCWLType(id, nonNull[0])
			if err != nil {
				return cwlType{}, err
			}
			b, err := parseCWLType(id, nonNull[1])
			if err != nil {
				return cwlType{}, err
			}
			// [T, T[]] is the single-or-array form, not a multi-type union.
			if !a.sameBase(b) || (a.max == 1) == (b.max == 1) {
				return cwlType{}, &model.PackageTypeError{IO: id, Reason: "multiple base types in union are not supported"}
			}
			info = a
			info.max = model.Unbounded
		default:
			return cwlType{}, &model.PackageTypeError{IO: id, Reason: "multiple base types in union are not supported"}
		}
		if optional {
			info.min = 0
		}
		return info, nil
	}
	return cwlType{}, &model.PackageTypeError{IO: id, Reason: fmt.Sprintf("unsupported type %v", t)}
}

// literalDataType maps a CWL base type to the canonical literal data type.
func literalDataType(base string) (string, bool) {
	switch base {
	case "string", "Any":
		return model.DataTypeString, true
	case "int", "long":
		return model.DataTypeInteger, true
	case "float", "double":
		return model.DataTypeFloat, true
	case "boolean":
		return model.DataTypeBoolean, true
	}
	return model.DataTypeString, false
}

func cwlLiteralType(dataType string) string {
	switch dataType {
	case model.DataTypeInteger:
		return "int"
	case model.DataTypeFloat:
		return "float"
	case model.DataTypeBoolean:
		return "boolean"
	}
	return "string"
}

// CWLToCanonical converts a CWL input or output parameter (as returned by
// cwl.Document.Inputs/Outputs) to its canonical form.
func (c *Converter) CWLToCanonical(param map[string]any, dir Direction) (model.ProcessIO, error) {
	id, _ := param["id"].(string)
	id = cwl.ShortID(id)
	if id == "" {
		return model.ProcessIO{}, &model.PackageTypeError{Reason: fmt.Sprintf("%s without id", dir)}
	}

	t, err := parseCWLType(id, param["type"])
	if err != nil {
		return model.ProcessIO{}, err
	}
	io := model.ProcessIO{ID: id, MinOccurs: t.min, MaxOccurs: t.max}
	if dir == Input {
		if _, hasDefault := param["default"]; hasDefault {
			io.MinOccurs = 0
		}
	}
	if n, ok := intValue(param[annotationMinOccurs]); ok {
		io.MinOccurs = n
	}
	if n, ok := intValue(param[annotationMaxOccurs]); ok && io.MaxOccurs == model.Unbounded {
		io.MaxOccurs = n
	}
	io.Title, _ = param["label"].(string)
	io.Abstract = docString(param["doc"])

	switch t.base {
	case "File", "Directory", "stdout", "stderr":
		io.Kind = model.IOComplex
		io.Complex = &model.ComplexData{Formats: c.cwlFormats(id, param["format"], t.base)}
	default:
		dataType, known := literalDataType(t.base)
		if !known {
			c.logger.Warn("unknown literal type, using string", "io", id, "type", t.base)
		}
		io.Kind = model.IOLiteral
		io.Literal = &model.LiteralData{
			DataType:      dataType,
			AllowedValues: t.symbols,
			AnyValue:      len(t.symbols) == 0,
		}
		if def, ok := param["default"]; ok && dir == Input {
			io.Literal.Default = def
		}
	}
	return io, nil
}

func (c *Converter) cwlFormats(id string, raw any, base string) []model.Format {
	var refs []string
	switch f := raw.(type) {
	case string:
		refs = []string{f}
	case []any:
		for _, item := range f {
			if s, ok := item.(string); ok {
				refs = append(refs, s)
			}
		}
	}

	var formats []model.Format
	for _, ref := range refs {
		mt := MediaTypeForFormat(ref)
		if mt == "" {
			c.logger.Debug("unmapped cwl format", "io", id, "format", ref)
			formats = append(formats, model.Format{MediaType: model.DefaultMediaType, Schema: ref})
			continue
		}
		formats = append(formats, model.Format{MediaType: mt})
	}
	if len(formats) == 0 {
		mt := model.DefaultMediaType
		if base == "Directory" {
			mt = "application/directory"
		}
		formats = []model.Format{{MediaType: mt}}
	}
	formats[0].Default = true
	return formats
}

// CanonicalToCWL converts a canonical I/O to a CWL parameter. The null
// variant is emitted only when MinOccurs is 0 and the array variant only
// when MaxOccurs is above 1 or unbounded. Outputs get a single glob since
// CWL binds one pattern per output.
func (c *Converter) CanonicalToCWL(io model.ProcessIO, dir Direction) (map[string]any, error) {
	var base any
	switch io.Kind {
	case model.IOLiteral:
		lit := io.Literal
		if lit == nil {
			lit = &model.LiteralData{DataType: model.DataTypeString}
		}
		base = cwlLiteralType(lit.DataType)
		if len(lit.AllowedValues) > 0 {
			if allStrings(lit.AllowedValues) {
				base = map[string]any{"type": "enum", "symbols": append([]any(nil), lit.AllowedValues...)}
			} else {
				c.logger.Warn("non-string allowed values cannot be expressed in CWL, dropped", "io", io.ID)
			}
		}
		if len(lit.AllowedRanges) > 0 {
			c.logger.Debug("allowed ranges cannot be expressed in CWL, dropped", "io", io.ID)
		}
	case model.IOComplex, model.IOBBox:
		base = "File"
	default:
		return nil, &model.PackageTypeError{IO: io.ID, Reason: fmt.Sprintf("unknown I/O kind %q", io.Kind)}
	}

	var typ any = base
	if io.IsArray() {
		arr := map[string]any{"type": "array", "items": base}
		if dir == Input {
			typ = []any{base, arr}
		} else {
			typ = arr
		}
	}
	if io.MinOccurs == 0 {
		if list, ok := typ.([]any); ok {
			typ = append([]any{"null"}, list...)
		} else {
			typ = []any{"null", typ}
		}
	}

	param := map[string]any{"id": io.ID, "type": typ}
	if io.Title != "" {
		param["label"] = io.Title
	}
	if io.Abstract != "" {
		param["doc"] = io.Abstract
	}
	if io.IsArray() && io.MaxOccurs != model.Unbounded {
		param[annotationMaxOccurs] = io.MaxOccurs
	}
	if io.MinOccurs > 1 {
		param[annotationMinOccurs] = io.MinOccurs
	}

	switch io.Kind {
	case model.IOLiteral:
		if dir == Input && io.Literal != nil && io.Literal.Default != nil {
			param["default"] = io.Literal.Default
		}
	case model.IOComplex:
		c.setCWLFormat(param, io, dir)
	case model.IOBBox:
		param["format"] = "iana:application/json"
		if dir == Output {
			param["outputBinding"] = map[string]any{"glob": io.ID + ".json"}
		}
	}
	return param, nil
}

func (c *Converter) setCWLFormat(param map[string]any, io model.ProcessIO, dir Direction) {
	if dir == Output {
		def := io.Complex.DefaultFormat()
		format, ext := FormatForMediaType(def.MediaType)
		if def.Schema != "" && MediaTypeForFormat(def.Schema) == "" && strings.Contains(def.Schema, ":") {
			format = def.Schema
		}
		if format != "" {
			param["format"] = format
		}
		if io.Complex != nil && len(io.Complex.Formats) > 1 {
			c.logger.Debug("output supports several formats, using the default one for the glob",
				"io", io.ID, "media_type", def.MediaType)
		}
		param["outputBinding"] = map[string]any{"glob": "*" + ext}
		return
	}

	if io.Complex == nil {
		return
	}
	var formats []any
	seen := make(map[string]bool)
	for _, f := range io.Complex.Formats {
		format, _ := FormatForMediaType(f.MediaType)
		if format == "" || seen[format] {
			continue
		}
		seen[format] = true
		formats = append(formats, format)
	}
	switch len(formats) {
	case 0:
	case 1:
		param["format"] = formats[0]
	default:
		param["format"] = formats
	}
}

// PackageIO derives the canonical inputs and outputs of a CWL package.
func (c *Converter) PackageIO(doc cwl.Document) (inputs, outputs []model.ProcessIO, err error) {
	main := doc.Main()
	for _, p := range main.Inputs() {
		io, err := c.CWLToCanonical(p, Input)
		if err != nil {
			return nil, nil, err
		}
		inputs = append(inputs, io)
	}
	for _, p := range main.Outputs() {
		io, err := c.CWLToCanonical(p, Output)
		if err != nil {
			return nil, nil, err
		}
		outputs = append(outputs, io)
	}
	return inputs, outputs, nil
}

func allStrings(values []any) bool {
	for _, v := range values {
		if _, ok := v.(string); !ok {
			return false
		}
	}
	return true
}

func docString(v any) string {
	switch d := v.(type) {
	case string:
		return d
	case []any:
		parts := make([]string, 0, len(d))
		for _, item := range d {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		if n == "unbounded" {
			return model.Unbounded, true
		}
		var i int
		if _, err := fmt.Sscanf(n, "%d", &i); err == nil {
			return i, true
		}
	}
	return 0, false
}
